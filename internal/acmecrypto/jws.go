package acmecrypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// JWS is the serialised flattened JWS structure sent in every signed ACME
// request: {protected, payload, signature}, all base64url without padding.
type JWS struct {
	Protected string `json:"protected"`
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

func b64urlString(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}

type protectedJWK struct {
	Alg   string          `json:"alg"`
	JWK   json.RawMessage `json:"jwk"`
	Nonce string          `json:"nonce"`
	URL   string          `json:"url"`
}

type protectedKID struct {
	Alg   string `json:"alg"`
	KID   string `json:"kid"`
	Nonce string `json:"nonce"`
	URL   string `json:"url"`
}

// EncodeJWK produces a JWS signed with an embedded JWK, used for
// account-creation-style requests where no account URL (kid) yet exists.
func EncodeJWK(kp *KeyPair, alg SignatureAlgorithm, payload []byte, url, nonce string) (*JWS, error) {
	jwk := kp.JWKPublicKey(alg)
	jwkJSON, err := json.Marshal(&jwk)
	if err != nil {
		return nil, err
	}
	protected := protectedJWK{
		Alg:   joseSignatureAlgorithm(alg).String(),
		JWK:   jwkJSON,
		Nonce: nonce,
		URL:   url,
	}
	protectedJSON, err := json.Marshal(&protected)
	if err != nil {
		return nil, err
	}
	return signJWS(kp, alg, protectedJSON, payload)
}

// EncodeKID produces a JWS signed with the kid (key ID / account URL)
// header instead of an embedded JWK, used for all requests once an account
// exists.
func EncodeKID(kp *KeyPair, alg SignatureAlgorithm, kid string, payload []byte, url, nonce string) (*JWS, error) {
	protected := protectedKID{
		Alg:   joseSignatureAlgorithm(alg).String(),
		KID:   kid,
		Nonce: nonce,
		URL:   url,
	}
	protectedJSON, err := json.Marshal(&protected)
	if err != nil {
		return nil, err
	}
	return signJWS(kp, alg, protectedJSON, payload)
}

// EncodeKIDMAC produces an HMAC-signed JWS with no nonce, used for
// external-account-binding signatures embedded inside a new-account
// request (spec.md §4.1 and §4.7).
func EncodeKIDMAC(keyBytes []byte, h HashFunction, kid string, payload []byte, url string) (*JWS, error) {
	alg := "HS256"
	switch h {
	case SHA384:
		alg = "HS384"
	case SHA512:
		alg = "HS512"
	}
	protected := struct {
		Alg string `json:"alg"`
		KID string `json:"kid"`
		URL string `json:"url"`
	}{Alg: alg, KID: kid, URL: url}
	protectedJSON, err := json.Marshal(&protected)
	if err != nil {
		return nil, err
	}
	protectedB64 := b64urlString(protectedJSON)
	payloadB64 := b64urlString(payload)
	signingInput := protectedB64 + "." + payloadB64
	sig := h.HMAC(keyBytes, []byte(signingInput))
	return &JWS{
		Protected: protectedB64,
		Payload:   payloadB64,
		Signature: b64urlString(sig),
	}, nil
}

func signJWS(kp *KeyPair, alg SignatureAlgorithm, protectedJSON, payload []byte) (*JWS, error) {
	protectedB64 := b64urlString(protectedJSON)
	payloadB64 := b64urlString(payload)
	signingInput := protectedB64 + "." + payloadB64
	sig, err := kp.Sign(alg, []byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("signing JWS: %w", err)
	}
	return &JWS{
		Protected: protectedB64,
		Payload:   payloadB64,
		Signature: b64urlString(sig),
	}, nil
}

// MarshalJSON marshals the JWS to its ACME wire JSON form.
func (j *JWS) MarshalJSON() ([]byte, error) {
	type alias JWS
	return json.Marshal((*alias)(j))
}
