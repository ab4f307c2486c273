package acmecrypto

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"math/big"

	jose "github.com/go-jose/go-jose/v4"
)

// KeyPair wraps a crypto.Signer together with the KeyType it was
// generated/loaded as, mirroring the teacher's keys.go helpers but
// generalised to carry the type alongside the signer instead of doing
// runtime type switches at every call site.
type KeyPair struct {
	Type   KeyType
	Signer crypto.Signer
}

// GenerateKeyPair generates a fresh key pair of the given type.
func GenerateKeyPair(kt KeyType) (*KeyPair, error) {
	var signer crypto.Signer
	var err error
	switch kt {
	case EcdsaP256:
		signer, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	case EcdsaP384:
		signer, err = ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	case EcdsaP521:
		signer, err = ecdsa.GenerateKey(elliptic.P521(), rand.Reader)
	case Ed25519:
		_, priv, genErr := ed25519.GenerateKey(rand.Reader)
		signer, err = priv, genErr
	case Ed448:
		return nil, fmt.Errorf("ed448 key generation is not implemented yet")
	case Rsa2048:
		signer, err = rsa.GenerateKey(rand.Reader, 2048)
	case Rsa4096:
		signer, err = rsa.GenerateKey(rand.Reader, 4096)
	default:
		return nil, fmt.Errorf("%s: unknown key type", kt)
	}
	if err != nil {
		return nil, fmt.Errorf("unable to generate a %s key pair: %w", kt, err)
	}
	return &KeyPair{Type: kt, Signer: signer}, nil
}

// FromPEM loads a private key from its PKCS#8 PEM encoding, inferring the
// KeyType from the key's concrete Go type and parameters.
func FromPEM(pemBytes []byte) (*KeyPair, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("no PEM block found")
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("PEM key is not a signer")
	}
	kt, err := keyTypeOf(signer)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Type: kt, Signer: signer}, nil
}

func keyTypeOf(signer crypto.Signer) (KeyType, error) {
	switch k := signer.(type) {
	case *ecdsa.PrivateKey:
		switch k.Curve {
		case elliptic.P256():
			return EcdsaP256, nil
		case elliptic.P384():
			return EcdsaP384, nil
		case elliptic.P521():
			return EcdsaP521, nil
		default:
			return KeyTypeUnknown, fmt.Errorf("unsupported EC curve")
		}
	case ed25519.PrivateKey:
		return Ed25519, nil
	case *rsa.PrivateKey:
		switch k.N.BitLen() {
		case 2048:
			return Rsa2048, nil
		case 4096:
			return Rsa4096, nil
		default:
			return KeyTypeUnknown, fmt.Errorf("unsupported RSA key size %d", k.N.BitLen())
		}
	default:
		return KeyTypeUnknown, fmt.Errorf("unsupported key type %T", signer)
	}
}

// ToPEM returns the PKCS#8 PEM encoding of the private key.
func (kp *KeyPair) ToPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(kp.Signer)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// PublicKeyPEM returns the PEM encoding of the public key, used as the
// canonical input to the account key hash (spec.md §3).
func (kp *KeyPair) PublicKeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(kp.Signer.Public())
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// joseSignatureAlgorithm maps a SignatureAlgorithm to its go-jose constant.
func joseSignatureAlgorithm(alg SignatureAlgorithm) jose.SignatureAlgorithm {
	switch alg {
	case RS256:
		return jose.RS256
	case ES256:
		return jose.ES256
	case ES384:
		return jose.ES384
	case ES512:
		return jose.ES512
	case SigEd25519:
		return jose.EdDSA
	default:
		return ""
	}
}

// Sign produces a raw JWS signature over data using the given algorithm.
// ECDSA signatures are emitted as the fixed-length r||s concatenation (not
// DER), matching spec.md's signing contract. RSA uses PKCS#1 v1.5 with the
// digest implied by the algorithm. Ed25519 uses the native algorithm.
func (kp *KeyPair) Sign(alg SignatureAlgorithm, data []byte) ([]byte, error) {
	if err := kp.Type.CheckCompatibility(alg); err != nil {
		return nil, err
	}
	switch signer := kp.Signer.(type) {
	case *ecdsa.PrivateKey:
		h := hashForAlg(alg)
		digest := h.New()
		digest.Write(data)
		sum := digest.Sum(nil)
		r, s, err := ecdsaSignRS(signer, sum)
		if err != nil {
			return nil, err
		}
		size := (signer.Curve.Params().BitSize + 7) / 8
		out := make([]byte, 2*size)
		r.FillBytes(out[size-len(r.Bytes()) : size])
		s.FillBytes(out[2*size-len(s.Bytes()):])
		return out, nil
	case ed25519.PrivateKey:
		return ed25519.Sign(signer, data), nil
	case *rsa.PrivateKey:
		h := hashForAlg(alg)
		digest := h.New()
		digest.Write(data)
		sum := digest.Sum(nil)
		return rsa.SignPKCS1v15(rand.Reader, signer, h, sum)
	default:
		return nil, fmt.Errorf("unsupported signer type %T", kp.Signer)
	}
}

func hashForAlg(alg SignatureAlgorithm) crypto.Hash {
	switch alg {
	case RS256, ES256:
		return crypto.SHA256
	case ES384:
		return crypto.SHA384
	case ES512:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

func ecdsaSignRS(priv *ecdsa.PrivateKey, digest []byte) (*big.Int, *big.Int, error) {
	return ecdsa.Sign(rand.Reader, priv, digest)
}

// JWKPublicKey returns the full JWK (including "use":"sig" and "alg") for
// the key pair's public component, per spec.md §4.1.
func (kp *KeyPair) JWKPublicKey(alg SignatureAlgorithm) jose.JSONWebKey {
	return jose.JSONWebKey{
		Key:       kp.Signer.Public(),
		Algorithm: joseSignatureAlgorithm(alg).String(),
		Use:       "sig",
	}
}

// JWKThumbprint returns the SHA-256 JWK thumbprint of the public key,
// base64url (unpadded) encoded.
func (kp *KeyPair) JWKThumbprint() (string, error) {
	jwk := jose.JSONWebKey{Key: kp.Signer.Public()}
	thumb, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", err
	}
	return b64url(thumb), nil
}

// KeyAuthorization computes the key authorization shared by all challenge
// kinds: token || "." || JWKThumbprint(), the thumbprint being the
// base64url SHA-256 of the canonical JWK (no second hash is applied).
func (kp *KeyPair) KeyAuthorization(token string) (string, error) {
	thumb, err := kp.JWKThumbprint()
	if err != nil {
		return "", err
	}
	return token + "." + thumb, nil
}
