package certificate

import (
	"encoding/base64"
	"fmt"

	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/identifier"
)

// acmeValidationExtensionOID is the "id-pe-acmeIdentifier" OID used for the
// TLS-ALPN-01 certificate extension (RFC 8737 §3).
const acmeValidationExtensionOID = "1.3.6.1.5.5.7.1.31"

// challengeProof computes the proof value and (for HTTP-01) the file name
// a challenge hook needs, grounded on
// original_source/acmed/src/acme_proto/structs/authorization.rs's
// Challenge::get_proof / get_file_name.
func challengeProof(kind identifier.ChallengeKind, token string, kp *acmecrypto.KeyPair) (proof, fileName string, err error) {
	keyAuth, err := kp.KeyAuthorization(token)
	if err != nil {
		return "", "", err
	}

	switch kind {
	case identifier.HTTP01:
		return keyAuth, token, nil
	case identifier.DNS01:
		digest := acmecrypto.SHA256.Hash([]byte(keyAuth))
		return base64.RawURLEncoding.EncodeToString(digest), "", nil
	case identifier.TLSALPN01:
		digest := acmecrypto.SHA256.Hash([]byte(keyAuth))
		hexDigest := make([]byte, 0, len(digest)*3)
		for i, b := range digest {
			if i > 0 {
				hexDigest = append(hexDigest, ':')
			}
			hexDigest = append(hexDigest, []byte(fmt.Sprintf("%02x", b))...)
		}
		ext := fmt.Sprintf("critical,DER:04:%02x:%s", len(digest), hexDigest)
		return fmt.Sprintf("%s=%s", acmeValidationExtensionOID, ext), "", nil
	default:
		return "", "", fmt.Errorf("unknown challenge kind %v", kind)
	}
}
