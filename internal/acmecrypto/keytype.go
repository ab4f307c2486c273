package acmecrypto

import (
	"fmt"
	"strings"
)

// KeyType enumerates the key types acmed can generate and load, matching
// the seven key types named in the specification: three NIST curves,
// Ed25519/Ed448, and two RSA sizes.
type KeyType int

const (
	KeyTypeUnknown KeyType = iota
	EcdsaP256
	EcdsaP384
	EcdsaP521
	Ed25519
	Ed448
	Rsa2048
	Rsa4096
)

func (kt KeyType) String() string {
	switch kt {
	case EcdsaP256:
		return "ecdsa-p256"
	case EcdsaP384:
		return "ecdsa-p384"
	case EcdsaP521:
		return "ecdsa-p521"
	case Ed25519:
		return "ed25519"
	case Ed448:
		return "ed448"
	case Rsa2048:
		return "rsa2048"
	case Rsa4096:
		return "rsa4096"
	default:
		return "unknown"
	}
}

// ParseKeyType parses the TOML-facing key_type string into a KeyType.
func ParseKeyType(s string) (KeyType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ecdsa_p256", "ecdsa-p256":
		return EcdsaP256, nil
	case "ecdsa_p384", "ecdsa-p384":
		return EcdsaP384, nil
	case "ecdsa_p521", "ecdsa-p521":
		return EcdsaP521, nil
	case "ed25519":
		return Ed25519, nil
	case "ed448":
		return Ed448, nil
	case "rsa2048":
		return Rsa2048, nil
	case "rsa4096":
		return Rsa4096, nil
	default:
		return KeyTypeUnknown, fmt.Errorf("%s: unknown key type", s)
	}
}

// SignatureAlgorithm enumerates the JWS signature algorithms acmed can
// produce.
type SignatureAlgorithm int

const (
	SigUnknown SignatureAlgorithm = iota
	RS256
	ES256
	ES384
	ES512
	SigEd25519
)

func (a SignatureAlgorithm) String() string {
	switch a {
	case RS256:
		return "RS256"
	case ES256:
		return "ES256"
	case ES384:
		return "ES384"
	case ES512:
		return "ES512"
	case SigEd25519:
		return "EdDSA"
	default:
		return "unknown"
	}
}

// ParseSignatureAlgorithm parses the TOML-facing signature_algorithm string.
func ParseSignatureAlgorithm(s string) (SignatureAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rs256":
		return RS256, nil
	case "es256":
		return ES256, nil
	case "es384":
		return ES384, nil
	case "es512":
		return ES512, nil
	case "ed25519", "eddsa":
		return SigEd25519, nil
	default:
		return SigUnknown, fmt.Errorf("%s: unknown signature algorithm", s)
	}
}

// DefaultSignatureAlgorithm returns the signature algorithm that matches
// the key type when none is explicitly configured.
func (kt KeyType) DefaultSignatureAlgorithm() SignatureAlgorithm {
	switch kt {
	case EcdsaP256:
		return ES256
	case EcdsaP384:
		return ES384
	case EcdsaP521:
		return ES512
	case Ed25519, Ed448:
		return SigEd25519
	case Rsa2048, Rsa4096:
		return RS256
	default:
		return SigUnknown
	}
}

// CheckCompatibility validates that a key type and signature algorithm
// may be used together, matching spec.md's "Mismatches between key type
// and signature algorithm fail with a typed error before any network
// call" requirement.
func (kt KeyType) CheckCompatibility(alg SignatureAlgorithm) error {
	ok := false
	switch kt {
	case EcdsaP256:
		ok = alg == ES256
	case EcdsaP384:
		ok = alg == ES384
	case EcdsaP521:
		ok = alg == ES512
	case Ed25519, Ed448:
		ok = alg == SigEd25519
	case Rsa2048, Rsa4096:
		ok = alg == RS256
	}
	if !ok {
		return fmt.Errorf("key type %s is not compatible with signature algorithm %s", kt, alg)
	}
	return nil
}
