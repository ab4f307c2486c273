package acmecrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"hash"
	"strings"
)

// HashFunction enumerates the digest algorithms used for CSR signing and
// account/contact hashing.
type HashFunction int

const (
	HashUnknown HashFunction = iota
	SHA256
	SHA384
	SHA512
)

func (h HashFunction) String() string {
	switch h {
	case SHA256:
		return "sha256"
	case SHA384:
		return "sha384"
	case SHA512:
		return "sha512"
	default:
		return "unknown"
	}
}

// ParseHashFunction parses the TOML-facing csr_digest string.
func ParseHashFunction(s string) (HashFunction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sha256":
		return SHA256, nil
	case "sha384":
		return SHA384, nil
	case "sha512":
		return SHA512, nil
	default:
		return HashUnknown, fmt.Errorf("%s: unknown hash function", s)
	}
}

// Hash digests data using the receiver's algorithm.
func (h HashFunction) Hash(data []byte) []byte {
	switch h {
	case SHA384:
		sum := sha512.Sum384(data)
		return sum[:]
	case SHA512:
		sum := sha512.Sum512(data)
		return sum[:]
	default:
		sum := sha256.Sum256(data)
		return sum[:]
	}
}

func (h HashFunction) newHash() func() hash.Hash {
	switch h {
	case SHA384:
		return sha512.New384
	case SHA512:
		return sha512.New
	default:
		return sha256.New
	}
}

// HMAC computes an HMAC over data using the receiver's algorithm and key,
// used for external-account-binding signatures.
func (h HashFunction) HMAC(key, data []byte) []byte {
	mac := hmac.New(h.newHash(), key)
	mac.Write(data)
	return mac.Sum(nil)
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
