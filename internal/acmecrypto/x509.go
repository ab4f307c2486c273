package acmecrypto

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"time"
)

// Certificate wraps a parsed leaf X.509 certificate together with any
// chain certificates that followed it in the PEM bundle.
type Certificate struct {
	Leaf  *x509.Certificate
	Chain []*x509.Certificate
}

// CertificateFromPEM parses a PEM certificate chain as downloaded from the
// ACME server's certificate URL. The first certificate is the leaf.
func CertificateFromPEM(pemBytes []byte) (*Certificate, error) {
	var certs []*x509.Certificate
	rest := pemBytes
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("no certificate found in PEM input")
	}
	return &Certificate{Leaf: certs[0], Chain: certs[1:]}, nil
}

// ExpiresIn returns the duration until the leaf certificate's NotAfter.
// A negative duration means the certificate has already expired.
func (c *Certificate) ExpiresIn() time.Duration {
	return time.Until(c.Leaf.NotAfter)
}

// SubjectAltNames returns the set of DNS and IP SAN values on the leaf
// certificate, as plain strings (IPs re-rendered via their String form).
func (c *Certificate) SubjectAltNames() map[string]struct{} {
	out := make(map[string]struct{}, len(c.Leaf.DNSNames)+len(c.Leaf.IPAddresses))
	for _, dns := range c.Leaf.DNSNames {
		out[dns] = struct{}{}
	}
	for _, ip := range c.Leaf.IPAddresses {
		out[ip.String()] = struct{}{}
	}
	return out
}
