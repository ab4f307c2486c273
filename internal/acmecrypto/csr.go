package acmecrypto

import (
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"net"
)

// SubjectAttribute names a pkix.Name field that may be populated from the
// certificate's configured subject_attributes map.
type SubjectAttribute string

const (
	SubjectCountry            SubjectAttribute = "country_name"
	SubjectOrganization       SubjectAttribute = "organization_name"
	SubjectOrganizationalUnit SubjectAttribute = "organizational_unit_name"
	SubjectLocality           SubjectAttribute = "locality_name"
	SubjectState              SubjectAttribute = "state_or_province_name"
)

// CSR builds a PKCS#10 certificate signing request for the given DNS and
// IP SANs and subject attributes, signed with kp using the supplied
// digest (Ed25519 keys sign natively, without a separate digest). Per
// spec.md §4.1 the CSR key pair is independent of any ACME account key.
func CSR(kp *KeyPair, digest HashFunction, dnsNames, ips []string, subject map[SubjectAttribute]string) ([]byte, error) {
	if len(dnsNames) == 0 && len(ips) == 0 {
		return nil, fmt.Errorf("CSR requires at least one DNS name or IP address")
	}

	name := pkix.Name{}
	for attr, value := range subject {
		switch attr {
		case SubjectCountry:
			name.Country = []string{value}
		case SubjectOrganization:
			name.Organization = []string{value}
		case SubjectOrganizationalUnit:
			name.OrganizationalUnit = []string{value}
		case SubjectLocality:
			name.Locality = []string{value}
		case SubjectState:
			name.Province = []string{value}
		}
	}
	if name.CommonName == "" {
		if len(dnsNames) > 0 {
			name.CommonName = dnsNames[0]
		} else if len(ips) > 0 {
			name.CommonName = ips[0]
		}
	}

	var ipAddrs []net.IP
	for _, ip := range ips {
		parsed := net.ParseIP(ip)
		if parsed == nil {
			return nil, fmt.Errorf("%s: invalid IP address", ip)
		}
		ipAddrs = append(ipAddrs, parsed)
	}

	template := x509.CertificateRequest{
		Subject:            name,
		DNSNames:           dnsNames,
		IPAddresses:        ipAddrs,
		SignatureAlgorithm: x509SignatureAlgorithm(kp.Type, digest),
	}

	der, err := x509.CreateCertificateRequest(rand.Reader, &template, kp.Signer)
	if err != nil {
		return nil, err
	}
	return der, nil
}

// CSRToPEM PEM-encodes a DER CSR.
func CSRToPEM(der []byte) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE REQUEST", Bytes: der})
}

// CSRToBase64URL base64url-encodes (unpadded) a DER CSR, the form
// submitted in the ACME finalize request.
func CSRToBase64URL(der []byte) string {
	return base64.RawURLEncoding.EncodeToString(der)
}

func x509SignatureAlgorithm(kt KeyType, digest HashFunction) x509.SignatureAlgorithm {
	switch kt {
	case EcdsaP256, EcdsaP384, EcdsaP521:
		switch digest {
		case SHA384:
			return x509.ECDSAWithSHA384
		case SHA512:
			return x509.ECDSAWithSHA512
		default:
			return x509.ECDSAWithSHA256
		}
	case Ed25519:
		return x509.PureEd25519
	case Rsa2048, Rsa4096:
		switch digest {
		case SHA384:
			return x509.SHA384WithRSA
		case SHA512:
			return x509.SHA512WithRSA
		default:
			return x509.SHA256WithRSA
		}
	default:
		return x509.UnknownSignatureAlgorithm
	}
}
