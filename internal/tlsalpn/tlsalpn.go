// Package tlsalpn is the companion TLS-ALPN-01 responder: it consumes
// the proof string certificate.challengeProof computes for a
// tls-alpn-01 challenge and stands up the short-lived TLS listener RFC
// 8737 requires a CA's validation connection to see. It is wired in as
// the challenge-tls-alpn-01 hook command (via cmd/acmed's own
// subcommand), never imported by internal/certificate directly, so the
// core only ever hands it the same proof string any other hook gets.
package tlsalpn

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"
)

// ACMETLS1Protocol is the ALPN protocol name an ACME server negotiates
// on a tls-alpn-01 validation connection (RFC 8737 §3).
const ACMETLS1Protocol = "acme-tls/1"

// acmeIdentifierOID is RFC 8737 §3's id-pe-acmeIdentifier extension OID.
var acmeIdentifierOID = asn1.ObjectIdentifier{1, 3, 6, 1, 5, 5, 7, 1, 31}

// leafLifetime bounds the self-signed certificate's validity window; a
// tls-alpn-01 validation connection happens within seconds of the
// responder starting, so a generous fixed window avoids clock-skew
// rejections without the certificate outliving the challenge attempt.
const leafLifetime = 24 * time.Hour

// ParseProof decodes the "<oid>=critical,DER:04:<len>:<hex>:<hex>..."
// string a tls-alpn-01 challenge's proof carries back into the raw
// SHA-256 digest it encodes. The format is OpenSSL's extension DER
// syntax, matching what the core's proof computation emits.
func ParseProof(raw string) ([]byte, error) {
	oid, ext, ok := strings.Cut(raw, "=")
	if !ok {
		return nil, fmt.Errorf("%s: not an OID=value extension string", raw)
	}
	if oid != acmeIdentifierOID.String() {
		return nil, fmt.Errorf("%s: not the acme-identifier OID", oid)
	}

	const prefix = "critical,DER:"
	if !strings.HasPrefix(ext, prefix) {
		return nil, fmt.Errorf("%s: expected a %q extension", ext, prefix)
	}

	fields := strings.Split(strings.TrimPrefix(ext, prefix), ":")
	if len(fields) < 2 {
		return nil, fmt.Errorf("%s: malformed DER extension", ext)
	}
	if fields[0] != "04" {
		return nil, fmt.Errorf("%s: expected an OCTET STRING (tag 04)", fields[0])
	}
	length, err := strconv.ParseInt(fields[1], 16, 0)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid length byte: %w", fields[1], err)
	}

	digestHex := fields[2:]
	if int64(len(digestHex)) != length {
		return nil, fmt.Errorf("%s: extension declares %d bytes but carries %d", ext, length, len(digestHex))
	}

	digest := make([]byte, len(digestHex))
	for i, h := range digestHex {
		b, err := hex.DecodeString(h)
		if err != nil || len(b) != 1 {
			return nil, fmt.Errorf("%s: invalid hex byte", h)
		}
		digest[i] = b[0]
	}
	return digest, nil
}

// Certificate builds the self-signed leaf a tls-alpn-01 validation
// connection must present: a DNS SAN of name (the identifier value
// itself, or its reverse-DNS form for an IP identifier, per
// identifier.Identifier.TLSALPNName) carrying the critical
// acme-identifier extension wrapping digest.
func Certificate(name string, digest []byte) (tls.Certificate, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsalpn: generating key: %w", err)
	}

	extValue, err := asn1.Marshal(digest)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsalpn: encoding acme-identifier extension: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsalpn: generating serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: name},
		DNSNames:     []string{name},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(leafLifetime),
		ExtraExtensions: []pkix.Extension{
			{Id: acmeIdentifierOID, Critical: true, Value: extValue},
		},
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("tlsalpn: creating certificate: %w", err)
	}
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}, nil
}

// Serve listens on addr and presents cert to the first TLS connection
// negotiating the acme-tls/1 ALPN protocol, then returns once that
// handshake completes. A tls-alpn-01 validation attempt is exactly one
// such connection, so one hook invocation serves exactly one challenge.
// Serve returns early if ctx is cancelled before a connection arrives.
func Serve(ctx context.Context, addr string, cert tls.Certificate) error {
	cfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ACMETLS1Protocol},
	}

	ln, err := tls.Listen("tcp", addr, cfg)
	if err != nil {
		return fmt.Errorf("tlsalpn: listening on %s: %w", addr, err)
	}
	defer ln.Close()

	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-stopped:
		}
	}()

	conn, err := ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("tlsalpn: accept: %w", err)
	}
	defer conn.Close()

	tlsConn, ok := conn.(*tls.Conn)
	if !ok {
		return errors.New("tlsalpn: accepted connection is not TLS")
	}
	return tlsConn.HandshakeContext(ctx)
}
