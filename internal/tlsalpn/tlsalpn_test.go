package tlsalpn

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// proofString reproduces the format certificate.challengeProof emits for
// a tls-alpn-01 challenge, without importing internal/certificate: the
// companion only ever sees this string, the same as any other hook.
func proofString(digest []byte) string {
	hexDigest := ""
	for i, b := range digest {
		if i > 0 {
			hexDigest += ":"
		}
		hexDigest += fmt.Sprintf("%02x", b)
	}
	return fmt.Sprintf("1.3.6.1.5.5.7.1.31=critical,DER:04:%02x:%s", len(digest), hexDigest)
}

func TestParseProofRoundTrip(t *testing.T) {
	digest := sha256.Sum256([]byte("key-authorization"))
	raw := proofString(digest[:])

	got, err := ParseProof(raw)
	require.NoError(t, err)
	require.Equal(t, digest[:], got)
}

func TestParseProofRejectsWrongOID(t *testing.T) {
	_, err := ParseProof("1.2.3.4=critical,DER:04:02:ab:cd")
	require.Error(t, err)
}

func TestParseProofRejectsLengthMismatch(t *testing.T) {
	_, err := ParseProof("1.3.6.1.5.5.7.1.31=critical,DER:04:03:ab:cd")
	require.Error(t, err)
}

func TestCertificateCarriesExtension(t *testing.T) {
	digest := sha256.Sum256([]byte("key-authorization"))
	cert, err := Certificate("example.org", digest[:])
	require.NoError(t, err)

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	require.Equal(t, []string{"example.org"}, leaf.DNSNames)

	var found bool
	for _, ext := range leaf.Extensions {
		if ext.Id.Equal(acmeIdentifierOID) {
			found = true
			require.True(t, ext.Critical)
			require.Equal(t, digest[:], []byte(ext.Value[2:]), "DER octet string payload should be the raw digest")
		}
	}
	require.True(t, found, "acme-identifier extension not present")
}

func TestServeCompletesHandshake(t *testing.T) {
	digest := sha256.Sum256([]byte("key-authorization"))
	cert, err := Certificate("example.org", digest[:])
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	serveErr := make(chan error, 1)
	go func() { serveErr <- Serve(ctx, addr, cert) }()

	// Serve's listener may not be bound the instant the goroutine starts.
	var conn *tls.Conn
	for i := 0; i < 20; i++ {
		conn, err = tls.Dial("tcp", addr, &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{ACMETLS1Protocol},
		})
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.Handshake())

	require.NoError(t, <-serveErr)
}

func TestServeStopsOnContextCancel(t *testing.T) {
	digest := sha256.Sum256([]byte("key-authorization"))
	cert, err := Certificate("example.org", digest[:])
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() { serveErr <- Serve(ctx, addr, cert) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-serveErr:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}
