package certificate

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/letsencrypt/challtestsrv"
	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"

	"github.com/acmed/acmed/internal/acmecrypto"
	"github.com/acmed/acmed/internal/identifier"
)

// TestHTTP01ProofSatisfiesChallengeServer drives the http-01 proof this
// package computes through a real validation responder instead of a
// hand-rolled assertion: challtestsrv is the same server a CA's own
// validation workers are built on, so a fetch against it exercises the
// exact path and body shape a CA checks before issuing.
func TestHTTP01ProofSatisfiesChallengeServer(t *testing.T) {
	addr := "127.0.0.1:14480"
	srv := challtestsrv.New(challtestsrv.Config{
		HTTPOneAddrs: []string{addr},
	})
	go srv.Run()
	t.Cleanup(srv.Shutdown)
	waitForServer(t, addr)

	kp, err := acmecrypto.GenerateKeyPair(acmecrypto.EcdsaP256)
	require.NoError(t, err)

	token := "integration-test-token"
	proof, fileName, err := challengeProof(identifier.HTTP01, token, kp)
	require.NoError(t, err)
	require.Equal(t, token, fileName)

	srv.AddHTTPOneChallenge(token, proof)
	t.Cleanup(func() { srv.DeleteHTTPOneChallenge(token) })

	url := fmt.Sprintf("http://%s/.well-known/acme-challenge/%s", addr, fileName)
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, proof, string(body))
}

// TestDNS01ProofMatchesChallengeServerTXTRecord confirms the dns-01 proof
// is exactly what a CA's DNS-01 validator (again, challtestsrv standing in
// for one) expects to find published at the _acme-challenge label.
func TestDNS01ProofMatchesChallengeServerTXTRecord(t *testing.T) {
	addr := "127.0.0.1:14530"
	srv := challtestsrv.New(challtestsrv.Config{
		DNSOneAddrs: []string{addr},
	})
	go srv.Run()
	t.Cleanup(srv.Shutdown)

	kp, err := acmecrypto.GenerateKeyPair(acmecrypto.EcdsaP256)
	require.NoError(t, err)

	token := "integration-test-token"
	proof, _, err := challengeProof(identifier.DNS01, token, kp)
	require.NoError(t, err)

	host := "example.org"
	srv.AddDNSOneChallenge(host, proof)
	t.Cleanup(func() { srv.DeleteDNSOneChallenge(host) })

	txts, err := lookupTXT(t, addr, "_acme-challenge."+host+".")
	require.NoError(t, err)
	require.Contains(t, txts, proof)
}

// lookupTXT queries a single TXT record directly against challtestsrv's
// mock DNS server rather than the system resolver, the same way
// original_source/acmed validates by talking to the ACME server's own
// authoritative answers in a contained environment. The server answers
// over UDP, so readiness is checked by retrying the query itself rather
// than by a TCP dial.
func lookupTXT(t *testing.T, dnsAddr, name string) ([]string, error) {
	t.Helper()

	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	client := new(dns.Client)
	client.Timeout = 500 * time.Millisecond

	var resp *dns.Msg
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, _, err = client.Exchange(m, dnsAddr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	if err != nil {
		return nil, err
	}

	var txts []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			txts = append(txts, txt.Txt...)
		}
	}
	return txts, nil
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := (&net.Dialer{Timeout: 50 * time.Millisecond}).Dial("tcp", addr)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("challenge server at %s never became ready", addr)
}
