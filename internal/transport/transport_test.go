package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/acmed/acmed/internal/endpoint"
)

func testLogger() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	return logrus.NewEntry(l)
}

func testEndpoint(t *testing.T) *endpoint.Endpoint {
	ep, err := endpoint.New("test", "https://example.invalid/dir", true, nil, nil)
	require.NoError(t, err)
	return ep
}

func TestGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(headerNonce, "abc123")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := &Client{Log: testLogger(), httpClient: srv.Client(), Retries: DefaultRetries, RetryWait: 0}
	ep := testEndpoint(t)

	resp, err := c.Get(context.Background(), ep, srv.URL, endpoint.ResourceDirectory)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "abc123", ep.Nonce())
}

func TestGetErrorProblem(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"type":"urn:ietf:params:acme:error:malformed","detail":"bad request","status":400}`))
	}))
	defer srv.Close()

	c := &Client{Log: testLogger(), httpClient: srv.Client(), Retries: DefaultRetries, RetryWait: 0}
	ep := testEndpoint(t)

	_, err := c.Get(context.Background(), ep, srv.URL, endpoint.ResourceDirectory)
	require.Error(t, err)
	require.Contains(t, err.Error(), "malformed")
}

func TestPostRetriesOnRecoverableError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.Header().Set(headerNonce, "nonce-1")
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"type":"urn:ietf:params:acme:error:badNonce","status":400}`))
			return
		}
		w.Header().Set(headerNonce, "nonce-2")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := &Client{Log: testLogger(), httpClient: srv.Client(), Retries: DefaultRetries, RetryWait: 0}
	ep := testEndpoint(t)
	ep.SetNonce("nonce-0")

	resp, err := c.Post(context.Background(), ep, srv.URL, endpoint.ResourceNewOrder, func(nonce, url string) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, attempts)
}

func TestPostStopsOnUnrecoverableError(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"type":"urn:ietf:params:acme:error:unauthorized","status":403}`))
	}))
	defer srv.Close()

	c := &Client{Log: testLogger(), httpClient: srv.Client(), Retries: DefaultRetries, RetryWait: 0}
	ep := testEndpoint(t)
	ep.SetNonce("nonce-0")

	_, err := c.Post(context.Background(), ep, srv.URL, endpoint.ResourceNewOrder, func(nonce, url string) ([]byte, error) {
		return []byte(`{}`), nil
	})
	require.Error(t, err)
	require.Equal(t, 1, attempts)
}
