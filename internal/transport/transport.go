// Package transport implements the outbound HTTP side of the ACME
// protocol: GET, POST-as-GET and JWS POST with nonce lifecycle
// management and retry on recoverable ACME errors, adapted from the
// teacher's net/acme.go + acme/client/http.go and
// original_source/acmed/src/http.rs.
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/acmeerr"
	"github.com/acmed/acmed/internal/endpoint"
)

const (
	contentTypeJOSE = "application/jose+json"
	contentTypeJSON = "application/json"
	headerNonce     = "Replay-Nonce"
	headerLocation  = "Location"

	userAgentBase = "acmed"
	userAgentVer  = "0.1.0"

	// DefaultRetries bounds how many times a POST is retried after a
	// recoverable ACME error, matching http.rs's DEFAULT_HTTP_FAIL_NB_RETRY.
	DefaultRetries = 10
	// DefaultRetryWait is the delay between retries, matching http.rs's
	// DEFAULT_HTTP_FAIL_WAIT_SEC.
	DefaultRetryWait = 1 * time.Second
)

// Client performs HTTP requests to one ACME server on behalf of an
// Endpoint, applying its rate limiters and tracking its nonce.
type Client struct {
	Log        *logrus.Entry
	httpClient *http.Client
	Retries    int
	RetryWait  time.Duration
}

// New builds a Client trusting the system roots plus any additional PEM
// CA bundles named in rootCertPaths.
func New(log *logrus.Entry, rootCertPaths []string) (*Client, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	for _, path := range rootCertPaths {
		pemBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading root certificate %s: %w", path, err)
		}
		if !pool.AppendCertsFromPEM(pemBytes) {
			return nil, fmt.Errorf("%s: no certificates found", path)
		}
	}

	return &Client{
		Log: log,
		httpClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{RootCAs: pool},
			},
		},
		Retries:   DefaultRetries,
		RetryWait: DefaultRetryWait,
	}, nil
}

func (c *Client) userAgent() string {
	return fmt.Sprintf("%s/%s (%s/%s)", userAgentBase, userAgentVer, runtime.GOOS, runtime.GOARCH)
}

// Response is a validated HTTP response: status already checked as a
// plain 2xx/non-ACME-error outcome, body fully buffered.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (r *Response) Location() string {
	return r.Header.Get(headerLocation)
}

func (r *Response) JSON(v any) error {
	return json.Unmarshal(r.Body, v)
}

func isValidNonce(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_') {
			return false
		}
	}
	return true
}

func (c *Client) updateNonce(ep *endpoint.Endpoint, resp *http.Response) error {
	nonce := resp.Header.Get(headerNonce)
	if nonce == "" {
		return nil
	}
	if !isValidNonce(nonce) {
		return fmt.Errorf("%s: invalid nonce", nonce)
	}
	ep.SetNonce(nonce)
	return nil
}

// Get performs a plain GET request against url, applying ep's rate
// limits and updating its nonce from the response.
func (c *Client) Get(ctx context.Context, ep *endpoint.Endpoint, url string, resource endpoint.NamedResource) (*Response, error) {
	if err := ep.BlockUntilAllowed(ctx, resource, url); err != nil {
		return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}
	req.Header.Set("Accept", contentTypeJSON)
	req.Header.Set("User-Agent", c.userAgent())

	resp, body, err := c.do(req)
	if err != nil {
		return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}
	_ = c.updateNonce(ep, resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.problemFromBody(ep.Name, resp.StatusCode, body)
	}

	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// HeadNewNonce issues the HEAD request that refreshes an endpoint's
// nonce supply (RFC 8555 §7.2).
func (c *Client) HeadNewNonce(ctx context.Context, ep *endpoint.Endpoint, url string) error {
	if err := ep.BlockUntilAllowed(ctx, endpoint.ResourceNewNonce, url); err != nil {
		return acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}
	req.Header.Set("User-Agent", c.userAgent())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return acmeerr.New(acmeerr.Transport, ep.Name, fmt.Sprintf("newNonce returned HTTP status %d", resp.StatusCode))
	}
	return c.updateNonce(ep, resp)
}

// PostBuilder constructs the JWS request body for one POST attempt,
// given the nonce and target URL to sign over; it is invoked fresh on
// every retry so each attempt embeds its own nonce.
type PostBuilder func(nonce, url string) ([]byte, error)

// Post sends one or more POST requests to url (retrying on recoverable
// ACME errors, per http.rs's post()), signing fresh on every attempt via
// build.
func (c *Client) Post(ctx context.Context, ep *endpoint.Endpoint, url string, resource endpoint.NamedResource, build PostBuilder) (*Response, error) {
	var lastErr error
	for attempt := 0; attempt < c.Retries; attempt++ {
		nonce := ep.Nonce()
		if nonce == "" {
			if dir := ep.Directory(); dir != nil && dir.NewNonce != "" {
				_ = c.HeadNewNonce(ctx, ep, dir.NewNonce)
				nonce = ep.Nonce()
			}
		}
		body, err := build(nonce, url)
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.Crypto, ep.Name, err)
		}

		if err := ep.BlockUntilAllowed(ctx, resource, url); err != nil {
			return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
		}
		req.Header.Set("Content-Type", contentTypeJOSE)
		req.Header.Set("Accept", contentTypeJSON)
		req.Header.Set("User-Agent", c.userAgent())

		resp, respBody, err := c.do(req)
		if err != nil {
			return nil, acmeerr.Wrap(acmeerr.Transport, ep.Name, err)
		}
		_ = c.updateNonce(ep, resp)

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
		}

		problem := c.problemFromBody(ep.Name, resp.StatusCode, respBody)
		lastErr = problem
		if !problem.recoverable() {
			return nil, problem
		}

		c.Log.WithField("endpoint", ep.Name).WithField("attempt", attempt+1).
			WithError(problem).Warn("recoverable ACME error, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryWait):
		}
	}
	return nil, fmt.Errorf("%s: too many recoverable errors, giving up: %w", ep.Name, lastErr)
}

// acmeProblemError wraps acmeerr.Problem with the endpoint/HTTP context
// needed to decide retry eligibility.
type acmeProblemError struct {
	*acmeerr.Problem
	endpointName string
}

func (e *acmeProblemError) recoverable() bool {
	return e.Problem.IsRecoverable()
}

// ProblemType unwraps err looking for the ACME problem type it carries, if
// any, so callers can react to a specific problem (e.g. retrying
// newOrder after registering on accountDoesNotExist).
func ProblemType(err error) (acmeerr.ProblemType, bool) {
	for err != nil {
		if p, ok := err.(*acmeProblemError); ok {
			return p.Problem.Type, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return "", false
		}
		err = u.Unwrap()
	}
	return "", false
}

func (c *Client) problemFromBody(endpointName string, status int, body []byte) *acmeProblemError {
	var doc struct {
		Type   string `json:"type"`
		Detail string `json:"detail"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(body, &doc); err != nil || doc.Type == "" {
		return &acmeProblemError{
			Problem: &acmeerr.Problem{
				Type:   acmeerr.UnknownProblem,
				Detail: strings.TrimSpace(string(body)),
				Status: status,
			},
			endpointName: endpointName,
		}
	}
	return &acmeProblemError{
		Problem: &acmeerr.Problem{
			Type:   acmeerr.ParseProblemType(doc.Type),
			Detail: doc.Detail,
			Status: status,
		},
		endpointName: endpointName,
	}
}

func (c *Client) do(req *http.Request) (*http.Response, []byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}
