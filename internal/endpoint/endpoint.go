// Package endpoint models one configured ACME server: its directory
// document, nonce supply, trust roots and rate limits, adapted from
// original_source/acmed/src/endpoint.rs and the teacher's
// acme/client/directory.go + acme/client/nonce.go.
package endpoint

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/acmed/acmed/internal/acmetypes"
	"github.com/acmed/acmed/internal/duration"
)

// NamedResource identifies one of the ACME server's directory-advertised
// endpoints, for rate-limit matching purposes.
type NamedResource string

const (
	ResourceDirectory  NamedResource = "directory"
	ResourceNewNonce   NamedResource = "newNonce"
	ResourceNewAccount NamedResource = "newAccount"
	ResourceNewOrder   NamedResource = "newOrder"
	ResourceNewAuthz   NamedResource = "newAuthz"
	ResourceRevokeCert NamedResource = "revokeCert"
	ResourceKeyChange  NamedResource = "keyChange"
)

// RateLimitConfig is the declarative shape of one configured rate limit:
// N requests per period, applied to requests matching any of the named
// resources or the path regexp.
type RateLimitConfig struct {
	Name      string
	Number    uint32
	Period    string
	Resources []NamedResource
	Path      string
}

// RateLimit is one compiled, running rate limiter.
type RateLimit struct {
	limiter   *rate.Limiter
	resources []NamedResource
	path      *regexp.Regexp
}

func newRateLimit(cfg RateLimitConfig) (*RateLimit, error) {
	if cfg.Number == 0 {
		return nil, fmt.Errorf("rate limit %q: number must be non-zero", cfg.Name)
	}
	period, err := duration.Parse(cfg.Period)
	if err != nil {
		return nil, fmt.Errorf("rate limit %q: %w", cfg.Name, err)
	}
	if period <= 0 {
		return nil, fmt.Errorf("rate limit %q: period must be positive", cfg.Name)
	}

	interval := period / time.Duration(cfg.Number)
	limiter := rate.NewLimiter(rate.Every(interval), int(cfg.Number))

	var path *regexp.Regexp
	if cfg.Path != "" {
		path, err = regexp.Compile(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("rate limit %q: invalid path regexp: %w", cfg.Name, err)
		}
	}

	return &RateLimit{limiter: limiter, resources: cfg.Resources, path: path}, nil
}

func (rl *RateLimit) matches(resource NamedResource, path string) bool {
	for _, r := range rl.resources {
		if r == resource {
			return true
		}
	}
	if rl.path != nil && rl.path.MatchString(path) {
		return true
	}
	return false
}

// periodPerRequest is used to order limits from strictest (longest wait
// per request) to laxest, mirroring endpoint.rs's rate_limit_cmp.
func periodPerRequest(cfg RateLimitConfig) time.Duration {
	period, err := duration.Parse(cfg.Period)
	if err != nil || cfg.Number == 0 {
		return 0
	}
	return period / time.Duration(cfg.Number)
}

// RateLimits is the ordered set of rate limiters active for an endpoint.
// Limits are stored strictest-first so that BlockUntilAllowed applies the
// tightest matching constraint without needing every limiter to be
// evaluated under contention in a particular order.
type RateLimits struct {
	limits []*RateLimit
}

// NewRateLimits compiles and sorts the configured rate limits.
func NewRateLimits(configs []RateLimitConfig) (*RateLimits, error) {
	sorted := make([]RateLimitConfig, len(configs))
	copy(sorted, configs)
	sort.SliceStable(sorted, func(i, j int) bool {
		return periodPerRequest(sorted[i]) > periodPerRequest(sorted[j])
	})

	limits := make([]*RateLimit, 0, len(sorted))
	for _, cfg := range sorted {
		rl, err := newRateLimit(cfg)
		if err != nil {
			return nil, err
		}
		limits = append(limits, rl)
	}
	return &RateLimits{limits: limits}, nil
}

// BlockUntilAllowed waits until every rate limit matching resource or path
// admits one more request.
func (rl *RateLimits) BlockUntilAllowed(ctx context.Context, resource NamedResource, path string) error {
	for _, limit := range rl.limits {
		if !limit.matches(resource, path) {
			continue
		}
		if err := limit.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Endpoint is one configured ACME server: its directory document, current
// nonce, trust roots, and rate limiters. Concurrent certificate workers
// share an Endpoint, so all mutable state is guarded by mu.
type Endpoint struct {
	Name             string
	URL              string
	TOSAgreed        bool
	RootCertificates []string

	mu        sync.RWMutex
	nonce     string
	directory *acmetypes.Directory
	rl        *RateLimits
}

// New constructs an Endpoint with compiled rate limits; the directory
// document is fetched lazily on first use.
func New(name, url string, tosAgreed bool, limits []RateLimitConfig, rootCerts []string) (*Endpoint, error) {
	rl, err := NewRateLimits(limits)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		Name:             name,
		URL:              url,
		TOSAgreed:        tosAgreed,
		RootCertificates: rootCerts,
		rl:               rl,
	}, nil
}

// Directory returns the cached directory document, or nil if it has not
// been fetched yet.
func (e *Endpoint) Directory() *acmetypes.Directory {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.directory
}

// SetDirectory replaces the cached directory document.
func (e *Endpoint) SetDirectory(dir *acmetypes.Directory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.directory = dir
}

// Nonce returns the last nonce seen from this endpoint, and clears it:
// every nonce is used exactly once, matching RFC 8555 §7.2's replay
// protection.
func (e *Endpoint) Nonce() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := e.nonce
	e.nonce = ""
	return n
}

// SetNonce records the most recently observed Replay-Nonce header value.
func (e *Endpoint) SetNonce(n string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nonce = n
}

// BlockUntilAllowed applies the endpoint's rate limits to an outbound
// request against resource/path.
func (e *Endpoint) BlockUntilAllowed(ctx context.Context, resource NamedResource, path string) error {
	return e.rl.BlockUntilAllowed(ctx, resource, path)
}
