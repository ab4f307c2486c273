// Package daemon drives the concurrent renewal loop for every
// configured certificate: one goroutine per certificate, checking and
// renewing independently until the process is asked to stop. Adapted
// from original_source/acmed/src/certificate_manager.rs's renew loop,
// reimplemented with golang.org/x/sync/errgroup instead of spawned
// tokio tasks (the teacher's own indirect dependency on golang.org/x/sync
// gives this a cancellation-aware fan-out; the number of goroutines is
// not bounded).
package daemon

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/acmed/acmed/internal/account"
	"github.com/acmed/acmed/internal/certificate"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/transport"
)

// CheckInterval is how often a certificate's renewal status is
// reevaluated, matching original_source/acmed/src/main.rs's
// DEFAULT_SLEEP_TIME (3600s). A var, not a const, so tests can shrink it.
var CheckInterval = 1 * time.Hour

// Daemon drives every configured certificate's renewal loop.
type Daemon struct {
	Log          *logrus.Entry
	Certificates []*certificate.Certificate
	Accounts     map[string]*account.Account
	Endpoints    map[string]*endpoint.Endpoint
	// Clients is one transport.Client per endpoint name, so each
	// endpoint's own trusted root bundle (CLI roots plus any
	// root_certificates configured on it) is honoured.
	Clients map[string]*transport.Client
}

// Run starts one goroutine per certificate and blocks until ctx is
// cancelled or a goroutine returns a non-context error.
func (d *Daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, cert := range d.Certificates {
		cert := cert
		g.Go(func() error {
			return d.runCertificate(ctx, cert)
		})
	}
	return g.Wait()
}

func (d *Daemon) runCertificate(ctx context.Context, cert *certificate.Certificate) error {
	log := d.Log.WithField("certificate", cert.ID())

	acct, ok := d.Accounts[cert.AccountName]
	if !ok {
		return fmt.Errorf("%s: unknown account %q", cert.ID(), cert.AccountName)
	}
	ep, ok := d.Endpoints[cert.EndpointName]
	if !ok {
		return fmt.Errorf("%s: unknown endpoint %q", cert.ID(), cert.EndpointName)
	}
	client, ok := d.Clients[cert.EndpointName]
	if !ok {
		return fmt.Errorf("%s: no transport client for endpoint %q", cert.ID(), cert.EndpointName)
	}

	// Stagger the first check so a daemon managing many certificates
	// doesn't evaluate (and potentially renew) all of them in the same
	// instant on startup.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(jitterDuration(CheckInterval)):
	}

	for {
		d.tick(ctx, log, cert, acct, client, ep)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(CheckInterval):
		}
	}
}

// tick checks whether cert needs renewing and, if so, drives one full
// order and fires the post-operation hook, logging and continuing on
// failure rather than tearing down the whole daemon: one misbehaving
// certificate must not stop every other certificate's renewal loop.
func (d *Daemon) tick(ctx context.Context, log *logrus.Entry, cert *certificate.Certificate, acct *account.Account, client *transport.Client, ep *endpoint.Endpoint) {
	renew, err := cert.ShouldRenew(log)
	if err != nil {
		log.WithError(err).Warn("unable to check certificate renewal status")
		return
	}
	if !renew {
		return
	}

	status, success := "success", true
	if err := certificate.RequestCertificate(ctx, log, cert, acct, client, ep); err != nil {
		log.WithError(err).Warn("unable to renew the certificate")
		status, success = err.Error(), false
	} else if err := acct.Save(ctx); err != nil {
		log.WithError(err).Warn("unable to persist account state")
	}

	if err := cert.CallPostOperationHooks(ctx, log, status, success); err != nil {
		log.WithError(err).Warn("post-operation hook error")
	}
}

// jitterDuration returns a random duration in [0, max).
func jitterDuration(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}
