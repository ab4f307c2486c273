package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/acmed/acmed/internal/config"
	"github.com/acmed/acmed/internal/daemon"
	"github.com/acmed/acmed/internal/endpoint"
	"github.com/acmed/acmed/internal/logging"
	"github.com/acmed/acmed/internal/transport"
)

// runDaemon loads the configuration, builds every configured endpoint,
// account and certificate, and runs the renewal loop until a shutdown
// signal arrives or the context built around it is cancelled.
func runDaemon(ctx context.Context, opts *options) error {
	log, err := logging.New(logging.Options{Level: opts.logLevel, Syslog: opts.syslog})
	if err != nil {
		return startupError(err)
	}

	if !opts.foreground {
		if err := daemonize(opts.pidFile); err != nil {
			return startupError(err)
		}
	} else if opts.pidFile != "" {
		if err := writePIDFile(opts.pidFile); err != nil {
			return startupError(err)
		}
		defer os.Remove(opts.pidFile)
	}

	cfg, err := config.Load(opts.configFile)
	if err != nil {
		return startupError(fmt.Errorf("loading %s: %w", opts.configFile, err))
	}
	if err := cfg.InitDirectories(); err != nil {
		return startupError(err)
	}

	endpoints, err := cfg.BuildEndpoints()
	if err != nil {
		return startupError(err)
	}

	clients, err := buildClients(log, endpoints, opts.rootCerts)
	if err != nil {
		return startupError(err)
	}

	accounts, err := cfg.BuildAccounts(log, endpoints)
	if err != nil {
		return startupError(err)
	}

	certificates, err := cfg.BuildCertificates(log, accounts)
	if err != nil {
		return startupError(err)
	}

	d := &daemon.Daemon{
		Log:          log,
		Certificates: certificates,
		Accounts:     accounts,
		Endpoints:    endpoints,
		Clients:      clients,
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer stop()

	log.WithField("certificates", len(certificates)).Info("starting renewal loop")
	err = d.Run(runCtx)
	if err == nil || errors.Is(err, context.Canceled) {
		log.Info("shutting down")
		return nil
	}
	return runtimeError(err)
}

// buildClients constructs one transport.Client per endpoint, trusting
// both the CLI's --root-cert values and that endpoint's own
// root_certificates, so endpoint.RootCertificates (merged from global
// and per-endpoint configuration in config.BuildEndpoints) actually
// reaches the HTTP layer it was resolved for.
func buildClients(log *logrus.Entry, endpoints map[string]*endpoint.Endpoint, cliRootCerts []string) (map[string]*transport.Client, error) {
	clients := make(map[string]*transport.Client, len(endpoints))
	for name, ep := range endpoints {
		roots := make([]string, 0, len(cliRootCerts)+len(ep.RootCertificates))
		roots = append(roots, cliRootCerts...)
		roots = append(roots, ep.RootCertificates...)

		client, err := transport.New(log.WithField("endpoint", name), roots)
		if err != nil {
			return nil, fmt.Errorf("endpoint %s: %w", name, err)
		}
		clients[name] = client
	}
	return clients, nil
}
