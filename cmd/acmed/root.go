package main

import (
	"github.com/spf13/cobra"
)

const (
	defaultConfigFile = "/etc/acmed/acmed.toml"
	defaultPIDFile    = "/var/run/acmed.pid"
)

// options collects the CLI surface spec.md §6.1 sketches: configuration
// path, log level/destination, foreground flag, PID-file path and
// repeatable trusted root certificates.
type options struct {
	configFile string
	logLevel   string
	syslog     bool
	stderr     bool
	foreground bool
	pidFile    string
	rootCerts  []string
}

// newRootCommand builds the acmed command tree, grounded on the
// teacher's flag surface (acmeshell's -directory/-ca/... flat flag set)
// translated into cobra, the ecosystem CLI library the rest of the pack
// (cert-manager-cmctl, skaffold, lazydocker) reaches for instead of
// stdlib flag.
func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:           "acmed",
		Short:         "Automated ACME certificate lifecycle daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.configFile, "config", "c", defaultConfigFile, "configuration file path")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (error|warn|info|debug|trace)")
	flags.BoolVar(&opts.syslog, "syslog", false, "send log messages to syslog")
	flags.BoolVar(&opts.stderr, "stderr", false, "send log messages to standard error (default)")
	flags.BoolVarP(&opts.foreground, "foreground", "f", false, "run in the foreground instead of daemonising")
	flags.StringVar(&opts.pidFile, "pid-file", defaultPIDFile, "PID file path (empty suppresses PID-file handling)")
	flags.StringArrayVar(&opts.rootCerts, "root-cert", nil, "additional trusted root certificate (repeatable)")
	cmd.MarkFlagsMutuallyExclusive("syslog", "stderr")

	cmd.AddCommand(newTLSALPNRespondCommand())
	return cmd
}
