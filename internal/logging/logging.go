// Package logging sets up the daemon's single structured logger: level
// parsing from the CLI, and the stderr/syslog output split, returning a
// base *logrus.Entry every other package attaches fields to. Adapted
// from lazydocker's pkg/log.NewLogger and skaffold's logrus setup.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
)

// Options configures the base logger, mirroring cmd/acmed's
// --log-level/--syslog/--stderr flags.
type Options struct {
	Level  string
	Syslog bool
}

// New builds the daemon's base log entry. Every other package derives
// its own logger by calling WithField on the returned entry, so a
// "certificate" or "account" field reads as structured data rather than
// a string prefix (spec.md §7's "errors are logged with a prefix
// identifying the certificate or account").
func New(opts Options) (*logrus.Entry, error) {
	level, err := logrus.ParseLevel(opts.Level)
	if err != nil {
		return nil, fmt.Errorf("%s: unknown log level: %w", opts.Level, err)
	}

	log := logrus.New()
	log.SetLevel(level)
	log.Formatter = &logrus.TextFormatter{FullTimestamp: true}

	if opts.Syslog {
		hook, err := logrus_syslog.NewSyslogHook("", "", syslog.LOG_DAEMON, "acmed")
		if err != nil {
			return nil, fmt.Errorf("connecting to syslog: %w", err)
		}
		log.AddHook(hook)
		log.SetOutput(io.Discard)
	} else {
		log.SetOutput(os.Stderr)
	}

	return logrus.NewEntry(log), nil
}
