package main

import "errors"

// exitError tags an error with the process exit code it should produce,
// distinguishing a startup failure (bad config, can't create
// directories) from a runtime failure (a certificate's renewal loop
// returned a non-context error) per spec.md §6.1. An error reaching
// exitCodeFor unwrapped is a cobra/pflag flag-parsing failure, reported
// as the CLI-parse-error code.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func startupError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 3, err: err}
}

func runtimeError(err error) error {
	if err == nil {
		return nil
	}
	return &exitError{code: 1, err: err}
}

func exitCodeFor(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 2
}
