// Package acmeerr provides the typed error taxonomy used across acmed.
//
// Every error raised by the core engine is classified into one of a small
// number of kinds so that callers (the certificate manager's renewal loop in
// particular) can decide whether to retry, log and move on, or treat the
// failure as fatal for the current operation.
package acmeerr

import "fmt"

// Kind classifies an error into the taxonomy described by the
// specification: configuration, crypto, storage, hook, transport, API and
// protocol/state errors.
type Kind string

const (
	Configuration Kind = "configuration"
	Crypto        Kind = "crypto"
	Storage       Kind = "storage"
	Hook          Kind = "hook"
	Transport     Kind = "transport"
	API           Kind = "api"
	Protocol      Kind = "protocol"
)

// Error is a taxonomy-tagged error. Prefix identifies the certificate or
// account the error relates to, matching the "all errors are logged with
// a prefix identifying the certificate or account" requirement.
type Error struct {
	Kind    Kind
	Prefix  string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = fmt.Sprintf("%s: %s", msg, e.Err.Error())
		}
	}
	if e.Prefix != "" {
		return fmt.Sprintf("%s: %s", e.Prefix, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New builds an Error of the given kind.
func New(kind Kind, prefix, message string) *Error {
	return &Error{Kind: kind, Prefix: prefix, Message: message}
}

// Wrap builds an Error of the given kind wrapping an existing error.
func Wrap(kind Kind, prefix string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Prefix: prefix, Err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as(err, &e) {
		return e.Kind == kind
	}
	return false
}

func as(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
