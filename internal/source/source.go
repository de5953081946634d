// Package source defines the digest data sources and their shared error
// taxonomy. Every connector is registered unconditionally and decides for
// itself at fetch time whether it has what it needs to run.
package source

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Source is one digest data feed. Fetch may return a non-nil payload
// together with a non-nil error: that is a partial result.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (map[string]any, error)
}

// ErrSkipped tells the aggregator a source has nothing to do: credentials
// absent or disabled in config. It is not a failure.
var ErrSkipped = errors.New("source not configured")

// TokenSource mints access tokens for the Google-backed connectors.
type TokenSource interface {
	Token(ctx context.Context, key string) (string, error)
	Configured() bool
}

// Calendar and gmail share one token key, so a digest run costs at most
// one refresh between them.
const googleTokenKey = "google:primary"

const userAgent = "Daybook/1.0 (Daily Digest; +https://github.com/thinkscotty/daybook)"

type ErrorKind string

const (
	Timeout             ErrorKind = "timeout"
	AuthFailure         ErrorKind = "auth_failure"
	UpstreamUnavailable ErrorKind = "upstream_unavailable"
	MalformedResponse   ErrorKind = "malformed_response"
)

// Error is a classified source failure.
type Error struct {
	Source string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(source string, kind ErrorKind, err error) *Error {
	return &Error{Source: source, Kind: kind, Err: err}
}

// IsKind reports whether err carries a source Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}

// statusKind maps an HTTP status code to an error kind. 2xx codes never
// reach it.
func statusKind(code int) ErrorKind {
	switch {
	case code == 401 || code == 403:
		return AuthFailure
	case code == 429 || code >= 500:
		return UpstreamUnavailable
	default:
		return MalformedResponse
	}
}

// wrapErr classifies transport-level failures: deadline and timeout errors
// become Timeout, everything else UpstreamUnavailable.
func wrapErr(name string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newError(name, Timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newError(name, Timeout, err)
	}
	return newError(name, UpstreamUnavailable, err)
}
