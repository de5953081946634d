// Package ai turns a snapshot into digest text. A deterministic renderer
// builds the prompt, and an ordered chain of providers tries to write the
// digest, ending in a pure-formatting template that cannot fail.
package ai

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/thinkscotty/daybook/internal/models"
)

// Request is one generation ask. It is immutable once built: the same
// snapshot and config always produce the same request.
type Request struct {
	Kind      models.RunKind
	Prompt    string
	MaxTokens int
	Snapshot  models.Snapshot
}

// Response is what a provider hands back on success.
type Response struct {
	Text       string
	TokensUsed int
	Model      string
}

// Provider is a single link in the generation chain.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Checker is implemented by providers that can probe their backend without
// generating anything.
type Checker interface {
	Check(ctx context.Context) error
}

type ErrorKind string

const (
	Timeout         ErrorKind = "timeout"
	RateLimited     ErrorKind = "rate_limited"
	InvalidResponse ErrorKind = "invalid_response"
	Unreachable     ErrorKind = "unreachable"
)

// ProviderError is a classified generation failure from one provider.
type ProviderError struct {
	Provider string
	Kind     ErrorKind
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Kind)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func newProviderError(provider string, kind ErrorKind, err error) *ProviderError {
	return &ProviderError{Provider: provider, Kind: kind, Err: err}
}

// IsKind reports whether err carries a ProviderError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == kind
}

// statusKind maps a non-2xx provider status to an error kind.
func statusKind(code int) ErrorKind {
	switch {
	case code == 429:
		return RateLimited
	case code >= 500:
		return Unreachable
	default:
		return InvalidResponse
	}
}

// wrapErr classifies transport-level provider failures.
func wrapErr(provider string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return newProviderError(provider, Timeout, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return newProviderError(provider, Timeout, err)
	}
	return newProviderError(provider, Unreachable, err)
}
