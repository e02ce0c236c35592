// Package datasource invokes external providers that report on a monitored
// subject. A provider performs exactly one invocation per Fetch call and never
// retries; retry policy belongs to the poll loop.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const subjectPlaceholder = "{subject}"

// Payload is the raw structured output of one provider invocation.
type Payload struct {
	Provider  string
	Subject   string
	Body      []byte
	FetchedAt time.Time
}

type Provider interface {
	Name() string
	Fetch(ctx context.Context, subject string, timeout time.Duration) (*Payload, error)
}

type FailureKind string

const (
	KindUnavailable       FailureKind = "unavailable"
	KindTimeout           FailureKind = "timeout"
	KindMalformedResponse FailureKind = "malformed_response"
)

var (
	ErrUnavailable       = errors.New("provider unavailable")
	ErrTimeout           = errors.New("provider timeout")
	ErrMalformedResponse = errors.New("malformed provider response")
)

// ProviderError is the only error type Fetch returns.
type ProviderError struct {
	Kind     FailureKind
	Provider string
	Subject  string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s provider %s for subject %s: %v", e.Provider, e.Kind, e.Subject, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrUnavailable:
		return e.Kind == KindUnavailable
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrMalformedResponse:
		return e.Kind == KindMalformedResponse
	}
	return false
}

func newError(kind FailureKind, provider, subject string, err error) *ProviderError {
	return &ProviderError{Kind: kind, Provider: provider, Subject: subject, Err: err}
}

// classify maps a context failure onto Timeout and everything else onto Unavailable.
func classify(ctx context.Context, provider, subject string, err error) *ProviderError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(KindTimeout, provider, subject, err)
	}
	return newError(KindUnavailable, provider, subject, err)
}

func expandArgs(args []string, subject string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = strings.ReplaceAll(arg, subjectPlaceholder, subject)
	}
	return out
}

func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
