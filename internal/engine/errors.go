package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a provider failure by how the router should react.
type Kind string

const (
	// KindAuth: credentials rejected. The provider stays out until reset.
	KindAuth Kind = "auth"
	// KindQuota: rate or billing limit hit. The provider cools down.
	KindQuota Kind = "quota"
	// KindTimeout: deadline, network failure or upstream 5xx. Retryable.
	KindTimeout Kind = "timeout"
	// KindMalformed: the provider answered but the body was unusable.
	KindMalformed Kind = "malformed"
)

// Error is a classified provider failure.
type Error struct {
	Kind     Kind
	Provider string
	Status   int
	Err      error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d): %v", e.Provider, e.Kind, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// statusCoder is implemented by client errors carrying an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// malformer is implemented by client errors for unusable response bodies.
type malformer interface {
	Malformed() bool
}

// KindForStatus maps an HTTP status to a failure kind.
func KindForStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindAuth
	case status == http.StatusPaymentRequired, status == http.StatusTooManyRequests:
		return KindQuota
	case status == http.StatusRequestTimeout, status >= 500:
		return KindTimeout
	default:
		// Other 4xx: the request was understood but no answer is usable.
		return KindMalformed
	}
}

// Classify wraps err as an *Error for provider. Already classified errors
// are returned as is. Unknown errors count as transient network failures.
func Classify(provider string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Provider == "" {
			e.Provider = provider
		}
		return e
	}

	var sc statusCoder
	if errors.As(err, &sc) {
		return &Error{Kind: KindForStatus(sc.StatusCode()), Provider: provider, Status: sc.StatusCode(), Err: err}
	}

	var m malformer
	if errors.As(err, &m) && m.Malformed() {
		return &Error{Kind: KindMalformed, Provider: provider, Err: err}
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &Error{Kind: KindTimeout, Provider: provider, Err: err}
	}

	return &Error{Kind: KindTimeout, Provider: provider, Err: err}
}

// KindOf reports the kind of a classified error, or KindTimeout for anything else.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTimeout
}
