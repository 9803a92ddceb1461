// Package github implements the rate-limited, retrying fetcher over the
// GitHub REST API. It is the only component that talks to the source host.
package github

import (
	"errors"
	"fmt"
)

// Kind classifies a fetch failure. NotFound and Forbidden are terminal for
// a URL; RateLimited and Transient are retried with backoff.
type Kind string

const (
	KindRateLimited Kind = "rate_limited"
	KindNotFound    Kind = "not_found"
	KindForbidden   Kind = "forbidden"
	KindTransient   Kind = "transient"
)

// Retryable reports whether another attempt may succeed.
func (k Kind) Retryable() bool {
	return k == KindRateLimited || k == KindTransient
}

// FetchError is the typed failure returned by the client.
type FetchError struct {
	Kind       Kind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch %s: %s: %v", e.URL, e.Kind, e.Err)
	}
	return fmt.Sprintf("fetch %s: %s (http %d)", e.URL, e.Kind, e.StatusCode)
}

func (e *FetchError) Unwrap() error { return e.Err }

// KindOf extracts the failure kind from err, defaulting to Transient for
// anything that is not a FetchError.
func KindOf(err error) Kind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindTransient
}
