package domain

import (
	"errors"
	"fmt"
)

// FetchErrorKind classifies feed fetch failures for retry policy.
type FetchErrorKind string

const (
	// FetchTransient covers timeouts, connection failures, and 5xx
	// responses. The next scheduled cycle retries.
	FetchTransient FetchErrorKind = "transient"
	// FetchPermanent covers 4xx responses and fully unparsable payloads.
	// Retrying the same request would fail the same way.
	FetchPermanent FetchErrorKind = "permanent"
)

// FetchError is the typed failure returned by the feed client.
type FetchError struct {
	Kind FetchErrorKind
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("feed fetch (%s): %v", e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewFetchError wraps err with a retry classification.
func NewFetchError(kind FetchErrorKind, err error) *FetchError {
	return &FetchError{Kind: kind, Err: err}
}

// FetchErrorKindOf extracts the classification from err, defaulting to
// transient when err is not a FetchError.
func FetchErrorKindOf(err error) FetchErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return FetchTransient
}
