// Package kiserr defines the error taxonomy shared by the engine packages.
// Callers branch on these with errors.Is/errors.As; wrapping sites use
// fmt.Errorf("%w: ...") so the sentinels survive the wrap.
package kiserr

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration means a required credential or the encryption key
	// is missing or malformed. Never retried.
	ErrConfiguration = errors.New("kis: configuration missing or invalid")

	// ErrIntegrity means stored ciphertext failed authentication on
	// decrypt. Indicates data-at-rest corruption, never retried.
	ErrIntegrity = errors.New("kis: encrypted data failed integrity check")

	// ErrAuthentication means the broker rejected our credentials or a
	// freshly refreshed token. The caller must re-authenticate.
	ErrAuthentication = errors.New("kis: broker rejected authentication")

	// ErrPersistence wraps failures of the underlying store. Writes are
	// never retried automatically.
	ErrPersistence = errors.New("kis: persistence failure")
)

// ValidationError reports malformed input, naming the offending field.
// It is raised before any encryption or I/O happens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("kis: invalid %s: %s", e.Field, e.Reason)
}

// APIError carries a non-2xx broker response. The retry policy inspects
// the status to decide retryability.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("kis: broker returned status %d: %s", e.Status, e.Body)
}

// StatusOf extracts the HTTP status from err if it carries one. ok is
// false for network-level failures that never produced a response.
func StatusOf(err error) (status int, ok bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status, true
	}
	return 0, false
}
