package cloud

import (
	"errors"
	"fmt"
)

// Closed error set for the cloud API. Callers branch with errors.Is/errors.As;
// nothing else escapes this package.
var (
	// ErrAuthExpired means the session token is no longer valid.
	ErrAuthExpired = errors.New("cloud: auth token expired")

	// ErrAuthVerificationRequired means the account requires a verification code.
	ErrAuthVerificationRequired = errors.New("cloud: verification code required")

	// ErrInvalidURL means the configured base URL cannot be used.
	ErrInvalidURL = errors.New("cloud: invalid URL")
)

// HTTPError is a transport-level failure (unexpected status code).
type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("cloud: http error %d: %s", e.StatusCode, e.Message)
}

// APIError is a service-level failure reported in a response body.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cloud: api error %d: %s", e.Code, e.Message)
}
