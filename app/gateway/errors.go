package gateway

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindAuth              ErrorKind = "auth"
	KindRateLimited       ErrorKind = "rate_limited"
	KindUnavailable       ErrorKind = "unavailable"
	KindNetwork           ErrorKind = "network"
	KindMalformedResponse ErrorKind = "malformed_response"
)

// Error classifies a gateway failure so the retry layer can decide whether
// another attempt can help.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("gateway %s: status=%d %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("gateway %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindUnavailable, KindRateLimited:
		return true
	default:
		return false
	}
}

// IsRetryable reports whether a retry can possibly change the outcome.
// Unclassified errors are treated as network-level and retried.
func IsRetryable(err error) bool {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr.Retryable()
	}
	return true
}

func IsValidation(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Kind == KindValidation
}

func classifyHTTPStatus(status int, message string) *Error {
	switch {
	case status == 429:
		return &Error{Kind: KindRateLimited, StatusCode: status, Message: message}
	case status >= 500:
		return &Error{Kind: KindUnavailable, StatusCode: status, Message: message}
	case status == 401 || status == 403:
		return &Error{Kind: KindAuth, StatusCode: status, Message: message}
	default:
		return &Error{Kind: KindValidation, StatusCode: status, Message: message}
	}
}
