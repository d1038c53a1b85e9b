package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"peppolrelay/pkg/domain"
)

// ErrorCategory is the normalized failure taxonomy of a gateway call.
type ErrorCategory string

const (
	ErrorTimeout           ErrorCategory = "timeout"
	ErrorBadData           ErrorCategory = "bad_data"
	ErrorAuthentication    ErrorCategory = "authentication"
	ErrorUnavailable       ErrorCategory = "unavailable"
	ErrorAlreadyRegistered ErrorCategory = "already_registered"
	ErrorNotFound          ErrorCategory = "not_found"
	ErrorRateLimited       ErrorCategory = "rate_limited"
	ErrorRejected          ErrorCategory = "rejected"
	ErrorInternal          ErrorCategory = "internal"
)

// Routing failures. They are terminal and never retried.
var (
	ErrNotRegistered = errors.New("participant is not registered to send")
	ErrNotActive     = errors.New("access point not active")
)

// Error wraps a failed call to an access point.
type Error struct {
	Category  ErrorCategory
	Gateway   domain.AccessPoint
	Message   string
	Err       error
	Retryable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("gateway %s [%s]: %s: %v", e.Gateway, e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("gateway %s [%s]: %s", e.Gateway, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a gateway error; retryability follows the category.
func NewError(category ErrorCategory, ap domain.AccessPoint, message string, err error) *Error {
	return &Error{
		Category:  category,
		Gateway:   ap,
		Message:   message,
		Err:       err,
		Retryable: category == ErrorTimeout || category == ErrorUnavailable || category == ErrorRateLimited,
	}
}

func IsRetryable(err error) bool {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Retryable
	}
	return false
}

func CategoryOf(err error) ErrorCategory {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Category
	}
	return ErrorInternal
}

// FromTransport classifies an error returned by http.Client.Do.
func FromTransport(ap domain.AccessPoint, op string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(ErrorTimeout, ap, op+" timed out", err)
	}
	return NewError(ErrorUnavailable, ap, op+" failed", err)
}

// FromStatus classifies a non-2xx HTTP response.
func FromStatus(ap domain.AccessPoint, op string, status int, body string) *Error {
	msg := fmt.Sprintf("%s returned %d", op, status)
	if body != "" {
		msg += ": " + body
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(ErrorAuthentication, ap, msg, nil)
	case status == http.StatusNotFound:
		return NewError(ErrorNotFound, ap, msg, nil)
	case status == http.StatusConflict:
		return NewError(ErrorAlreadyRegistered, ap, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewError(ErrorRateLimited, ap, msg, nil)
	case status >= 500:
		return NewError(ErrorUnavailable, ap, msg, nil)
	default:
		return NewError(ErrorRejected, ap, msg, nil)
	}
}
