package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// Base error types
var (
	ErrTransport         = errors.New("transport failure")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrMalformedResponse = errors.New("malformed response")
	ErrNoUser            = errors.New("no authenticated user")
	ErrInvalidInput      = errors.New("invalid input")
	ErrSuperseded        = errors.New("signed-in account changed during sync")
)

// ErrorType represents the category of a sync failure
type ErrorType string

const (
	ErrorTypeTransport ErrorType = "transport"
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeMalformed ErrorType = "malformed"
	// ErrorTypeSuperseded marks a run whose result was discarded because the
	// signed-in account changed while it was in flight.
	ErrorTypeSuperseded ErrorType = "superseded"
)

// SyncError is a structured error for subscription resolve operations
type SyncError struct {
	Type       ErrorType
	Op         string // Operation that failed (e.g., "resolve_stripe", "resolve_function")
	UserID     string
	Err        error // Underlying error
	StatusCode int   // HTTP status code if applicable
	Timestamp  time.Time
}

func (e *SyncError) Error() string {
	if e.UserID != "" {
		return fmt.Sprintf("%s failed for %s: %v", e.Op, e.UserID, e.Err)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *SyncError) Is(target error) bool {
	if target == nil {
		return false
	}

	switch target {
	case ErrUnauthorized, ErrForbidden:
		if e.Type == ErrorTypeAuth {
			return true
		}
	case ErrTransport:
		if e.Type == ErrorTypeTransport {
			return true
		}
	case ErrMalformedResponse:
		if e.Type == ErrorTypeMalformed {
			return true
		}
	}

	return errors.Is(e.Err, target)
}

// NewSyncError creates a new SyncError
func NewSyncError(errorType ErrorType, op, userID string, err error) *SyncError {
	return &SyncError{
		Type:      errorType,
		Op:        op,
		UserID:    userID,
		Err:       err,
		Timestamp: time.Now(),
	}
}

// WithStatusCode adds the HTTP status code and re-derives the type from it.
func (e *SyncError) WithStatusCode(code int) *SyncError {
	e.StatusCode = code
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		e.Type = ErrorTypeAuth
	case code >= 500 || code == http.StatusTooManyRequests || code == http.StatusRequestTimeout:
		e.Type = ErrorTypeTransport
	}
	return e
}

// Helper functions

// WrapTransportError wraps a network or timeout failure
func WrapTransportError(op, userID string, err error) error {
	return NewSyncError(ErrorTypeTransport, op, userID, err)
}

// WrapAuthError wraps a rejected session
func WrapAuthError(op, userID string, err error) error {
	return NewSyncError(ErrorTypeAuth, op, userID, err)
}

// WrapMalformedError wraps a response that could not be turned into a snapshot
func WrapMalformedError(op, userID string, err error) error {
	return NewSyncError(ErrorTypeMalformed, op, userID, err)
}

// WrapHTTPError wraps a non-2xx response from the billing backend
func WrapHTTPError(op, userID string, statusCode int, body string) error {
	body = strings.TrimSpace(body)
	if len(body) > 256 {
		body = body[:256]
	}
	err := fmt.Errorf("unexpected status %d: %s", statusCode, body)
	return NewSyncError(ErrorTypeTransport, op, userID, err).WithStatusCode(statusCode)
}

// Classify returns the error type of err. Anything that is not recognizably an
// auth or shape problem is treated as a transport failure.
func Classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Type
	}
	if IsAuthError(err) {
		return ErrorTypeAuth
	}
	if errors.Is(err, ErrMalformedResponse) {
		return ErrorTypeMalformed
	}
	if errors.Is(err, ErrSuperseded) {
		return ErrorTypeSuperseded
	}
	return ErrorTypeTransport
}

// IsTransportError reports whether err is a transport class failure. Malformed
// responses belong to this class.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	switch Classify(err) {
	case ErrorTypeTransport, ErrorTypeMalformed:
		return true
	default:
		return false
	}
}

// IsAuthError checks if an error is an authentication error
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}

	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		if syncErr.Type == ErrorTypeAuth {
			return true
		}
		if syncErr.StatusCode == http.StatusUnauthorized || syncErr.StatusCode == http.StatusForbidden {
			return true
		}
	}

	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrForbidden)
}

// ErrorInfo is the serializable description of a failed sync kept in state.
type ErrorInfo struct {
	Kind       ErrorType `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	At         time.Time `json:"at"`
}

// NewErrorInfo converts err into an ErrorInfo stamped with at.
func NewErrorInfo(err error, at time.Time) ErrorInfo {
	info := ErrorInfo{
		Kind: Classify(err),
		At:   at.UTC(),
	}
	if err != nil {
		info.Message = err.Error()
	}
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		info.StatusCode = syncErr.StatusCode
	}
	return info
}
