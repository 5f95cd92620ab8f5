package errors

import (
	"context"
	stderrors "errors"
	"fmt"
)

// ErrorCode represents a specific error type for persistence operations.
type ErrorCode string

const (
	// CodeConfiguration indicates required configuration is missing or malformed.
	// It is fatal at startup.
	CodeConfiguration ErrorCode = "CONFIGURATION"
	// CodeBackendUnavailable indicates the durable store or cache could not serve the call.
	CodeBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
	// CodeNotFound indicates the requested record does not exist.
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeInvalidArgument indicates invalid input parameters.
	CodeInvalidArgument ErrorCode = "INVALID_ARGUMENT"
)

// Reason qualifies a BACKEND_UNAVAILABLE error.
type Reason string

const (
	ReasonTimeout     Reason = "timeout"
	ReasonCanceled    Reason = "canceled"
	ReasonUnreachable Reason = "unreachable"
)

// Error represents a structured error for persistence operations.
type Error struct {
	Code    ErrorCode
	Reason  Reason
	Message string
	Cause   error
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	prefix := string(e.Code)
	if e.Reason != "" {
		prefix += "/" + string(e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// Configuration creates a configuration error.
func Configuration(msg string) *Error {
	return &Error{Code: CodeConfiguration, Message: msg}
}

// BackendUnavailable creates a backend unavailable error carrying the underlying cause.
func BackendUnavailable(reason Reason, msg string, cause error) *Error {
	return &Error{Code: CodeBackendUnavailable, Reason: reason, Message: msg, Cause: cause}
}

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// InvalidArgument creates an invalid argument error.
func InvalidArgument(msg string) *Error {
	return &Error{Code: CodeInvalidArgument, Message: msg}
}

// ReasonFor classifies a failed call. A context that ended before or during the call wins
// over whatever the driver reported.
func ReasonFor(ctx context.Context, err error) Reason {
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(ctx.Err(), context.DeadlineExceeded):
		return ReasonTimeout
	case stderrors.Is(err, context.Canceled), stderrors.Is(ctx.Err(), context.Canceled):
		return ReasonCanceled
	default:
		return ReasonUnreachable
	}
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCode checks if an error is of a specific code.
func IsCode(err error, code ErrorCode) bool {
	if e, ok := As(err); ok {
		return e.Code == code
	}
	return false
}

// GetCodeFromError extracts the error code from any error.
// Returns the provided default code if the error is not an *Error.
func GetCodeFromError(err error, defaultCode ErrorCode) ErrorCode {
	if e, ok := As(err); ok {
		return e.Code
	}
	return defaultCode
}
