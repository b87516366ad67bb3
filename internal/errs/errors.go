// Package errs provides the unified error type used across InsightDB.
//
// Every subsystem (database gateway, cipher, AI orchestrator, stores, …) wraps
// its native errors into *errs.Error before returning them to callers. Callers
// use the Is* predicates to handle errors without importing driver-specific
// packages.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Wrap(errs.ErrKindExecutionFailed, "query failed", pgErr)
//
//	// In a handler, check the error kind:
//	if errs.IsNotFound(err) {
//	    http.Error(w, "not found", http.StatusNotFound)
//	}
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKind categorises an error without exposing subsystem-specific codes.
// All backends (Postgres, MySQL, the model endpoint, MinIO, …) map their native
// errors to one of these kinds, giving callers a single consistent API.
type ErrKind int

const (
	ErrKindUnknown          ErrKind = iota
	ErrKindNotFound                 // no rows, no connection, no object
	ErrKindConnectionFailed         // cannot reach or authenticate to a target database
	ErrKindTimeout                  // context deadline / cancellation
	ErrKindExecutionFailed          // SQL failed on the target database
	ErrKindInvalidInput             // bad arguments from the caller
	ErrKindPermissionDenied         // access denied
	ErrKindIntegrity                // encrypted secret failed authentication
	ErrKindFormat                   // encrypted secret does not parse
	ErrKindRateLimited              // external model throttling
	ErrKindSafetyRejected           // statement outside the read-only allow-list
	ErrKindUnsupported              // unknown dialect or feature
	ErrKindSyntax                   // target database could not parse the statement
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindNotFound:
		return "not_found"
	case ErrKindConnectionFailed:
		return "connection_failed"
	case ErrKindTimeout:
		return "timeout"
	case ErrKindExecutionFailed:
		return "execution_failed"
	case ErrKindInvalidInput:
		return "invalid_input"
	case ErrKindPermissionDenied:
		return "permission_denied"
	case ErrKindIntegrity:
		return "integrity"
	case ErrKindFormat:
		return "format"
	case ErrKindRateLimited:
		return "rate_limited"
	case ErrKindSafetyRejected:
		return "safety_rejected"
	case ErrKindUnsupported:
		return "unsupported"
	case ErrKindSyntax:
		return "syntax_error"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all InsightDB subsystems.
// Drivers produce it; callers inspect it via the Is* predicates below.
type Error struct {
	Kind    ErrKind
	Message string
	Cause   error // original driver-level error, preserved for logging
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, e.Message)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf is New with a format string.
func Newf(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// --- Predicates ---

// IsNotFound reports whether err represents a "not found" result.
func IsNotFound(err error) bool {
	return KindOf(err) == ErrKindNotFound
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	return KindOf(err) == ErrKindTimeout
}

// IsConnectionFailed reports whether err is a connectivity or auth failure.
func IsConnectionFailed(err error) bool {
	return KindOf(err) == ErrKindConnectionFailed
}

// IsExecutionFailed reports whether err is a SQL execution failure on the
// target database.
func IsExecutionFailed(err error) bool {
	return KindOf(err) == ErrKindExecutionFailed
}

// IsInvalidInput reports whether err was caused by bad input from the caller.
func IsInvalidInput(err error) bool {
	return KindOf(err) == ErrKindInvalidInput
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	return KindOf(err) == ErrKindPermissionDenied
}

// IsIntegrity reports whether an encrypted secret failed its authentication check.
func IsIntegrity(err error) bool {
	return KindOf(err) == ErrKindIntegrity
}

// IsFormat reports whether an encrypted secret could not be parsed.
func IsFormat(err error) bool {
	return KindOf(err) == ErrKindFormat
}

// IsRateLimited reports whether err is a throttling signal from the model endpoint.
func IsRateLimited(err error) bool {
	return KindOf(err) == ErrKindRateLimited
}

// IsSafetyRejected reports whether a statement was refused by the read-only gate.
func IsSafetyRejected(err error) bool {
	return KindOf(err) == ErrKindSafetyRejected
}

// IsUnsupported reports whether err names an unsupported dialect or feature.
func IsUnsupported(err error) bool {
	return KindOf(err) == ErrKindUnsupported
}

// IsSyntax reports whether the target database rejected the statement's syntax.
func IsSyntax(err error) bool {
	return KindOf(err) == ErrKindSyntax
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindUnknown
}

// RootKind returns the kind of the innermost *Error in the chain, which is
// the kind assigned closest to the failing subsystem. Errors re-wrapped by
// higher layers keep their original classification here.
func RootKind(err error) ErrKind {
	kind := ErrKindUnknown
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			break
		}
		kind = e.Kind
		err = e.Cause
	}
	return kind
}

// HTTPStatus maps the kind of err to the status code an HTTP caller sees.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case ErrKindNotFound:
		return http.StatusNotFound
	case ErrKindExecutionFailed, ErrKindSyntax, ErrKindInvalidInput, ErrKindSafetyRejected, ErrKindUnsupported:
		return http.StatusBadRequest
	case ErrKindPermissionDenied:
		return http.StatusForbidden
	case ErrKindRateLimited:
		return http.StatusTooManyRequests
	case ErrKindTimeout:
		return http.StatusGatewayTimeout
	case ErrKindConnectionFailed:
		return http.StatusBadGateway
	case ErrKindIntegrity, ErrKindFormat:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
