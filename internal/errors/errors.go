// Package errors provides the failure taxonomy of the anchoring pipeline.
package errors

import (
	stderrors "errors"
	"net/http"
)

// Kind is a machine-readable failure kind persisted on intents.
type Kind string

const (
	KindUnknown             Kind = "UNKNOWN"
	KindValidation          Kind = "VALIDATION_ERROR"
	KindStorageUnavailable  Kind = "STORAGE_UNAVAILABLE"
	KindServicePaused       Kind = "SERVICE_PAUSED"
	KindUnauthorizedRelayer Kind = "UNAUTHORIZED_RELAYER"
	KindNoValidAccess       Kind = "NO_VALID_ACCESS"
	KindPreflightRejected   Kind = "PREFLIGHT_REJECTED"
	KindSubmissionFailed    Kind = "SUBMISSION_FAILED"
	KindConfirmationTimeout Kind = "CONFIRMATION_TIMEOUT"
	KindInvalidTransition   Kind = "INVALID_TRANSITION"
	KindNotFound            Kind = "NOT_FOUND"
	KindInternal            Kind = "INTERNAL"
)

// Retryable reports whether a later attempt may succeed without operator action.
func (k Kind) Retryable() bool {
	switch k {
	case KindStorageUnavailable, KindServicePaused, KindSubmissionFailed, KindConfirmationTimeout:
		return true
	default:
		return false
	}
}

// HTTPStatus maps a kind to the status used by the HTTP surface.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	case KindServicePaused, KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindUnauthorizedRelayer, KindNoValidAccess:
		return http.StatusForbidden
	case KindPreflightRejected:
		return http.StatusUnprocessableEntity
	case KindSubmissionFailed, KindConfirmationTimeout:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Metadata keys attached by the pipeline stages.
const (
	MetaReason         = "reason"
	MetaUpstreamStatus = "upstream_status"
	MetaUpstreamBody   = "upstream_body"
	MetaTxRef          = "tx_ref"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Kind     Kind
	Message  string
	Metadata map[string]string
	Cause    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause for error chain traversal.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error by kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// Meta returns a metadata value or "".
func (e *Error) Meta(key string) string {
	if e == nil || e.Metadata == nil {
		return ""
	}
	return e.Metadata[key]
}

// New creates a domain error with a kind and message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// WithMetadata creates a domain error carrying upstream details.
func WithMetadata(kind Kind, message string, metadata map[string]string) *Error {
	return &Error{Kind: kind, Message: message, Metadata: metadata}
}

// Wrap creates a domain error that wraps an underlying cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// WrapWithMetadata creates a domain error with both metadata and a cause.
func WrapWithMetadata(kind Kind, message string, metadata map[string]string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Metadata: metadata, Cause: cause}
}

// KindOf extracts the kind of the first *Error in the chain.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// As returns the first *Error in the chain, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if stderrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
