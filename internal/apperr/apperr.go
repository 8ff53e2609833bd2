// Package apperr defines the rejection kinds surfaced by the detector service.
// Every failure that leaves a component is translated into one of these kinds.
package apperr

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind identifies a class of rejection.
type Kind string

const (
	// EmptyPayload is returned for a zero-length upload.
	EmptyPayload Kind = "empty_payload"
	// PayloadTooLarge is returned when the upload exceeds the configured maximum.
	PayloadTooLarge Kind = "payload_too_large"
	// UnsupportedContentType is returned when a declared content type is not image/*.
	UnsupportedContentType Kind = "unsupported_content_type"
	// InvalidImage is returned when the payload cannot be decoded as an image.
	InvalidImage Kind = "invalid_image"
	// InvalidParameter is returned when a numeric override is malformed or out of range.
	InvalidParameter Kind = "invalid_parameter"
	// Unauthorized is returned when the API key is missing or wrong.
	Unauthorized Kind = "unauthorized"
	// ModelUnavailable is returned when no detector has been loaded.
	ModelUnavailable Kind = "model_unavailable"
	// Overloaded is returned when the admission queue is full or the slot wait timed out.
	Overloaded Kind = "overloaded"
	// InferenceFailure is returned when the detector itself fails.
	InferenceFailure Kind = "inference_failure"
)

// Error is a rejection of a given kind with a human-readable message.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

// New creates an Error without an underlying cause.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error carrying cause. The cause is not exposed in Message.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error { return e.cause }

// KindOf extracts the Kind of err. Errors that are not an *Error report
// InferenceFailure, the catch-all for unexpected internal failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return InferenceFailure
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// MessageOf returns the client-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "Internal error"
}
