// Package errs defines the failure kinds the HTTP layer knows how to report.
package errs

import (
	"net/http"

	"github.com/pkg/errors"
)

// Kind classifies a failure for the request boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindUpstream
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindUpstream:
		return "upstream"
	default:
		return "internal"
	}
}

// Error carries a Kind, a client safe message and the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Validation reports a rejected request.
func Validation(message string) error {
	return &Error{Kind: KindValidation, Message: message}
}

// NotFound reports an unknown identifier.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Upstream wraps a model provider failure.
func Upstream(err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Kind == KindUpstream {
		return err
	}
	return &Error{Kind: KindUpstream, Message: "model provider failed", Err: err}
}

// Internal wraps an unexpected fault.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindInternal, Message: "internal error", Err: err}
}

// KindOf returns the Kind of err, KindInternal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Message returns the client safe message for err. Upstream failures also
// expose the root cause text so users see why generation stopped.
func Message(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == KindUpstream && e.Err != nil {
		return e.Message + ": " + errors.Cause(e.Err).Error()
	}
	return e.Message
}

// HTTPStatus maps the Kind of err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
