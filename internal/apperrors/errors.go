package apperrors

import (
	"errors"
	"net/http"
)

// Kind classifies failures of the join flow.
type Kind string

const (
	// KindConfig marks missing or invalid process configuration. Fatal for the request.
	KindConfig Kind = "config"
	// KindInvalidInput marks malformed request parameters.
	KindInvalidInput Kind = "invalid_input"
	// KindSigning marks a credential that could not be built or signed.
	KindSigning Kind = "signing"
	// KindDispatch marks a failed best-effort agent dispatch. Never surfaced to clients.
	KindDispatch Kind = "dispatch"
	// KindInternal is used for anything unclassified.
	KindInternal Kind = "internal"
)

// Error is a classified error with an optional underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return e.Message + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels usable with errors.Is.
var (
	ErrConfig       = New(KindConfig, "configuration error")
	ErrInvalidInput = New(KindInvalidInput, "invalid input")
	ErrSigning      = New(KindSigning, "signing error")
	ErrDispatch     = New(KindDispatch, "dispatch error")
)

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error to the status returned to the browser.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
