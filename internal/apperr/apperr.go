package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure so transports can map it without string matching.
type Kind string

const (
	KindNotFound       Kind = "not-found"
	KindAuthentication Kind = "authentication"
	KindAuthorization  Kind = "authorization"
	KindIllegalState   Kind = "illegal-state"
	KindIllegalMove    Kind = "illegal-move"
	KindCapacity       Kind = "capacity"
	KindInvalid        Kind = "invalid-request"
	KindInternal       Kind = "internal"
)

// Error is an expected, user-visible failure with a short specific message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

// New creates a typed error.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the kind of err, or KindInternal for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps the kind of err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindIllegalState, KindCapacity:
		return http.StatusConflict
	case KindIllegalMove:
		return http.StatusUnprocessableEntity
	case KindInvalid:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
