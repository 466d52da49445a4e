// Package apperr carries the domain error taxonomy: validation, not-found,
// conflict and authorization failures are returned to handlers as typed
// values so the HTTP layer can map them without string matching.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindValidation Kind = iota + 1
	KindNotFound
	KindConflict
	KindForbidden
)

// Error is a domain failure with a user-presentable message.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func Validation(msg string) error  { return &Error{Kind: KindValidation, Msg: msg} }
func NotFound(msg string) error    { return &Error{Kind: KindNotFound, Msg: msg} }
func Conflict(msg string) error    { return &Error{Kind: KindConflict, Msg: msg} }
func Forbidden(msg string) error   { return &Error{Kind: KindForbidden, Msg: msg} }

func Validationf(format string, args ...interface{}) error {
	return Validation(fmt.Sprintf(format, args...))
}

// KindOf returns the taxonomy kind of err, or zero when err is not a
// domain error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsForbidden(err error) bool  { return KindOf(err) == KindForbidden }

// HTTPStatus maps a domain error to its HTTP status. Unclassified errors
// are treated as internal.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
