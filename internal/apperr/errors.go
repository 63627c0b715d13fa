// Package apperr classifies failures of calls to the storefront backend and
// of local validation into a small set of kinds that drive rollback and the
// message shown to the shopper.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindUnknown         Kind = "unknown"
	KindUnauthenticated Kind = "unauthenticated"
	KindInvalidInput    Kind = "invalid_input"
	KindInvalidQuantity Kind = "invalid_quantity"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindForbidden       Kind = "forbidden"
	KindServerError     Kind = "server_error"
	KindNetworkError    Kind = "network_error"
)

func (k Kind) String() string {
	return string(k)
}

var (
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated, Message: "session expired, please log in again"}
	ErrEmptyCart       = &Error{Kind: KindInvalidInput, Message: "cart is empty, nothing to checkout"}
)

// Error is the classified error returned across the reconciler and checkout
// boundaries.
type Error struct {
	Kind    Kind
	Op      string
	Status  int
	Message string
	Fields  map[string]string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrUnauthenticated)
// holds for every unauthenticated failure.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

func Wrap(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Validation builds an InvalidInput error carrying per-field messages.
func Validation(op string, fields map[string]string) *Error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: "validation failed", Fields: fields}
}

// KindOf returns the kind of err, KindUnknown for unclassified errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// FromStatus classifies a non-2xx backend response. lineOp marks cart line
// mutations, where a 400 means the requested quantity was rejected.
func FromStatus(op string, status int, body []byte, lineOp bool) *Error {
	e := &Error{Op: op, Status: status, Message: strings.TrimSpace(string(body))}
	switch {
	case status == http.StatusBadRequest && lineOp:
		e.Kind = KindInvalidQuantity
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		e.Kind = KindInvalidInput
	case status == http.StatusUnauthorized:
		e.Kind = KindUnauthenticated
	case status == http.StatusForbidden:
		e.Kind = KindForbidden
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusConflict:
		e.Kind = KindConflict
	case status >= 500:
		e.Kind = KindServerError
	default:
		e.Kind = KindUnknown
	}
	return e
}

// Message returns the shopper-facing text for err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindInvalidInput && e.Message != "" && e.Fields == nil {
		return e.Message
	}
	switch KindOf(err) {
	case "":
		return ""
	case KindUnauthenticated:
		return "Your session has expired. Please log in again."
	case KindInvalidInput:
		return "Please review the highlighted fields."
	case KindInvalidQuantity:
		return "The requested quantity is not valid."
	case KindNotFound:
		return "This item is no longer in your cart."
	case KindConflict:
		return "The item was changed elsewhere. Please try again."
	case KindForbidden:
		return "You are not allowed to perform this action."
	case KindServerError:
		return "Server error. Please try again later."
	case KindNetworkError:
		return "Check your internet connection and try again."
	default:
		return "Something went wrong. Please try again."
	}
}

// HTTPStatus maps a kind back onto the status the local API answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindInvalidInput, KindInvalidQuantity:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNetworkError:
		return http.StatusBadGateway
	case KindServerError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
