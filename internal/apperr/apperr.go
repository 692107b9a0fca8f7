// Package apperr defines the error kinds shared by the catalog, member and
// circulation packages. Each package declares its own sentinels with New so
// callers can match either the specific sentinel or the whole kind.
package apperr

import "errors"

// Kind classifies an error for callers and transports.
type Kind uint8

const (
	// Internal covers storage failures and anything not created by this package.
	Internal Kind = iota
	Validation
	NotFound
	OutOfStock
	LimitExceeded
	Duplicate
	Conflict
)

// Code returns the machine-readable code used in API responses.
func (k Kind) Code() string {
	switch k {
	case Validation:
		return "VALIDATION_ERROR"
	case NotFound:
		return "NOT_FOUND"
	case OutOfStock:
		return "OUT_OF_STOCK"
	case LimitExceeded:
		return "LIMIT_EXCEEDED"
	case Duplicate:
		return "DUPLICATE"
	case Conflict:
		return "CONFLICT"
	default:
		return "INTERNAL_ERROR"
	}
}

func (k Kind) String() string { return k.Code() }

// Error is a domain error carrying its kind.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Kind.Code()
	}
	return e.Message
}

// Is reports whether target is the kind-only sentinel of e's kind, so that
// errors.Is(book.ErrNotFound, apperr.ErrNotFound) holds.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Message == "" && t.Kind == e.Kind
}

// Kind-only sentinels.
var (
	ErrValidation    = &Error{Kind: Validation}
	ErrNotFound      = &Error{Kind: NotFound}
	ErrOutOfStock    = &Error{Kind: OutOfStock}
	ErrLimitExceeded = &Error{Kind: LimitExceeded}
	ErrDuplicate     = &Error{Kind: Duplicate}
	ErrConflict      = &Error{Kind: Conflict}
)

// New returns a domain error of the given kind.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Message returns the domain message of err, or fallback for internal errors.
func Message(err error, fallback string) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return fallback
}
