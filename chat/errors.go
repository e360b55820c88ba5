package chat

import (
	"errors"
)

// Kind classifies a chat failure so transports can map it to a status.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindNotAuthorized
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid input"
	case KindNotFound:
		return "not found"
	case KindNotAuthorized:
		return "not authorized"
	default:
		return "internal fault"
	}
}

// Error carries a kind and a reason that is safe to show to the caller.
type Error struct {
	Kind   Kind
	Reason string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Reason != "":
		return e.Reason
	case e.Err != nil:
		return e.Kind.String() + ": " + e.Err.Error()
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so errors.Is(err, ErrNotFound)
// works regardless of the reason text.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput  = &Error{Kind: KindInvalidInput}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrNotAuthorized = &Error{Kind: KindNotAuthorized}
	ErrInternal      = &Error{Kind: KindInternal}
)

// KindOf reports the kind of err. Errors that are not *Error are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Internal wraps err as an internal fault. Its text is for logs only.
func Internal(err error) error {
	return &Error{Kind: KindInternal, Err: err}
}

func invalidInput(reason string) error {
	return &Error{Kind: KindInvalidInput, Reason: reason}
}
