package backend

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	ErrNotAvailable = errors.New("backend not available")
	ErrSocket       = errors.New("socket error")
	ErrUnsupported  = errors.New("operation not supported")
)

// Error is returned by backends and the selector. Kind is one of the
// sentinels above; Err is the underlying OS error when there is one.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", e.Kind, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}
	return e.Kind.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

func notAvailable(format string, args ...any) error {
	return &Error{Kind: ErrNotAvailable, Msg: fmt.Sprintf(format, args...)}
}

func socketError(op string, err error) error {
	return &Error{Kind: ErrSocket, Msg: op, Err: err}
}

func unsupported(msg string) error {
	return &Error{Kind: ErrUnsupported, Msg: msg}
}
