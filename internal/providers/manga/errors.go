package manga

import (
	"context"
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindNetwork
	KindParsing
	KindUnexpected
	KindOther
)

func (kind ErrorKind) String() string {
	switch kind {
	case KindNetwork:
		return "network error"
	case KindParsing:
		return "parsing error"
	case KindUnexpected:
		return "unexpected error"
	case KindOther:
		return "error"
	default:
		return "unknown error"
	}
}

// Error tags a failure with the kind surfaced to the reader UI.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func NetworkError(op string, err error) error {
	return &Error{Kind: KindNetwork, Op: op, Err: err}
}

func ParsingError(op string, err error) error {
	return &Error{Kind: KindParsing, Op: op, Err: err}
}

func UnexpectedError(op string, err error) error {
	return &Error{Kind: KindUnexpected, Op: op, Err: err}
}

func OtherError(op string, err error) error {
	return &Error{Kind: KindOther, Op: op, Err: err}
}

// KindOf reports the kind of the outermost *Error in err's chain. Untagged
// errors are reported as KindUnexpected.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnexpected
}

// IsCancelled reports whether err is the result of a cancelled context.
// Cancellation is an outcome, not a failure, and is never surfaced.
func IsCancelled(err error) bool {
	return errors.Is(err, context.Canceled)
}
