package render

import (
	"errors"
	"strings"
)

// Error kinds. Every terminal failure of a job is an *Error whose Kind is
// one of these.
var (
	ErrMissingArgument   = errors.New("render: missing argument")
	ErrCancelled         = errors.New("render: job cancelled")
	ErrTypeset           = errors.New("render: typeset error")
	ErrExecution         = errors.New("render: execution error")
	ErrConcurrentRequest = errors.New("render: concurrent request")
	ErrSnapshot          = errors.New("render: snapshot failure")
)

// ErrClosed is the cause of jobs cancelled because the renderer shut down.
var ErrClosed = errors.New("render: renderer closed")

// Error is a terminal job failure.
type Error struct {
	Kind      error
	RequestID string
	Message   string
	Err       error
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Kind.Error())
	if e.RequestID != "" {
		sb.WriteString(" (request ")
		sb.WriteString(e.RequestID)
		sb.WriteString(")")
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	if e.Err != nil && e.Err.Error() != e.Message {
		sb.WriteString(": ")
		sb.WriteString(e.Err.Error())
	}
	return sb.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(kind error, requestID, message string, cause error) *Error {
	return &Error{Kind: kind, RequestID: requestID, Message: message, Err: cause}
}

// KindOf returns the kind of a render error, or nil if err is not one.
func KindOf(err error) error {
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return nil
}
