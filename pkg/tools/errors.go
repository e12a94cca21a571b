package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failed invocation.
type ErrorKind string

const (
	KindUnknownTool          ErrorKind = "unknown_tool"
	KindInvalidArguments     ErrorKind = "invalid_arguments"
	KindBlockedCommand       ErrorKind = "blocked_command"
	KindPathOutsideWorkspace ErrorKind = "path_outside_workspace"
	KindTimeout              ErrorKind = "timeout"
	KindExternalDependency   ErrorKind = "external_dependency"
)

// Sentinel errors, one per kind, for use with errors.Is.
var (
	ErrUnknownTool          = errors.New("unknown tool")
	ErrInvalidArguments     = errors.New("invalid arguments")
	ErrBlockedCommand       = errors.New("blocked command")
	ErrPathOutsideWorkspace = errors.New("path outside workspace")
	ErrTimeout              = errors.New("timeout")
	ErrExternalDependency   = errors.New("external dependency failure")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindUnknownTool:
		return ErrUnknownTool
	case KindInvalidArguments:
		return ErrInvalidArguments
	case KindBlockedCommand:
		return ErrBlockedCommand
	case KindPathOutsideWorkspace:
		return ErrPathOutsideWorkspace
	case KindTimeout:
		return ErrTimeout
	default:
		return ErrExternalDependency
	}
}

// Error is the structured failure returned at the dispatcher boundary.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Tool    string    `json:"tool,omitempty"`
	Err     error     `json:"-"`
}

func (e *Error) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Message != "":
		return e.Message
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Kind.sentinel().Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

// NewError builds an *Error of the given kind.
func NewError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// InvalidArguments reports a missing, mistyped or unusable argument.
func InvalidArguments(format string, args ...interface{}) *Error {
	return NewError(KindInvalidArguments, nil, format, args...)
}

// Blocked reports a command refused by the safety guard.
func Blocked(format string, args ...interface{}) *Error {
	return NewError(KindBlockedCommand, nil, format, args...)
}

// OutsideWorkspace reports a path escaping the workspace root.
func OutsideWorkspace(err error, format string, args ...interface{}) *Error {
	return NewError(KindPathOutsideWorkspace, err, format, args...)
}

// Timeout reports an operation that exceeded its deadline.
func Timeout(format string, args ...interface{}) *Error {
	return NewError(KindTimeout, context.DeadlineExceeded, format, args...)
}

// External wraps a failure of the collaborator behind a tool.
func External(err error, format string, args ...interface{}) *Error {
	return NewError(KindExternalDependency, err, format, args...)
}

// Classify converts any error into an *Error. Typed errors keep their kind,
// deadline errors become timeouts and everything else is an external
// dependency failure.
func Classify(toolName string, err error) *Error {
	if err == nil {
		return nil
	}
	var te *Error
	if errors.As(err, &te) {
		out := *te
		if out.Tool == "" {
			out.Tool = toolName
		}
		return &out
	}
	kind := KindExternalDependency
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.Is(err, ErrUnknownTool):
		kind = KindUnknownTool
	case errors.Is(err, ErrInvalidArguments):
		kind = KindInvalidArguments
	case errors.Is(err, ErrBlockedCommand):
		kind = KindBlockedCommand
	case errors.Is(err, ErrPathOutsideWorkspace):
		kind = KindPathOutsideWorkspace
	case errors.Is(err, ErrTimeout):
		kind = KindTimeout
	}
	return &Error{Kind: kind, Tool: toolName, Err: err}
}

// KindOf returns the kind Classify would assign to err.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return Classify("", err).Kind
}
