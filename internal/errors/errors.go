// Package errors provides the error taxonomy used across the optimization engine.
//
// Every error raised by a collaborator (configuration layer, data layer, backtest
// engine) is expected to carry a Kind so the engine can record what went wrong
// with a trial without inspecting messages.
package errors

import (
	stderrors "errors"
	"fmt"
	"runtime"
	"strings"
)

// Kind classifies an error for trial bookkeeping and error summaries.
type Kind string

const (
	// KindConfiguration marks invalid parameter spaces, optimization configs or
	// strategy configurations. Fatal when detected before a run starts.
	KindConfiguration Kind = "ConfigurationError"
	// KindData marks missing or malformed market data.
	KindData Kind = "DataError"
	// KindBacktest marks failures of the backtest itself or of its result.
	KindBacktest Kind = "BacktestError"
	// KindUnknown marks anything that could not be classified.
	KindUnknown Kind = "UnknownError"
)

// Kinds lists every kind in reporting order.
var Kinds = []Kind{KindConfiguration, KindData, KindBacktest, KindUnknown}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// IsValid reports whether k is one of the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindConfiguration, KindData, KindBacktest, KindUnknown:
		return true
	default:
		return false
	}
}

// Error represents a classified error with context and stack trace.
type Error struct {
	// Kind is the classification of the error.
	Kind Kind
	// The underlying error that was returned
	Err error
	// A human-readable message describing the error
	Message string
	// The operation that was being performed when the error occurred
	Operation string
	// The component or package where the error occurred
	Component string
	// The stack trace
	Stack []string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}

	var builder strings.Builder

	if e.Component != "" {
		builder.WriteString(e.Component)
	}

	if e.Operation != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Operation)
	}

	if e.Message != "" {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Message)
	}

	if e.Err != nil {
		if builder.Len() > 0 {
			builder.WriteString(": ")
		}
		builder.WriteString(e.Err.Error())
	}

	return builder.String()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithOperation adds an operation to the error.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithComponent adds a component to the error.
func (e *Error) WithComponent(component string) *Error {
	e.Component = component
	return e
}

// StackTrace returns the stack trace as a slice of strings.
func (e *Error) StackTrace() []string {
	return e.Stack
}

// New creates a new error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{
		Kind:    kind,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Newf creates a new error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// Configuration creates a ConfigurationError.
func Configuration(msg string) *Error {
	return &Error{Kind: KindConfiguration, Message: msg, Stack: getStackTrace()}
}

// Configurationf creates a ConfigurationError with a formatted message.
func Configurationf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// Data creates a DataError.
func Data(msg string) *Error {
	return &Error{Kind: KindData, Message: msg, Stack: getStackTrace()}
}

// Dataf creates a DataError with a formatted message.
func Dataf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindData, Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// Backtest creates a BacktestError.
func Backtest(msg string) *Error {
	return &Error{Kind: KindBacktest, Message: msg, Stack: getStackTrace()}
}

// Backtestf creates a BacktestError with a formatted message.
func Backtestf(format string, args ...interface{}) *Error {
	return &Error{Kind: KindBacktest, Message: fmt.Sprintf(format, args...), Stack: getStackTrace()}
}

// Unknown creates an UnknownError.
func Unknown(msg string) *Error {
	return &Error{Kind: KindUnknown, Message: msg, Stack: getStackTrace()}
}

// Wrap wraps err as an error of the given kind.
// If err is nil, Wrap returns nil.
func Wrap(kind Kind, err error, msg string) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: msg,
		Stack:   getStackTrace(),
	}
}

// Wrapf wraps err as an error of the given kind with a formatted message.
// If err is nil, Wrapf returns nil.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *Error {
	if err == nil {
		return nil
	}
	return &Error{
		Kind:    kind,
		Err:     err,
		Message: fmt.Sprintf(format, args...),
		Stack:   getStackTrace(),
	}
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Errors that carry no classification are KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for err != nil {
		var e *Error
		if !stderrors.As(err, &e) {
			break
		}
		if e.Kind.IsValid() {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// getStackTrace returns the current stack trace as a slice of strings.
func getStackTrace() []string {
	const depth = 32
	var pcs [depth]uintptr
	n := runtime.Callers(3, pcs[:]) // Skip runtime.Callers, getStackTrace, and the constructor
	if n == 0 {
		return nil
	}

	frames := runtime.CallersFrames(pcs[:n])
	stack := make([]string, 0, n)

	for {
		frame, more := frames.Next()
		if !strings.Contains(frame.File, "runtime/") && !strings.Contains(frame.File, "internal/errors") {
			stack = append(stack, fmt.Sprintf("%s\n\t%s:%d", frame.Function, frame.File, frame.Line))
		}
		if !more {
			break
		}
	}

	return stack
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return stderrors.As(err, target)
}

// Unwrap returns the result of calling the Unwrap method on err, if err's
// type contains an Unwrap method returning error.
// Otherwise, Unwrap returns nil.
func Unwrap(err error) error {
	return stderrors.Unwrap(err)
}
