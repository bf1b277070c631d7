package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
)

// AnnotatedError includes more context than a plain error that is useful for troubleshooting.
type AnnotatedError struct {
	// msg is the error message.
	msg string
	// wrapped is the underlying error, nil for errors created with New.
	wrapped error
	// pc is the program counter for the location of the error provided by runtime.Callers.
	pc uintptr
	// attrs are slog attributes that are added to the log event to provide more context for the error.
	attrs []slog.Attr
}

func newAnnotated(msg string, wrapped error, attrs []slog.Attr) *AnnotatedError {
	var pcs [1]uintptr
	// Skip runtime.Callers, this function and the exported constructor.
	runtime.Callers(3, pcs[:]) //nolint:mnd // see above
	return &AnnotatedError{
		msg:     msg,
		wrapped: wrapped,
		pc:      pcs[0],
		attrs:   attrs,
	}
}

// New creates a new error annotated with the caller location and the given attributes.
func New(msg string, attrs ...slog.Attr) error {
	return newAnnotated(msg, nil, attrs)
}

// NewSentinel creates a plain error without other context that can be used as sentinel error that can be detected
// with errors.Is.
func NewSentinel(msg string) error {
	return errors.New(msg)
}

// Wrap annotates err with msg, the caller location and attrs. Returns nil if err is nil.
func Wrap(err error, msg string, attrs ...slog.Attr) error {
	if err == nil {
		return nil
	}
	return newAnnotated(msg, err, attrs)
}

// Error implements error interface.
func (e *AnnotatedError) Error() string {
	if e.wrapped == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.wrapped.Error())
}

// Unwrap returns the wrapped error.
func (e *AnnotatedError) Unwrap() error {
	return e.wrapped
}

// LogValue formats the error for useful logging.
func (e *AnnotatedError) LogValue() slog.Value {
	// Retrieve the source location of the error so that developers can locate it faster.
	frames := runtime.CallersFrames([]uintptr{e.pc})
	source, _ := frames.Next()
	attrs := []slog.Attr{
		slog.String("msg", e.Error()),
		slog.String("source", fmt.Sprintf("%s:%d", source.File, source.Line)),
	}
	attrs = append(attrs, e.attrs...)

	// Collect the attributes of the wrapped annotated errors as well.
	var inner *AnnotatedError
	if errors.As(e.wrapped, &inner) {
		attrs = append(attrs, inner.collectAttrs()...)
	}

	return slog.GroupValue(attrs...)
}

func (e *AnnotatedError) collectAttrs() []slog.Attr {
	attrs := append([]slog.Attr{}, e.attrs...)
	var inner *AnnotatedError
	if errors.As(e.wrapped, &inner) {
		attrs = append(attrs, inner.collectAttrs()...)
	}
	return attrs
}

// SlogError returns a slog attribute for logging err with all its annotations.
func SlogError(err error) slog.Attr {
	var annotated *AnnotatedError
	if errors.As(err, &annotated) {
		return slog.Any("error", annotated)
	}
	return slog.String("error", err.Error())
}

// As exposes stdlib errors.As.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// Is exposes stdlib errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap exposes stdlib errors.Unwrap.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// Join exposes stdlib errors.Join.
func Join(errs ...error) error {
	return errors.Join(errs...)
}
