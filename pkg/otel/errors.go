package otel

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Error types recorded on spans as error.type.
//
// A dataset load can fail on the wire (network, a 5xx from the dataset
// host) and succeed when the job is rerun; those failures are transient.
// A missing local file, a 4xx, an unreadable station document or a trip
// table without the required columns fails again on every run.
const (
	ErrorTypeNetwork    = "network"
	ErrorTypeHTTP       = "http"
	ErrorTypeParse      = "parse"
	ErrorTypeValidation = "validation"
	ErrorTypeIO         = "io"
)

// Error carries the classification a failure was recorded with, so a
// caller that only sees the wrapped error can record it the same way.
type Error struct {
	Type      string
	Transient bool
	Err       error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// RecordError records err on the span with its type and transience, marks
// the span as failed and returns err tagged with that classification.
func RecordError(span trace.Span, err error, errorType string, transient bool) error {
	span.RecordError(err, trace.WithAttributes(
		attribute.String("error.type", errorType),
		attribute.Bool("error.transient", transient),
	))
	span.SetStatus(codes.Error, err.Error())
	return &Error{Type: errorType, Transient: transient, Err: err}
}

// Classification returns the type and transience tagged on err or on any
// error it wraps, including every branch of an errors.Join. When branches
// disagree a transient one wins, since rerunning could clear it. Untagged
// errors are permanent validation failures.
func Classification(err error) (errorType string, transient bool) {
	errorType = ErrorTypeValidation
	found := false
	walkErrors(err, func(e *Error) {
		if !found || (e.Transient && !transient) {
			errorType, transient, found = e.Type, e.Transient, true
		}
	})
	return errorType, transient
}

func walkErrors(err error, visit func(*Error)) {
	if err == nil {
		return
	}
	if tagged, ok := err.(*Error); ok {
		visit(tagged)
	}
	switch u := err.(type) {
	case interface{ Unwrap() []error }:
		for _, inner := range u.Unwrap() {
			walkErrors(inner, visit)
		}
	case interface{ Unwrap() error }:
		walkErrors(u.Unwrap(), visit)
	}
}

// SetSpanOk sets the span status to Ok
func SetSpanOk(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}
