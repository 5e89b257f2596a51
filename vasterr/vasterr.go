// Package vasterr defines the typed error taxonomy shared by the fetch,
// parse, select and track phases of the ad pipeline.
package vasterr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure. Kinds are stable strings: callers switch on
// them and they appear verbatim in fetch results and logs.
type Kind string

const (
	// KindTransport covers connection refused, DNS failures, TLS handshake
	// errors and socket resets.
	KindTransport Kind = "transport"
	// KindTimeoutPerSource means a single source exceeded its budget.
	KindTimeoutPerSource Kind = "timeout-per-source"
	// KindTimeoutOverall means the deadline across all sources expired.
	KindTimeoutOverall Kind = "timeout-overall"
	// KindHTTPStatus is any non-2xx response other than 204.
	KindHTTPStatus Kind = "http-status"
	// KindNoContent is a 204 response: no ad available. Not retried.
	KindNoContent Kind = "no-content"
	// KindInvalidXML means the parser rejected the body.
	KindInvalidXML Kind = "invalid-xml"
	// KindMissingRequiredField is an inline ad without an impression or a
	// parseable duration.
	KindMissingRequiredField Kind = "missing-required-field"
	// KindUnsupportedVersion is a VAST version outside 2.0-4.2.
	KindUnsupportedVersion Kind = "unsupported-version"
	// KindWrapperDepthExceeded means the wrapper chain hit the depth limit.
	KindWrapperDepthExceeded Kind = "wrapper-depth-exceeded"
	// KindFilterRejected means the parse filter excluded the ad.
	KindFilterRejected Kind = "filter-rejected"
	// KindEmptyURL is a trackable with an empty URL template.
	KindEmptyURL Kind = "empty-url"
	// KindCancelled is cooperative cancellation. Never retried.
	KindCancelled Kind = "cancelled"
)

// Phase names the pipeline stage an attempt failed in.
type Phase string

const (
	PhaseFetch  Phase = "fetch"
	PhaseParse  Phase = "parse"
	PhaseSelect Phase = "select"
	PhaseTrack  Phase = "track"
)

// Error is a classified pipeline error.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int
	Source     string
	Phase      Phase
	cause      error
}

// New builds an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Newf builds an Error with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error whose Unwrap returns cause.
func Wrap(kind Kind, cause error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, cause: cause}
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s (source %s)", e.Kind, e.Message, e.Source)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches any *Error with the same Kind, so callers can write
// errors.Is(err, &Error{Kind: KindNoContent}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// WithSource returns a copy annotated with the source URL.
func (e *Error) WithSource(src string) *Error {
	c := *e
	c.Source = src
	return &c
}

// WithPhase returns a copy annotated with the pipeline phase.
func (e *Error) WithPhase(p Phase) *Error {
	c := *e
	c.Phase = p
	return &c
}

// WithStatus returns a copy annotated with an HTTP status code.
func (e *Error) WithStatus(code int) *Error {
	c := *e
	c.StatusCode = code
	return &c
}

// KindOf extracts the Kind from err, or "" if err carries no *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether the fetcher may retry after this kind.
func Retryable(k Kind) bool {
	switch k {
	case KindTransport, KindTimeoutPerSource, KindHTTPStatus:
		return true
	}
	return false
}

// Record is one per-attempt entry of a fetch result.
type Record struct {
	Source     string `json:"source"`
	Phase      Phase  `json:"phase"`
	Kind       Kind   `json:"kind"`
	Message    string `json:"message"`
	StatusCode int    `json:"status_code,omitempty"`
}

// RecordOf flattens err into a Record for the given source and phase. The
// error's own annotations win when present.
func RecordOf(source string, phase Phase, err error) Record {
	r := Record{Source: source, Phase: phase}
	var e *Error
	if errors.As(err, &e) {
		r.Kind = e.Kind
		r.Message = e.Message
		r.StatusCode = e.StatusCode
		if e.Source != "" {
			r.Source = e.Source
		}
		if e.Phase != "" {
			r.Phase = e.Phase
		}
		return r
	}
	r.Kind = KindTransport
	r.Message = err.Error()
	return r
}
