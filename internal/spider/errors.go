package spider

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a fetch failure.
type ErrorKind int

// Fetch failure kinds.
const (
	// KindFatal failures are never retried.
	KindFatal ErrorKind = iota
	// KindRecoverable failures are retried after a delay.
	KindRecoverable
	// KindSkippable failures mean the target is permanently unobtainable.
	KindSkippable
)

func (k ErrorKind) String() string {
	switch k {
	case KindRecoverable:
		return "recoverable"
	case KindSkippable:
		return "skippable"
	default:
		return "fatal"
	}
}

var (
	// ErrRetriesExhausted is wrapped when a retry budget runs out.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrMissingResponseData is returned by stores handed a result without parsed data.
	ErrMissingResponseData = errors.New("missing response data")
	// ErrNoFilename is returned when a storable has no target filename.
	ErrNoFilename = errors.New("no filename")
	// ErrInvalidConfig marks configuration validation failures.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrDryRun is returned by stores and storables asked to write during a dry run.
	ErrDryRun = errors.New("dry run")
)

// FetchError carries the classification of a failed fetch attempt.
type FetchError struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("%s fetch error for %s", e.Kind, e.URL)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// KindOf returns the classification of err, defaulting to KindFatal.
func KindOf(err error) ErrorKind {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindFatal
}

// IsSkippable reports whether err wraps a skippable fetch failure.
func IsSkippable(err error) bool {
	return err != nil && KindOf(err) == KindSkippable
}

// IsRecoverable reports whether err wraps a recoverable fetch failure.
func IsRecoverable(err error) bool {
	return err != nil && KindOf(err) == KindRecoverable
}

// IsNotFound reports whether err is a skippable 404.
func IsNotFound(err error) bool {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return false
	}
	return fe.Kind == KindSkippable && fe.StatusCode == http.StatusNotFound
}

// ParseError wraps a parser failure with the target that produced the body.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
