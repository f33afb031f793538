// Package stt defines the Provider interface for remote speech-to-text
// backends.
//
// The gateway resends the session's entire audio buffer on every call rather
// than a delta, so successive results largely overlap; [Merge] reconciles
// them into a single rolling transcript. Implementations must be safe for
// concurrent use and must propagate context cancellation promptly.
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Result is the outcome of one transcription call.
type Result struct {
	// Text is the transcribed speech. Empty when Skipped is true.
	Text string

	// IsFinal mirrors the caller's final flag: true for the end-of-utterance
	// transcription, false for a mid-utterance partial.
	IsFinal bool

	// Confidence is the estimated recognition confidence in [0, 1]. Upstreams
	// that report no score get a structural estimate.
	Confidence float64

	// ProcessingTime is the wall-clock cost of the upstream round trip.
	ProcessingTime time.Duration

	// Skipped is true when the input was below the minimum size and the
	// upstream was never contacted.
	Skipped bool
}

// FailureKind classifies a transcription failure.
type FailureKind int

const (
	// KindTransient covers 5xx, 429, connection resets, and idle-gap
	// timeouts. The client retries these internally; a surfaced transient
	// failure means the retry budget was exhausted.
	KindTransient FailureKind = iota

	// KindInvalid covers 4xx responses other than 429: the audio or request
	// was rejected and a retry cannot help.
	KindInvalid

	// KindFatal covers everything else (malformed upstream responses,
	// broken configuration).
	KindFatal
)

// String returns the failure kind's name.
func (k FailureKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindInvalid:
		return "invalid"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Failure is the typed error surfaced by STT providers once internal retries
// are exhausted.
type Failure struct {
	// Kind classifies the failure.
	Kind FailureKind

	// Status is the HTTP status code when the failure came from an upstream
	// response, zero otherwise.
	Status int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (f *Failure) Error() string {
	if f.Status != 0 {
		return fmt.Sprintf("stt: %s failure (status %d): %v", f.Kind, f.Status, f.Err)
	}
	return fmt.Sprintf("stt: %s failure: %v", f.Kind, f.Err)
}

// Unwrap returns the underlying cause.
func (f *Failure) Unwrap() error { return f.Err }

// IsTransient reports whether err is a transient STT failure.
func IsTransient(err error) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == KindTransient
}

// Provider is the abstraction over any remote STT backend.
type Provider interface {
	// TranscribePartial submits the raw compressed audio of the caller's
	// entire current buffer and returns the transcription. final marks the
	// end-of-utterance call.
	//
	// Implementations enforce their own minimum gap between consecutive
	// calls (blocking the caller until it elapses) and skip inputs below the
	// minimum size without contacting the upstream. Terminal errors are
	// returned as *Failure.
	TranscribePartial(ctx context.Context, audio []byte, final bool) (Result, error)

	// Warmup sends a trivial transcription request to keep the remote model
	// resident. Results are discarded.
	Warmup(ctx context.Context) error
}
