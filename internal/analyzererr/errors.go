// Package analyzererr defines the distinct error kinds the analyzer runtime
// must distinguish, mirroring the exception taxonomy of the system this
// runtime was ported from: connection loss, clean end of a file source, clip
// writer failure, sink failure, hot-reconfiguration rejection, and
// validation failure all need different handling at the Driver/Supervisor
// boundary, so each gets its own wrapped sentinel type rather than a bag of
// string-typed errors.
package analyzererr

import (
	"errors"
	"fmt"
)

// ConnectionError indicates the video source is unreachable or broke mid-stream.
type ConnectionError struct {
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return "connection error for " + e.URL + ": " + e.Err.Error()
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func NewConnectionError(url string, err error) error {
	return &ConnectionError{URL: url, Err: err}
}

// EndOfVideoError indicates a file source has been fully drained.
var EndOfVideoError = errors.New("end of video")

// ClipWriterError indicates the clip encoder failed to open or write.
type ClipWriterError struct {
	Path string
	Err  error
}

func (e *ClipWriterError) Error() string {
	return "clip writer error for " + e.Path + ": " + e.Err.Error()
}

func (e *ClipWriterError) Unwrap() error { return e.Err }

func NewClipWriterError(path string, err error) error {
	return &ClipWriterError{Path: path, Err: err}
}

// SinkError indicates an external sink (object store, database, bus) failed.
// Sink errors are always logged, never propagated into the analyzer loop.
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string {
	return "sink error (" + e.Sink + "): " + e.Err.Error()
}

func (e *SinkError) Unwrap() error { return e.Err }

func NewSinkError(sink string, err error) error {
	return &SinkError{Sink: sink, Err: err}
}

// ErrHotReconfiguration is the HotReconfigurationError kind, returned when
// an RPC caller tries to mutate an analyzer's configuration while it is
// RUNNING or STARTING.
var ErrHotReconfiguration = errors.New("Hot re-configuring analyzer is not allowed, please stop analyzer first before updating it.")

// ValidationError wraps a human-readable message surfaced to the RPC caller:
// malformed ROI, unknown pipeline type, unknown analyzer id.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidationError(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}
