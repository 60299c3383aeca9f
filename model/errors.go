package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for the export pipeline. Handlers match with errors.Is
// and map each kind to a user-facing message plus UI re-enablement.
var (
	// ErrNoAudioLoaded is returned when an export is requested before any
	// audio asset has been decoded.
	ErrNoAudioLoaded = errors.New("no audio loaded")

	// ErrAlreadyRecording is returned when an export is requested while
	// another recording or conversion is in flight. The request is rejected,
	// never queued.
	ErrAlreadyRecording = errors.New("recording already in progress")

	// ErrTooSmall is returned by finalize when the assembled recording is
	// implausibly small, which signals a capture pipeline malfunction.
	ErrTooSmall = errors.New("recording too small")
)

// DecodeError wraps a failure to decode user-supplied audio or image bytes.
// Recoverable: the user retries with another file.
type DecodeError struct {
	Kind string // "audio" or "image"
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// ConversionError wraps a transcoding engine failure mid-job. The underlying
// cause is preserved in the message so the user can tell "recording malformed"
// from "conversion failed".
type ConversionError struct {
	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("conversion failed: %v", e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }
