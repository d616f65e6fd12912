package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrNotRecording is returned by Stop when the channel has no capture.
	ErrNotRecording = errors.New("channel is not recording")

	// ErrAlreadyFinalizing is returned by Stop while a capture is being finalized.
	ErrAlreadyFinalizing = errors.New("recording is already finalizing")

	// ErrChannelNotFound is returned for unknown channel ids.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrChannelExists is returned when adding a channel that is already monitored.
	ErrChannelExists = errors.New("channel already registered")

	// ErrInvalidChannelURL is returned when no channel id can be extracted.
	ErrInvalidChannelURL = errors.New("invalid chzzk channel url")

	// ErrSupervisorClosed is returned after Shutdown.
	ErrSupervisorClosed = errors.New("supervisor is shut down")

	// ErrMissingCredentials means the NID cookies are not configured.
	ErrMissingCredentials error = &ConfigError{Reason: "missing_credentials"}
)

// ConfigError is an operator-fixable condition; the channel is retried on
// the next tick.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Reason
}

// TransientError is a network or upstream failure; the channel is retried on
// the next tick with no state change.
type TransientError struct {
	Reason string
	Err    error
}

func (e *TransientError) Error() string {
	if e.Err == nil {
		return "transient: " + e.Reason
	}
	return fmt.Sprintf("transient: %s: %v", e.Reason, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// ProcessError is a capture subprocess that failed to start or exited
// abnormally.
type ProcessError struct {
	ChannelID string
	Op        string
	Err       error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("capture %s for %s: %v", e.Op, e.ChannelID, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }

// FinalizeError is a failed transcode. The source file is left in place.
type FinalizeError struct {
	Source string
	Err    error
}

func (e *FinalizeError) Error() string {
	return fmt.Sprintf("finalize %s: %v", e.Source, e.Err)
}

func (e *FinalizeError) Unwrap() error { return e.Err }
