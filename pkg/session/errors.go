package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrNotConnected indicates the channel is not open.
	ErrNotConnected = errors.New("session: not connected")

	// ErrAlreadyConnected indicates the channel is already open or connecting.
	ErrAlreadyConnected = errors.New("session: already connected")

	// ErrChannelClosed indicates the channel reached its terminal state.
	ErrChannelClosed = errors.New("session: channel closed")

	// ErrInvalidState indicates an operation is not allowed in the current
	// session state.
	ErrInvalidState = errors.New("session: invalid state for operation")

	// ErrDeviceUnavailable indicates the capture or playback device could
	// not be acquired. Fatal to the session.
	ErrDeviceUnavailable = errors.New("session: audio device unavailable")

	// ErrSessionEnded indicates the session instance is terminal; construct
	// a new one for a new conversation.
	ErrSessionEnded = errors.New("session: session ended")

	// ErrMissingServerURL indicates no conversation endpoint was configured.
	ErrMissingServerURL = errors.New("session: server URL is required")

	// ErrMissingLanguage indicates a new session was started without a
	// target language.
	ErrMissingLanguage = errors.New("session: language is required")
)

// ConnectionError represents a websocket connection failure.
type ConnectionError struct {
	// Reason describes why the connection failed.
	Reason string

	// Cause is the underlying error.
	Cause error

	// Retryable indicates if a fresh connection attempt may succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("session: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("session: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns true if reconnection may be attempted.
func (e *ConnectionError) IsRetryable() bool {
	return e.Retryable
}

// NewConnectionError creates a new ConnectionError.
func NewConnectionError(reason string, cause error, retryable bool) *ConnectionError {
	return &ConnectionError{
		Reason:    reason,
		Cause:     cause,
		Retryable: retryable,
	}
}

// ServerReportedError wraps a backend error event for the session's error
// slot. It is surfaced to the UI but never closes the channel on its own.
type ServerReportedError struct {
	Code    string
	Message string
}

// Error implements the error interface.
func (e *ServerReportedError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("session: server error [%s]: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("session: server error: %s", e.Message)
}

// IsRetryable checks whether err allows another connection attempt.
func IsRetryable(err error) bool {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		return connErr.IsRetryable()
	}
	return false
}
