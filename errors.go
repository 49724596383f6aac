package bidi

import (
	"errors"
	"fmt"
)

// Transport and session state errors.
var (
	// ErrAlreadyStarted is returned by Start when the session is not
	// Unstarted: it is already running, or it has been stopped.
	ErrAlreadyStarted = errors.New("bidi: session already started")

	// ErrNotStarted is returned by Execute and On when the session is not
	// Running (before Start and after Stop), and by Execute when the
	// transport has no live socket.
	ErrNotStarted = errors.New("bidi: session not started")

	// ErrStartupTimeout is returned by Start when the remote end does not
	// become reachable within the configured startup timeout.
	ErrStartupTimeout = errors.New("bidi: startup timed out waiting for remote end")

	// ErrSendContention is returned by Execute when the transport's send
	// mutex cannot be acquired within the configured data timeout.
	ErrSendContention = errors.New("bidi: timed out waiting to send")

	// ErrConnectionAborted is returned when the transport observes the
	// underlying socket in a terminal state outside of a graceful stop.
	ErrConnectionAborted = errors.New("bidi: connection aborted")

	// ErrSessionClosed is returned to every Execute call still in flight
	// when the session is stopped. Execute calls made after Stop fail with
	// ErrNotStarted.
	ErrSessionClosed = errors.New("bidi: session closed")

	// ErrIDExhausted is returned by Execute if the command id counter would
	// overflow. Practically unreachable.
	ErrIDExhausted = errors.New("bidi: command id space exhausted")
)

// CommandError is returned by Execute when the remote end replies with an
// error response for the issued command.
type CommandError struct {
	Method     string
	ErrorCode  string
	Message    string
	Stacktrace string
}

func (e *CommandError) Error() string {
	if e.Stacktrace != "" {
		return fmt.Sprintf("bidi: command %q failed: %s: %s\n%s", e.Method, e.ErrorCode, e.Message, e.Stacktrace)
	}
	return fmt.Sprintf("bidi: command %q failed: %s: %s", e.Method, e.ErrorCode, e.Message)
}

// TimeoutError is returned by Execute when the deadline is reached before
// any response arrives.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bidi: command %q timed out", e.Method)
}
