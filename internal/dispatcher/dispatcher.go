// Package dispatcher multiplexes commands and events over a Sender,
// maintaining the pending-command table and enforcing id assignment,
// timeout, and completion-once semantics.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrIDExhausted is returned by Execute if the command id counter would
// overflow.
var ErrIDExhausted = errors.New("dispatcher: command id space exhausted")

// Sender is the narrow Transport capability the Dispatcher depends on. It
// lets tests exercise the Dispatcher without a real socket.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// EventSink receives events routed off the wire, keyed by method name.
type EventSink interface {
	Deliver(method string, params json.RawMessage)
}

// LogFunc receives protocol-error and warning records.
type LogFunc func(level, message string, fields map[string]any)

// Outcome is the result delivered to a pending command's completion
// channel: exactly one of Result, Err is meaningful.
type Outcome struct {
	Result json.RawMessage
	Err    error
}

// CommandFailedError mirrors an inbound error response for a command.
type CommandFailedError struct {
	Method     string
	ErrorCode  string
	Message    string
	Stacktrace string
}

func (e *CommandFailedError) Error() string {
	return fmt.Sprintf("dispatcher: command %q failed: %s: %s", e.Method, e.ErrorCode, e.Message)
}

// TimeoutError is returned when a command's deadline elapses before any
// response arrives.
type TimeoutError struct {
	Method string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatcher: command %q timed out", e.Method)
}

// ClosedError is delivered to every pending slot when the dispatcher is
// closed, and returned to any command issued after closing.
type ClosedError struct{}

func (ClosedError) Error() string { return "dispatcher: closed" }

type pendingSlot struct {
	method string
	done   chan Outcome
}

// Dispatcher owns the outgoing id counter and the pending-command table.
type Dispatcher struct {
	sender Sender
	sink   EventSink
	log    LogFunc

	defaultTimeout time.Duration

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]*pendingSlot
	closed  bool
}

// New creates a Dispatcher. defaultTimeout is used by Execute calls that
// pass a zero timeout.
func New(sender Sender, sink EventSink, defaultTimeout time.Duration, log LogFunc) *Dispatcher {
	return &Dispatcher{
		sender:         sender,
		sink:           sink,
		log:            log,
		defaultTimeout: defaultTimeout,
		pending:        make(map[uint64]*pendingSlot),
	}
}

func (d *Dispatcher) logf(level, msg string, fields map[string]any) {
	if d.log != nil {
		d.log(level, msg, fields)
	}
}

type wireCommand struct {
	ID     uint64 `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params"`
}

// Execute assigns the next command id, registers a pending slot with the
// given deadline (or the dispatcher default if timeout <= 0), serializes
// the command, and hands it to the Sender. It blocks until a matching
// response arrives, the deadline elapses, or the dispatcher is closed.
func (d *Dispatcher) Execute(ctx context.Context, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = d.defaultTimeout
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ClosedError{}
	}
	d.nextID++
	if d.nextID == 0 {
		d.mu.Unlock()
		return nil, ErrIDExhausted
	}
	id := d.nextID
	slot := &pendingSlot{method: method, done: make(chan Outcome, 1)}
	d.pending[id] = slot
	d.mu.Unlock()

	data, err := json.Marshal(wireCommand{ID: id, Method: method, Params: params})
	if err != nil {
		d.removePending(id)
		return nil, fmt.Errorf("dispatcher: marshal command: %w", err)
	}

	if err := d.sender.Send(ctx, string(data)); err != nil {
		d.removePending(id)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case outcome := <-slot.done:
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome.Result, nil
	case <-timer.C:
		if d.removePending(id) {
			return nil, &TimeoutError{Method: method}
		}
		// The slot was already taken by completeSuccess/completeError, which
		// remove it from the pending table before sending on done. The send
		// is guaranteed to follow, so block for it rather than risk a
		// non-blocking read losing the race and misreporting a timeout.
		outcome := <-slot.done
		if outcome.Err != nil {
			return nil, outcome.Err
		}
		return outcome.Result, nil
	case <-ctx.Done():
		d.removePending(id)
		return nil, ctx.Err()
	}
}

// removePending removes and returns whether the slot was still present.
func (d *Dispatcher) removePending(id uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.pending[id]; !ok {
		return false
	}
	delete(d.pending, id)
	return true
}

type wireInbound struct {
	Type       string          `json:"type"`
	ID         uint64          `json:"id"`
	Result     json.RawMessage `json:"result"`
	Error      string          `json:"error"`
	Message    string          `json:"message"`
	Stacktrace string          `json:"stacktrace,omitempty"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params"`
}

// DispatchInbound parses text and routes it to the pending table (for
// success/error responses) or to the EventSink (for events). Malformed
// JSON, an unknown type, or a response whose id is no longer pending are
// logged and dropped; none of these tear down the dispatcher.
func (d *Dispatcher) DispatchInbound(text string) {
	var msg wireInbound
	if err := json.Unmarshal([]byte(text), &msg); err != nil {
		d.logf("warn", "malformed inbound message", map[string]any{"error": err.Error()})
		return
	}

	switch msg.Type {
	case "success":
		d.completeSuccess(msg.ID, msg.Result)
	case "error":
		d.completeError(msg.ID, msg.Error, msg.Message, msg.Stacktrace)
	case "event":
		if d.sink != nil {
			d.sink.Deliver(msg.Method, msg.Params)
		}
	default:
		d.logf("warn", "unknown inbound message type", map[string]any{"type": msg.Type})
	}
}

func (d *Dispatcher) completeSuccess(id uint64, result json.RawMessage) {
	slot := d.takePending(id)
	if slot == nil {
		d.logf("warn", "unsolicited response", map[string]any{"id": id})
		return
	}
	slot.done <- Outcome{Result: result}
}

func (d *Dispatcher) completeError(id uint64, errCode, message, stacktrace string) {
	slot := d.takePending(id)
	if slot == nil {
		d.logf("warn", "unsolicited error response", map[string]any{"id": id})
		return
	}
	slot.done <- Outcome{Err: &CommandFailedError{
		Method:     slot.method,
		ErrorCode:  errCode,
		Message:    message,
		Stacktrace: stacktrace,
	}}
}

func (d *Dispatcher) takePending(id uint64) *pendingSlot {
	d.mu.Lock()
	defer d.mu.Unlock()
	slot, ok := d.pending[id]
	if !ok {
		return nil
	}
	delete(d.pending, id)
	return slot
}

// Close completes every pending slot with ClosedError and marks the
// dispatcher closed; subsequent Execute calls fail immediately.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	pending := d.pending
	d.pending = make(map[uint64]*pendingSlot)
	d.mu.Unlock()

	for _, slot := range pending {
		slot.done <- Outcome{Err: ClosedError{}}
	}
}

// Pending returns the number of unresolved commands. Intended for tests.
func (d *Dispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}
