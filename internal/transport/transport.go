package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/coder/websocket"
)

// Socket lifecycle states. The transport treats StateNone, StateClosed,
// and StateAborted as "not active"; every other state is active.
type State int

const (
	StateNone State = iota
	StateOpen
	StateCloseSent
	StateClosed
	StateAborted
)

func (s State) active() bool {
	return s != StateNone && s != StateClosed && s != StateAborted
}

var (
	ErrAlreadyStarted    = errors.New("transport: already started")
	ErrNotStarted        = errors.New("transport: not started")
	ErrStartupTimeout    = errors.New("transport: startup timed out")
	ErrSendContention    = errors.New("transport: timed out acquiring send mutex")
	ErrConnectionAborted = errors.New("transport: connection aborted")
)

// LogFunc receives lifecycle and warning records from the transport.
type LogFunc func(level, message string, fields map[string]any)

// Config bundles the transport's tunable timeouts and buffer size.
type Config struct {
	StartupTimeout  time.Duration
	ShutdownTimeout time.Duration
	DataTimeout     time.Duration
	BufferSize      int
	RetryInterval   time.Duration
	Dial            Dialer
	Log             LogFunc
}

// Transport owns a single WebSocket connection. It serializes outbound
// text frames under a mutex, runs a dedicated inbound reader that
// reassembles fragmented frames into whole UTF-8 JSON messages, and
// invokes onReceived for each one.
type Transport struct {
	cfg Config

	stateMu sync.Mutex
	state   State
	socket  Socket
	url     string

	sendSem chan struct{} // 1-buffered: acts as a mutex that a bounded wait can abandon

	readerCancel context.CancelFunc
	readerDone   chan struct{}

	onReceived func(text string)
}

// New creates a Transport. onReceived is invoked once per whole inbound
// message, from the reader goroutine; it must not block for long.
func New(cfg Config, onReceived func(text string)) *Transport {
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 500 * time.Millisecond
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.Dial == nil {
		cfg.Dial = DialWebSocket
	}
	return &Transport{cfg: cfg, onReceived: onReceived, sendSem: make(chan struct{}, 1)}
}

func (t *Transport) log(level, msg string, fields map[string]any) {
	if t.cfg.Log != nil {
		t.cfg.Log(level, msg, fields)
	}
}

// Start opens a client WebSocket to url. If the initial dial fails with a
// "server not ready" style error, Start retries on a fixed backoff until
// the configured startup timeout elapses.
func (t *Transport) Start(ctx context.Context, url string) error {
	t.stateMu.Lock()
	if t.state.active() {
		t.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	// A socket previously driven to a closed/aborted state is replaced.
	t.socket = nil
	t.state = StateNone
	t.stateMu.Unlock()

	startCtx, cancel := context.WithTimeout(ctx, t.cfg.StartupTimeout)
	defer cancel()

	var lastErr error
	for {
		sock, err := t.cfg.Dial(startCtx, url)
		if err == nil {
			t.stateMu.Lock()
			t.socket = sock
			t.state = StateOpen
			t.url = url
			t.stateMu.Unlock()

			readerCtx, readerCancel := context.WithCancel(context.Background())
			t.readerCancel = readerCancel
			t.readerDone = make(chan struct{})
			go t.readLoop(readerCtx, sock)

			t.log("info", "transport started", map[string]any{"url": url})
			return nil
		}
		lastErr = err

		select {
		case <-startCtx.Done():
			t.log("error", "startup timed out", map[string]any{"url": url, "lastError": lastErr.Error()})
			return ErrStartupTimeout
		case <-time.After(t.cfg.RetryInterval):
			// retry
		}
	}
}

// Send encodes text as UTF-8 and writes it as a single text frame.
func (t *Transport) Send(ctx context.Context, text string) error {
	t.stateMu.Lock()
	sock := t.socket
	state := t.state
	t.stateMu.Unlock()
	if state == StateAborted {
		return ErrConnectionAborted
	}
	if !state.active() || sock == nil {
		return ErrNotStarted
	}

	select {
	case t.sendSem <- struct{}{}:
	case <-time.After(t.cfg.DataTimeout):
		return ErrSendContention
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-t.sendSem }()

	w, err := sock.Writer(ctx, websocket.MessageText)
	if err != nil {
		return fmt.Errorf("transport: open writer: %w", err)
	}
	if _, err := io.WriteString(w, text); err != nil {
		_ = w.Close()
		return fmt.Errorf("transport: write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("transport: finalize write: %w", err)
	}
	return nil
}

// Stop gracefully closes the socket and joins the inbound reader. It is
// idempotent: calling Stop on an already-closed transport logs and
// returns nil.
func (t *Transport) Stop() error {
	t.stateMu.Lock()
	if !t.state.active() {
		t.stateMu.Unlock()
		t.log("debug", "stop called on inactive transport", nil)
		return nil
	}
	sock := t.socket
	t.state = StateCloseSent
	t.stateMu.Unlock()

	closeDone := make(chan error, 1)
	go func() {
		closeDone <- sock.Close(websocket.StatusNormalClosure, "session closed")
	}()

	var closeErr error
	select {
	case closeErr = <-closeDone:
	case <-time.After(t.cfg.ShutdownTimeout):
		t.log("warn", "shutdown timed out waiting for peer close", nil)
	}

	if t.readerCancel != nil {
		t.readerCancel()
	}
	if t.readerDone != nil {
		<-t.readerDone
	}

	t.stateMu.Lock()
	t.state = StateClosed
	t.socket = nil
	t.url = ""
	t.stateMu.Unlock()

	if closeErr != nil {
		t.log("warn", "close handshake returned an error", map[string]any{"error": closeErr.Error()})
	}
	t.log("info", "transport stopped", nil)
	return nil
}

// State returns the transport's current socket state.
func (t *Transport) State() State {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.state
}

func (t *Transport) markAborted(err error) {
	t.stateMu.Lock()
	if t.state.active() {
		t.state = StateAborted
	}
	t.stateMu.Unlock()
	t.log("warn", "transport aborted", map[string]any{"error": err.Error()})
}

// readLoop reads whole messages until cancellation or a terminal socket
// error. Each message is reassembled from fixed-size buffer reads and
// emitted as one onReceived(text) call; empty messages are suppressed.
func (t *Transport) readLoop(ctx context.Context, sock Socket) {
	defer close(t.readerDone)

	buf := make([]byte, t.cfg.BufferSize)
	for {
		_, r, err := sock.Reader(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				return
			}
			t.markAborted(err)
			return
		}

		var msg bytes.Buffer
		for {
			n, rerr := r.Read(buf)
			if n > 0 {
				msg.Write(buf[:n])
			}
			if rerr == io.EOF {
				break
			}
			if rerr != nil {
				t.markAborted(rerr)
				return
			}
		}

		if msg.Len() == 0 {
			continue
		}
		text := msg.String()
		if !utf8.ValidString(text) {
			t.log("warn", "dropped non-UTF-8 message", nil)
			continue
		}
		t.onReceived(text)
	}
}
