package bidi

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/webdriverbidi/bidigo/internal/dispatcher"
	"github.com/webdriverbidi/bidigo/internal/router"
	"github.com/webdriverbidi/bidigo/internal/transport"
)

// SessionState is one of Unstarted, Running, or Stopped. Stopped is
// terminal: a session that has stopped can never be restarted.
type SessionState int

const (
	Unstarted SessionState = iota
	Running
	Stopped
)

func (s SessionState) String() string {
	switch s {
	case Unstarted:
		return "unstarted"
	case Running:
		return "running"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Subscription identifies one Session.On registration for Off.
type Subscription uint64

// Session is the public entry point: it holds one Transport, one
// Dispatcher, and one Event Router, and enforces the
// unstarted -> running -> stopped state machine.
type Session struct {
	cfg   Config
	codec Codec

	stateMu sync.Mutex
	state   SessionState

	transport  *transport.Transport
	dispatcher *dispatcher.Dispatcher
	router     *router.Router
}

// NewSession creates an unstarted Session. cfg supplies timeouts and
// buffer size; the zero Config is replaced field-by-field with defaults.
// codec may be nil, in which case RawCodec is used.
func NewSession(cfg Config, codec Codec) *Session {
	return newSession(cfg, codec, nil)
}

// newSession is the shared constructor; dial overrides the transport's
// WebSocket dialer (nil keeps the real github.com/coder/websocket dialer)
// so tests can substitute a fake socket without a network.
func newSession(cfg Config, codec Codec, dial transport.Dialer) *Session {
	cfg = fillDefaults(cfg)
	if codec == nil {
		codec = RawCodec{}
	}

	s := &Session{cfg: cfg, codec: codec}
	s.router = router.New(s.logAdapter("router"))
	s.dispatcher = dispatcher.New(transportSender{s}, routerSink{s.router}, cfg.CommandTimeout, s.logAdapter("dispatcher"))
	s.transport = transport.New(transport.Config{
		StartupTimeout:  cfg.StartupTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		DataTimeout:     cfg.DataTimeout,
		BufferSize:      cfg.BufferSize,
		Dial:            dial,
		Log:             s.logAdapter("transport"),
	}, s.dispatcher.DispatchInbound)
	return s
}

func fillDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.StartupTimeout <= 0 {
		cfg.StartupTimeout = def.StartupTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.DataTimeout <= 0 {
		cfg.DataTimeout = def.DataTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = def.CommandTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	return cfg
}

func (s *Session) logAdapter(component string) func(level, message string, fields map[string]any) {
	return func(level, message string, fields map[string]any) {
		if s.cfg.LogFunc == nil {
			return
		}
		var lvl LogLevel
		switch level {
		case "debug":
			lvl = LogDebug
		case "info":
			lvl = LogInfo
		case "warn":
			lvl = LogWarn
		default:
			lvl = LogError
		}
		s.cfg.LogFunc(LogRecord{Level: lvl, Component: component, Message: message, Fields: fields})
	}
}

// transportSender adapts the session's transport (constructed after the
// dispatcher, since the transport itself needs the dispatcher's inbound
// callback) to dispatcher.Sender.
type transportSender struct{ s *Session }

func (a transportSender) Send(ctx context.Context, text string) error {
	return a.s.transport.Send(ctx, text)
}

// routerSink adapts *router.Router to dispatcher.EventSink.
type routerSink struct{ r *router.Router }

func (a routerSink) Deliver(method string, params json.RawMessage) {
	a.r.Deliver(method, params)
}

// Start opens the WebSocket connection to url. It fails with
// ErrAlreadyStarted unless the session is Unstarted.
func (s *Session) Start(ctx context.Context, url string) error {
	s.stateMu.Lock()
	if s.state != Unstarted {
		s.stateMu.Unlock()
		return ErrAlreadyStarted
	}
	s.stateMu.Unlock()

	if err := s.transport.Start(ctx, url); err != nil {
		return translateTransportErr(err)
	}

	s.stateMu.Lock()
	s.state = Running
	s.stateMu.Unlock()
	return nil
}

// Stop drains the pending-command table with ErrSessionClosed, tears down
// the transport, and transitions to Stopped. It is idempotent.
func (s *Session) Stop() error {
	s.stateMu.Lock()
	if s.state == Stopped {
		s.stateMu.Unlock()
		return nil
	}
	s.state = Stopped
	s.stateMu.Unlock()

	s.dispatcher.Close()
	s.router.CloseAll()
	return s.transport.Stop()
}

// State returns the session's current lifecycle state.
func (s *Session) State() SessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// Execute encodes method/params via the session's Codec, issues the
// command, and returns the decoded result. A zero timeout uses the
// session's configured default command timeout.
func (s *Session) Execute(ctx context.Context, method string, params any, timeout time.Duration) (any, error) {
	s.stateMu.Lock()
	running := s.state == Running
	s.stateMu.Unlock()
	if !running {
		return nil, ErrNotStarted
	}

	encoded, err := s.codec.Encode(method, params)
	if err != nil {
		return nil, fmt.Errorf("bidi: encode command %q: %w", method, err)
	}

	raw, err := s.dispatcher.Execute(ctx, method, encoded, timeout)
	if err != nil {
		return nil, translateDispatchErr(method, err)
	}

	return s.codec.DecodeResult(method, raw)
}

// EventHandler is invoked once per delivered event.
type EventHandler func(EventMessage)

// On subscribes handler to method and returns a Subscription usable with
// Off. It fails with ErrNotStarted unless the session is Running.
func (s *Session) On(method string, handler EventHandler) (Subscription, error) {
	s.stateMu.Lock()
	running := s.state == Running
	s.stateMu.Unlock()
	if !running {
		return 0, ErrNotStarted
	}

	handle := s.router.Subscribe(method, func(m string, params json.RawMessage) {
		data, err := s.codec.DecodeEvent(m, params)
		if err != nil {
			s.logAdapter("session")("warn", "decode event", map[string]any{"method": m, "error": err.Error()})
			data = params
		}
		handler(EventMessage{Method: m, Params: params, Data: data})
	})
	return Subscription(handle), nil
}

// Off removes a subscription registered with On. Unknown subscriptions
// are no-ops.
func (s *Session) Off(sub Subscription) {
	s.router.Unsubscribe(router.Handle(sub))
}

func translateTransportErr(err error) error {
	switch err {
	case transport.ErrAlreadyStarted:
		return ErrAlreadyStarted
	case transport.ErrStartupTimeout:
		return ErrStartupTimeout
	case transport.ErrNotStarted:
		return ErrNotStarted
	case transport.ErrConnectionAborted:
		return ErrConnectionAborted
	case transport.ErrSendContention:
		return ErrSendContention
	default:
		return err
	}
}

func translateDispatchErr(method string, err error) error {
	switch e := err.(type) {
	case *dispatcher.CommandFailedError:
		return &CommandError{Method: e.Method, ErrorCode: e.ErrorCode, Message: e.Message, Stacktrace: e.Stacktrace}
	case *dispatcher.TimeoutError:
		return &TimeoutError{Method: e.Method}
	case dispatcher.ClosedError:
		return ErrSessionClosed
	}
	switch err {
	case dispatcher.ErrIDExhausted:
		return ErrIDExhausted
	case transport.ErrNotStarted:
		return ErrNotStarted
	case transport.ErrConnectionAborted:
		return ErrConnectionAborted
	case transport.ErrSendContention:
		return ErrSendContention
	default:
		return err
	}
}
