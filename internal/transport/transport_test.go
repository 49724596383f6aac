package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

// fakeSocket implements Socket over an in-memory queue of inbound
// messages and a record of outbound writes.
type fakeSocket struct {
	mu       sync.Mutex
	inbound  chan []byte
	written  [][]byte
	closed   bool
	closeErr error
	readErr  error
}

func newFakeSocket(messages ...string) *fakeSocket {
	f := &fakeSocket{inbound: make(chan []byte, len(messages)+10)}
	for _, m := range messages {
		f.inbound <- []byte(m)
	}
	return f
}

func (f *fakeSocket) push(msg string) { f.inbound <- []byte(msg) }

func (f *fakeSocket) Reader(ctx context.Context) (websocket.MessageType, io.Reader, error) {
	f.mu.Lock()
	readErr := f.readErr
	f.mu.Unlock()
	if readErr != nil {
		return 0, nil, readErr
	}
	select {
	case data, ok := <-f.inbound:
		if !ok {
			return 0, nil, errors.New("fakeSocket: closed")
		}
		return websocket.MessageText, bytes.NewReader(data), nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

type fakeWriteCloser struct {
	buf *bytes.Buffer
	f   *fakeSocket
}

func (w *fakeWriteCloser) Write(p []byte) (int, error) { return w.buf.Write(p) }
func (w *fakeWriteCloser) Close() error {
	w.f.mu.Lock()
	w.f.written = append(w.f.written, w.buf.Bytes())
	w.f.mu.Unlock()
	return nil
}

func (f *fakeSocket) Writer(ctx context.Context, typ websocket.MessageType) (io.WriteCloser, error) {
	return &fakeWriteCloser{buf: &bytes.Buffer{}, f: f}, nil
}

func (f *fakeSocket) Close(code websocket.StatusCode, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.inbound)
	}
	return f.closeErr
}

func (f *fakeSocket) getWritten() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.written))
	copy(out, f.written)
	return out
}

func testConfig(dial Dialer) Config {
	return Config{
		StartupTimeout:  time.Second,
		ShutdownTimeout: 200 * time.Millisecond,
		DataTimeout:     200 * time.Millisecond,
		BufferSize:      64,
		RetryInterval:   10 * time.Millisecond,
		Dial:            dial,
	}
}

func TestTransport_StartSendStop(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	dial := func(ctx context.Context, url string) (Socket, error) { return sock, nil }

	var received []string
	var mu sync.Mutex
	tr := New(testConfig(dial), func(text string) {
		mu.Lock()
		received = append(received, text)
		mu.Unlock()
	})

	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := tr.Send(context.Background(), `{"id":1,"method":"session.status"}`); err != nil {
		t.Fatalf("send: %v", err)
	}

	written := sock.getWritten()
	if len(written) != 1 || string(written[0]) != `{"id":1,"method":"session.status"}` {
		t.Fatalf("unexpected written frames: %q", written)
	}

	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("second stop should be idempotent: %v", err)
	}
}

func TestTransport_ReassemblesFragmentsAndSuppressesEmpty(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket("", `{"type":"event","method":"log.entryAdded","params":{}}`)
	dial := func(ctx context.Context, url string) (Socket, error) { return sock, nil }

	// A 16-byte buffer forces the 54-byte message to be reassembled from
	// several reads.
	cfg := testConfig(dial)
	cfg.BufferSize = 16
	received := make(chan string, 2)
	tr := New(cfg, func(text string) { received <- text })

	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	select {
	case text := <-received:
		if text != `{"type":"event","method":"log.entryAdded","params":{}}` {
			t.Fatalf("unexpected message: %s", text)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}

	select {
	case text := <-received:
		t.Fatalf("expected only one message, got extra: %s", text)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestTransport_StartRetriesUntilStartupTimeout(t *testing.T) {
	t.Parallel()

	attempts := 0
	dial := func(ctx context.Context, url string) (Socket, error) {
		attempts++
		return nil, errors.New("server not ready")
	}

	cfg := testConfig(dial)
	cfg.StartupTimeout = 60 * time.Millisecond
	cfg.RetryInterval = 10 * time.Millisecond
	tr := New(cfg, func(string) {})

	err := tr.Start(context.Background(), "ws://fake")
	if !errors.Is(err, ErrStartupTimeout) {
		t.Fatalf("expected ErrStartupTimeout, got %v", err)
	}
	if attempts < 2 {
		t.Fatalf("expected multiple dial attempts, got %d", attempts)
	}
}

func TestTransport_StartTwiceFails(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	dial := func(ctx context.Context, url string) (Socket, error) { return sock, nil }
	tr := New(testConfig(dial), func(string) {})

	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer tr.Stop()

	if err := tr.Start(context.Background(), "ws://fake"); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}
}

func TestTransport_SendBeforeStartFails(t *testing.T) {
	t.Parallel()

	tr := New(testConfig(nil), func(string) {})
	if err := tr.Send(context.Background(), "x"); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("expected ErrNotStarted, got %v", err)
	}
}

func TestTransport_SendAfterAbortReturnsConnectionAborted(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket()
	dial := func(ctx context.Context, url string) (Socket, error) { return sock, nil }
	tr := New(testConfig(dial), func(string) {})

	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("start: %v", err)
	}

	sock.mu.Lock()
	sock.readErr = errors.New("connection reset")
	sock.mu.Unlock()
	// Unblock the reader, which is parked on the empty inbound channel.
	sock.push(`{"type":"event","method":"x","params":{}}`)

	select {
	case <-tr.readerDone:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for reader to observe the abort")
	}

	if got := tr.State(); got != StateAborted {
		t.Fatalf("expected StateAborted, got %v", got)
	}

	if err := tr.Send(context.Background(), "x"); !errors.Is(err, ErrConnectionAborted) {
		t.Fatalf("expected ErrConnectionAborted, got %v", err)
	}
}

func TestTransport_RestartAfterStop(t *testing.T) {
	t.Parallel()

	sock1 := newFakeSocket()
	sock2 := newFakeSocket()
	calls := 0
	dial := func(ctx context.Context, url string) (Socket, error) {
		calls++
		if calls == 1 {
			return sock1, nil
		}
		return sock2, nil
	}
	tr := New(testConfig(dial), func(string) {})

	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := tr.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := tr.Start(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("restart after stop should succeed: %v", err)
	}
	_ = tr.Stop()
}
