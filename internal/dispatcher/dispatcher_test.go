package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// echoSender parses each sent command and immediately synthesizes a
// response via respond, decoupling send from the dispatch it triggers so
// tests can control ordering explicitly.
type echoSender struct {
	mu       sync.Mutex
	sent     []string
	respond  func(id uint64, method string) (json.RawMessage, error)
	dispatch func(text string)
}

func (s *echoSender) Send(ctx context.Context, text string) error {
	s.mu.Lock()
	s.sent = append(s.sent, text)
	s.mu.Unlock()

	var req struct {
		ID     uint64 `json:"id"`
		Method string `json:"method"`
	}
	if err := json.Unmarshal([]byte(text), &req); err != nil {
		return err
	}

	// respond may block (simulating a slow remote); run it off the
	// caller's goroutine so Send itself returns immediately, matching a
	// real transport where writing a frame doesn't wait for a reply.
	go func() {
		result, err := s.respond(req.ID, req.Method)
		var msg string
		if err != nil {
			msg = fmt.Sprintf(`{"type":"error","id":%d,"error":"e","message":"m"}`, req.ID)
		} else {
			msg = fmt.Sprintf(`{"type":"success","id":%d,"result":%s}`, req.ID, string(result))
		}
		s.dispatch(msg)
	}()
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []deliveredEvent
}

type deliveredEvent struct {
	Method string
	Params json.RawMessage
}

func (s *recordingSink) Deliver(method string, params json.RawMessage) {
	s.mu.Lock()
	s.events = append(s.events, deliveredEvent{Method: method, Params: params})
	s.mu.Unlock()
}

func TestDispatcher_ExecuteRoundTrip(t *testing.T) {
	t.Parallel()

	sender := &echoSender{respond: func(id uint64, method string) (json.RawMessage, error) {
		return json.RawMessage(`{"ready":true}`), nil
	}}
	d := New(sender, &recordingSink{}, time.Second, nil)
	sender.dispatch = d.DispatchInbound

	result, err := d.Execute(context.Background(), "session.status", map[string]any{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result) != `{"ready":true}` {
		t.Fatalf("unexpected result: %s", result)
	}
}

func TestDispatcher_ExecuteRemoteError(t *testing.T) {
	t.Parallel()

	sender := &echoSender{respond: func(id uint64, method string) (json.RawMessage, error) {
		return nil, errors.New("boom")
	}}
	d := New(sender, &recordingSink{}, time.Second, nil)
	sender.dispatch = d.DispatchInbound

	_, err := d.Execute(context.Background(), "browsingContext.navigate", nil, 0)
	var cmdErr *CommandFailedError
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected CommandFailedError, got %T: %v", err, err)
	}
	if cmdErr.Method != "browsingContext.navigate" {
		t.Fatalf("unexpected method: %s", cmdErr.Method)
	}
}

func TestDispatcher_IDsAreMonotonic(t *testing.T) {
	t.Parallel()

	var ids []uint64
	var mu sync.Mutex
	sender := &echoSender{respond: func(id uint64, method string) (json.RawMessage, error) {
		mu.Lock()
		ids = append(ids, id)
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	}}
	d := New(sender, &recordingSink{}, time.Second, nil)
	sender.dispatch = d.DispatchInbound

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = d.Execute(context.Background(), "Test.method", nil, 0)
		}()
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, id := range ids {
		if seen[id] {
			t.Fatalf("duplicate id assigned: %d", id)
		}
		seen[id] = true
	}
	if len(seen) != 20 {
		t.Fatalf("expected 20 distinct ids, got %d", len(seen))
	}
	// The counter starts at 1 and advances by one per command, so 20
	// distinct ids must be exactly 1..20.
	for want := uint64(1); want <= 20; want++ {
		if !seen[want] {
			t.Fatalf("expected ids 1..20, missing %d", want)
		}
	}
}

func TestDispatcher_TimeoutThenLateResponseDropped(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sender := &echoSender{respond: func(id uint64, method string) (json.RawMessage, error) {
		<-block // never respond until released
		return json.RawMessage(`{}`), nil
	}}
	d := New(sender, &recordingSink{}, time.Second, nil)
	sender.dispatch = d.DispatchInbound

	_, err := d.Execute(context.Background(), "Test.slow", nil, 30*time.Millisecond)
	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("expected TimeoutError, got %T: %v", err, err)
	}

	close(block) // let the late response through
	time.Sleep(50 * time.Millisecond)

	if d.Pending() != 0 {
		t.Fatalf("expected no pending commands after timeout, got %d", d.Pending())
	}
}

// TestDispatcher_RemovePendingFalseGuaranteesLaterSend exercises the
// invariant Execute's timeout branch depends on: once takePending has
// already removed a slot (as completeSuccess/completeError do before
// sending on slot.done), removePending reports it gone, and the blocking
// receive on slot.done still observes the outcome once it lands, however
// late. A non-blocking receive here would be free to race ahead of the
// send and misreport a timeout for a command that actually succeeded.
func TestDispatcher_RemovePendingFalseGuaranteesLaterSend(t *testing.T) {
	t.Parallel()

	d := New(&echoSender{respond: func(uint64, string) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }}, &recordingSink{}, time.Second, nil)

	id := uint64(1)
	slot := &pendingSlot{method: "Test.race", done: make(chan Outcome, 1)}
	d.mu.Lock()
	d.pending[id] = slot
	d.mu.Unlock()

	if taken := d.takePending(id); taken != slot {
		t.Fatalf("expected to take the slot we inserted, got %v", taken)
	}

	if d.removePending(id) {
		t.Fatal("expected removePending to report the slot already gone")
	}

	go func() {
		slot.done <- Outcome{Result: json.RawMessage(`{"ok":true}`)}
	}()

	outcome := <-slot.done
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if string(outcome.Result) != `{"ok":true}` {
		t.Fatalf("unexpected result: %s", outcome.Result)
	}
}

func TestDispatcher_EventsRoutedToSink(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := New(&echoSender{respond: func(uint64, string) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }}, sink, time.Second, nil)

	d.DispatchInbound(`{"type":"event","method":"log.entryAdded","params":{"text":"a"}}`)
	d.DispatchInbound(`{"type":"event","method":"log.entryAdded","params":{"text":"b"}}`)

	if len(sink.events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(sink.events))
	}
	if string(sink.events[0].Params) != `{"text":"a"}` || string(sink.events[1].Params) != `{"text":"b"}` {
		t.Fatalf("events out of order or wrong payload: %+v", sink.events)
	}
}

func TestDispatcher_MalformedAndUnknownTypeDropped(t *testing.T) {
	t.Parallel()

	sink := &recordingSink{}
	d := New(&echoSender{respond: func(uint64, string) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }}, sink, time.Second, nil)

	d.DispatchInbound(`not json`)
	d.DispatchInbound(`{"type":"mystery"}`)
	d.DispatchInbound(`{"type":"event","method":"still.works","params":{}}`)

	if len(sink.events) != 1 {
		t.Fatalf("expected the valid event to still be delivered, got %d events", len(sink.events))
	}
}

func TestDispatcher_CloseCompletesAllPending(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	sender := &echoSender{respond: func(id uint64, method string) (json.RawMessage, error) {
		<-block
		return json.RawMessage(`{}`), nil
	}}
	d := New(sender, &recordingSink{}, time.Second, nil)
	sender.dispatch = d.DispatchInbound

	errCh := make(chan error, 1)
	go func() {
		_, err := d.Execute(context.Background(), "Test.pending", nil, time.Second)
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	d.Close()

	select {
	case err := <-errCh:
		if !errors.Is(err, ClosedError{}) {
			t.Fatalf("expected ClosedError, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for execute to complete after close")
	}

	close(block)

	if _, err := d.Execute(context.Background(), "Test.after", nil, 0); !errors.Is(err, ClosedError{}) {
		t.Fatalf("expected ClosedError for post-close execute, got %v", err)
	}
}
