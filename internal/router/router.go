// Package router fans events out to subscribers registered by event
// method name, delivering to each subscriber in wire arrival order.
package router

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// Handler is invoked once per delivered event, with the method name that
// matched the subscription and the raw params object.
type Handler func(method string, params json.RawMessage)

// LogFunc receives a record when a handler panics or otherwise fails.
type LogFunc func(level, message string, fields map[string]any)

// Handle identifies a single subscription for Unsubscribe.
type Handle uint64

type subscriber struct {
	handle  Handle
	handler Handler
}

// Router maps event method names to an ordered list of subscribers.
type Router struct {
	log LogFunc

	mu    sync.Mutex
	subs  map[string][]subscriber
	nextH atomic.Uint64
}

// New creates an empty Router.
func New(log LogFunc) *Router {
	return &Router{subs: make(map[string][]subscriber), log: log}
}

// Subscribe registers handler for method and returns a handle usable with
// Unsubscribe. Re-entrant Subscribe calls from within a handler take
// effect starting with the next delivered event.
func (r *Router) Subscribe(method string, handler Handler) Handle {
	h := Handle(r.nextH.Add(1))
	r.mu.Lock()
	r.subs[method] = append(r.subs[method], subscriber{handle: h, handler: handler})
	r.mu.Unlock()
	return h
}

// Unsubscribe removes a subscription. Unknown handles are no-ops.
func (r *Router) Unsubscribe(handle Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for method, subs := range r.subs {
		for i, s := range subs {
			if s.handle == handle {
				r.subs[method] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Deliver invokes every subscriber registered for method, in insertion
// order, with the given params. A handler that panics is recovered and
// logged; subsequent handlers still run.
func (r *Router) Deliver(method string, params json.RawMessage) {
	r.mu.Lock()
	subs := make([]subscriber, len(r.subs[method]))
	copy(subs, r.subs[method])
	r.mu.Unlock()

	for _, s := range subs {
		r.invoke(s, method, params)
	}
}

func (r *Router) invoke(s subscriber, method string, params json.RawMessage) {
	defer func() {
		if rec := recover(); rec != nil {
			if r.log != nil {
				r.log("error", "event handler panicked", map[string]any{
					"method": method,
					"panic":  rec,
				})
			}
		}
	}()
	s.handler(method, params)
}

// CloseAll removes every subscriber. Called on session shutdown.
func (r *Router) CloseAll() {
	r.mu.Lock()
	r.subs = make(map[string][]subscriber)
	r.mu.Unlock()
}
