package stream

import (
	"context"
	"fmt"
	"net/http"
	"sync"
)

// SSESink writes events as Server-Sent Events to an http.ResponseWriter. It
// serializes concurrent Send calls so the pipeline's fan-out stages (RAG,
// cache lookups, tool execution) can all hold a reference to the same sink
// without racing on the underlying connection.
type SSESink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	mu     sync.Mutex
	closed bool

	cancelOnce sync.Once
	cancelFns  []func()
}

// NewSSESink adapts an http.ResponseWriter into a Sink. The writer must
// support http.Flusher; callers typically call this once per request after
// setting the standard SSE response headers.
func NewSSESink(w http.ResponseWriter) *SSESink {
	flusher, _ := w.(http.Flusher)
	return &SSESink{w: w, flusher: flusher}
}

// Send writes one event as an SSE `data:` frame and flushes it immediately
// so partial output reaches the client without buffering delay.
func (s *SSESink) Send(ctx context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("stream: sink closed")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := MarshalJSON(event)
	if err != nil {
		return fmt.Errorf("stream: marshal event %s: %w", event.Type(), err)
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event.Type(), body); err != nil {
		return fmt.Errorf("stream: write event %s: %w", event.Type(), err)
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

// Close marks the sink closed. Subsequent Send calls return an error.
// Idempotent.
func (s *SSESink) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// OnCancel registers a handler fired at most once, by FireCancel.
func (s *SSESink) OnCancel(handler func()) {
	s.mu.Lock()
	s.cancelFns = append(s.cancelFns, handler)
	s.mu.Unlock()
}

// FireCancel runs all registered cancel handlers exactly once. Callers wire
// this to the request's context-done channel or an explicit interrupt signal.
func (s *SSESink) FireCancel() {
	s.cancelOnce.Do(func() {
		s.mu.Lock()
		fns := append([]func(){}, s.cancelFns...)
		s.mu.Unlock()
		for _, fn := range fns {
			fn()
		}
	})
}

// MemorySink collects events in memory, ordered by arrival. It is safe for
// concurrent Send calls and is primarily intended for tests asserting on the
// emitted event sequence (see pipeline's Q1/Q2/Q9/Q10 invariant tests).
type MemorySink struct {
	mu       sync.Mutex
	events   []Event
	closed   bool
	cancelFn []func()
}

// NewMemorySink constructs an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Send appends event to the in-memory ordered log.
func (m *MemorySink) Send(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("stream: sink closed")
	}
	m.events = append(m.events, event)
	return nil
}

// Close marks the sink closed.
func (m *MemorySink) Close(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

// OnCancel registers a cancel handler.
func (m *MemorySink) OnCancel(handler func()) {
	m.mu.Lock()
	m.cancelFn = append(m.cancelFn, handler)
	m.mu.Unlock()
}

// FireCancel invokes all registered cancel handlers.
func (m *MemorySink) FireCancel() {
	m.mu.Lock()
	fns := append([]func(){}, m.cancelFn...)
	m.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// Events returns a snapshot of the events observed so far, in emission order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Types returns the EventType of each observed event, in emission order.
// Convenient for ordering assertions (Q1, Q2, Q9).
func (m *MemorySink) Types() []EventType {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EventType, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type()
	}
	return out
}
