// Package dispatch implements the single ordered multi-producer /
// single-consumer event queue that feeds the state machine thread.
// Every externally originated mutation becomes a command-with-callback
// (CWC) event: a decoded request body plus a one-shot response sink.
package dispatch

import (
	"runtime"
	"sync"

	"github.com/aortez/dirtsim/internal/wire"
)

// Response is the outcome a Sink is completed with: either a value or a
// structured ApiError, never both.
type Response struct {
	Value interface{}
	Err   *wire.ApiError
}

// Sink is the one-shot response callback every CWC carries. Complete
// must be called at most once; a second call is a no-op. If the sink is
// garbage-collected without ever being completed, a finalizer fires it
// with Dropped() so a waiting client is not left hanging forever.
type Sink struct {
	mu   sync.Mutex
	done bool
	fn   func(Response)
}

// NewSink wraps fn as a one-shot callback and arms the drop finalizer.
func NewSink(fn func(Response)) *Sink {
	s := &Sink{fn: fn}
	runtime.SetFinalizer(s, func(s *Sink) { s.completeOnce(Response{Err: wire.Dropped()}) })
	return s
}

// Complete fires the callback with a successful value.
func (s *Sink) Complete(v interface{}) { s.completeOnce(Response{Value: v}) }

// Fail fires the callback with a structured error.
func (s *Sink) Fail(err *wire.ApiError) { s.completeOnce(Response{Err: err}) }

func (s *Sink) completeOnce(r Response) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	fn := s.fn
	s.mu.Unlock()
	runtime.SetFinalizer(s, nil)
	if fn != nil {
		fn(r)
	}
}

// Event is a command-with-callback: a decoded request body plus the
// sink that will eventually carry its response back to the originating
// connection. Internally generated events (timers, UI re-entries) set
// ConnID to "" and may pass a nil Sink.
type Event struct {
	ConnID      string
	CommandName string
	Body        interface{}
	Sink        *Sink
}

// Queue is the multi-producer/single-consumer event stream draining
// into the state machine thread.
type Queue struct {
	mu     sync.Mutex
	items  []Event
	notify chan struct{}
}

func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

// Push enqueues an event; safe from any goroutine.
func (q *Queue) Push(e Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainAll atomically removes and returns every currently queued event,
// in arrival order, for the state machine's single consumer to apply in
// sequence.
func (q *Queue) DrainAll() []Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	out := q.items
	q.items = nil
	return out
}

// Wait returns the queue's notification channel, which receives when an
// event is pushed; the main loop selects on it to avoid a busy spin
// between ticks.
func (q *Queue) Wait() <-chan struct{} { return q.notify }

// Len reports the current queue depth, used by PerfStatsGet.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
