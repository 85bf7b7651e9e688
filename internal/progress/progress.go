// Package progress carries typed events out of the acquisition engine and
// the archive scanner. Observers subscribe to a Bus; the engine never knows
// who is listening.
package progress

import (
	"sync"
	"time"

	"github.com/runnerr0/seedvault/internal/failure"
	"github.com/runnerr0/seedvault/internal/span"
)

// Event is implemented by every event type below.
type Event interface {
	event()
}

// ChunkStarted is published when a worker begins a fetch attempt.
type ChunkStarted struct {
	RunID    string
	ChunkID  string
	Channels []string
	Window   span.Span
	Attempt  int
}

// ChunkDone is published after a chunk's payload and index update commit.
type ChunkDone struct {
	RunID    string
	ChunkID  string
	Channels []string
	Window   span.Span
	Bytes    int64
	NoData   bool
	Elapsed  time.Duration
}

// ChunkRetry is published when a transient failure re-queues a chunk.
type ChunkRetry struct {
	RunID   string
	ChunkID string
	Attempt int
	After   time.Duration
	Err     error
}

// ChunkFailed is published when a chunk is given up on for this run.
type ChunkFailed struct {
	RunID    string
	ChunkID  string
	Channels []string
	Window   span.Span
	Kind     failure.Kind
	Attempts int
	Err      error
}

// ChunkSkipped is published for planned work already covered by the
// archive.
type ChunkSkipped struct {
	RunID    string
	Channels []string
	Window   span.Span
}

// PairSkipped is published when an event-station pair cannot be used.
type PairSkipped struct {
	EventID string
	Station string
	Reason  string
}

// SyncProgress is published by the archive scanner after each file.
type SyncProgress struct {
	Root      string
	Path      string
	Processed int64
	Indexed   int64
	Skipped   int64
	Done      bool
}

func (ChunkStarted) event() {}
func (ChunkDone) event()    {}
func (ChunkRetry) event()   {}
func (ChunkFailed) event()  {}
func (ChunkSkipped) event() {}
func (PairSkipped) event()  {}
func (SyncProgress) event() {}

// Handler receives events. Handlers are called synchronously from the
// publishing goroutine, possibly from several goroutines at once.
type Handler func(Event)

// Bus fans events out to subscribers. A nil *Bus discards everything.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]Handler
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]Handler)}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs[id] = h
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers e to every subscriber in subscription order.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subs))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.subs[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Recorder is a Handler that keeps every event. It is safe for concurrent
// use and handy in tests and summaries.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Handle appends e.
func (r *Recorder) Handle(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}
