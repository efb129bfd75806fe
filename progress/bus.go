// Package progress implements the in-process publish/subscribe channel for
// execution lifecycle events. Events are ephemeral: they are never persisted,
// and engine correctness does not depend on any subscriber being present.
// Consumers such as status displays subscribe for the event types they care
// about and receive them on a buffered channel; a slow consumer whose buffer
// is full loses events rather than blocking the engine.
package progress

import (
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/logging"
)

// EventType enumerates the lifecycle event variants.
type EventType string

const (
	// SessionStarted is published when the engine starts a run.
	SessionStarted EventType = "session_started"
	// ToolStarted is published immediately before a tool invocation.
	ToolStarted EventType = "tool_started"
	// ToolCompleted is published immediately after a tool invocation.
	ToolCompleted EventType = "tool_completed"
	// SessionUpdated is published when the transcript grows mid-run.
	SessionUpdated EventType = "session_updated"
	// SessionCompleted is the terminal event, published for every terminal
	// status (completed, failed and cancelled alike) so observers can release
	// resources promptly.
	SessionCompleted EventType = "session_completed"
)

// Event is one lifecycle notification.
type Event struct {
	Type      EventType      `json:"type"`
	SessionID string         `json:"session_id"`
	AgentName string         `json:"agent_name"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// Subscription is a live event feed. Close it via Cancel when done; the
// channel is closed by Cancel or by Bus.Close.
type Subscription struct {
	C      <-chan Event
	cancel func()
}

// Cancel detaches the subscription and closes its channel. Safe to call more
// than once.
func (s *Subscription) Cancel() { s.cancel() }

// Options configure a Bus.
type Options struct {
	// BufferSize is the per-subscriber channel buffer. Defaults to 64.
	BufferSize int

	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

type subscriber struct {
	ch    chan Event
	types map[EventType]bool // nil means all
}

// Bus is a small fan-out pub/sub hub. Publish never blocks: events for a
// subscriber with a full buffer are dropped (and counted in a debug log).
type Bus struct {
	mu     sync.Mutex
	subs   map[int]*subscriber
	nextID int
	closed bool
	buffer int
	logger logging.Logger
}

// NewBus constructs a Bus.
func NewBus(optFns ...func(o *Options)) *Bus {
	opts := Options{BufferSize: 64, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 64
	}
	return &Bus{subs: make(map[int]*subscriber), buffer: opts.BufferSize, logger: opts.Logger}
}

// Subscribe registers a consumer for the given event types; with no types it
// receives everything.
func (b *Bus) Subscribe(types ...EventType) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{ch: make(chan Event, b.buffer)}
	if len(types) > 0 {
		sub.types = make(map[EventType]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	if b.closed {
		close(sub.ch)
		return &Subscription{C: sub.ch, cancel: func() {}}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub.ch)
			}
		})
	}

	return &Subscription{C: sub.ch, cancel: cancel}
}

// Publish delivers the event to all matching subscribers without blocking.
// A zero Timestamp is filled in.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	for _, sub := range b.subs {
		if sub.types != nil && !sub.types[ev.Type] {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			b.logger.Debug("progress.dropped", "type", string(ev.Type), "session_id", ev.SessionID)
		}
	}
}

// Close shuts the bus down, closing every subscriber channel. Publishing on a
// closed bus is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}
