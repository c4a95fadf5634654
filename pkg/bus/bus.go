package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventKind labels a memory lifecycle event.
type EventKind string

const (
	EventStored   EventKind = "stored"
	EventPromoted EventKind = "promoted"
	EventEvicted  EventKind = "evicted"
	EventSwept    EventKind = "swept"
)

// Event describes one change to the store: a record landing in a tier,
// moving between tiers, or being removed.
type Event struct {
	Kind     EventKind
	Tier     string
	ToTier   string
	RecordID string
	Count    int
	At       time.Time
}

// EventBus fans memory lifecycle events out to at most one consumer loop.
// Publishing never blocks the store for longer than publishTimeout; an
// event nobody drains in time is dropped and counted.
type EventBus struct {
	events  chan Event
	closed  bool
	dropped atomic.Uint64
	mu      sync.RWMutex
}

const publishTimeout = 100 * time.Millisecond

func NewEventBus() *EventBus {
	return &EventBus{
		events: make(chan Event, 100),
	}
}

func (eb *EventBus) Publish(ev Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	if eb.closed {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	select {
	case eb.events <- ev:
	default:
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case eb.events <- ev:
		case <-timer.C:
			eb.dropped.Add(1)
		}
	}
}

// Consume blocks until an event is available, the bus closes, or ctx is
// done. The second return value is false once no more events will come.
func (eb *EventBus) Consume(ctx context.Context) (Event, bool) {
	select {
	case ev, ok := <-eb.events:
		if !ok {
			return Event{}, false
		}
		return ev, true
	case <-ctx.Done():
		return Event{}, false
	}
}

func (eb *EventBus) Close() {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	if eb.closed {
		return
	}
	eb.closed = true
	close(eb.events)
}

// Dropped reports how many events were discarded because the consumer
// fell behind.
func (eb *EventBus) Dropped() uint64 {
	return eb.dropped.Load()
}
