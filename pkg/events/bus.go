package events

import (
	"sync"
	"time"
)

// EventBus provides publish/subscribe for session events.
type EventBus interface {
	Publish(event Event)
	Subscribe(filter ...EventType) <-chan Event
	Unsubscribe(ch <-chan Event)
	History(since time.Time) []Event
	TrialHistory(trialID string) []Event
}

// DefaultHistorySize bounds the retained history of a MemoryBus.
const DefaultHistorySize = 4096

type subscriber struct {
	ch     chan Event
	filter map[EventType]bool // empty means all events
}

// MemoryBus is an in-memory EventBus. Publishing never blocks: events are
// dropped for subscribers whose buffer is full.
type MemoryBus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	history     []Event
	historySize int
}

// BusOption configures a MemoryBus.
type BusOption func(*MemoryBus)

// WithHistorySize sets how many events History can return. Older events
// are discarded first.
func WithHistorySize(n int) BusOption {
	return func(b *MemoryBus) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// NewMemoryBus creates a new in-memory event bus.
func NewMemoryBus(opts ...BusOption) *MemoryBus {
	b := &MemoryBus{historySize: DefaultHistorySize}
	for _, opt := range opts {
		opt(b)
	}
	b.history = make([]Event, 0, min(b.historySize, 256))
	return b
}

func (b *MemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.history) == b.historySize {
		copy(b.history, b.history[1:])
		b.history = b.history[:len(b.history)-1]
	}
	b.history = append(b.history, event)

	// Sends never block, so they stay under the lock that Unsubscribe
	// takes before closing a channel.
	for _, sub := range b.subscribers {
		if len(sub.filter) > 0 && !sub.filter[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (b *MemoryBus) Subscribe(filter ...EventType) <-chan Event {
	ch := make(chan Event, 64)
	sub := subscriber{ch: ch}
	if len(filter) > 0 {
		sub.filter = make(map[EventType]bool, len(filter))
		for _, f := range filter {
			sub.filter[f] = true
		}
	}

	b.mu.Lock()
	b.subscribers = append(b.subscribers, sub)
	b.mu.Unlock()

	return ch
}

func (b *MemoryBus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subscribers {
		if sub.ch == ch {
			b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

func (b *MemoryBus) History(since time.Time) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if !e.Timestamp.Before(since) {
			result = append(result, e)
		}
	}
	return result
}

// TrialHistory returns the retained events of one trial in publish order.
func (b *MemoryBus) TrialHistory(trialID string) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var result []Event
	for _, e := range b.history {
		if e.TrialID == trialID {
			result = append(result, e)
		}
	}
	return result
}
