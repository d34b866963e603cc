package events

import (
	"sync"
	"sync/atomic"

	"swapcore/core/types"
)

// Bus fans committed log entries out to in-process subscribers. Entries are
// delivered without blocking the committing transaction; a subscriber whose
// buffer is full misses the entry and is expected to catch up from the log.
type Bus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan types.LogEntry
	next    uint64
	buffer  int
	onDrop  func(types.LogEntry)
	dropped atomic.Uint64
}

// NewBus creates a bus whose subscriber channels hold up to buffer entries.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 64
	}
	return &Bus{subs: make(map[uint64]chan types.LogEntry), buffer: buffer}
}

// OnDrop registers a callback invoked whenever an entry could not be
// delivered to a subscriber.
func (b *Bus) OnDrop(fn func(types.LogEntry)) {
	b.mu.Lock()
	b.onDrop = fn
	b.mu.Unlock()
}

// Emit implements Emitter. Only Committed entries are forwarded.
func (b *Bus) Emit(evt Event) {
	committed, ok := evt.(Committed)
	if !ok || committed.Entry.Event == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		entry := committed.Entry
		entry.Event = committed.Entry.Event.Clone()
		select {
		case ch <- entry:
		default:
			b.dropped.Add(1)
			if b.onDrop != nil {
				b.onDrop(entry)
			}
		}
	}
}

// Subscribe registers a new subscriber. The returned function unregisters it
// and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe() (<-chan types.LogEntry, func()) {
	ch := make(chan types.LogEntry, b.buffer)
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of registered subscribers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped reports how many deliveries were skipped because a subscriber was
// not keeping up.
func (b *Bus) Dropped() uint64 { return b.dropped.Load() }

// Multi forwards every event to each wrapped emitter in order.
type Multi []Emitter

func (m Multi) Emit(evt Event) {
	for _, e := range m {
		if e != nil {
			e.Emit(evt)
		}
	}
}
