// Package eventbus is notifyd's in-process event fanout.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	TypeQueued    = "notifier.queued"
	TypeScheduled = "notifier.scheduled"
	TypeRejected  = "notifier.rejected"
	TypeSnapshot  = "report.snapshot"
	TypeReloaded  = "config.reloaded"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus delivers events to subscribers without ever blocking the publisher.
// A subscriber whose buffer is full misses the event.
type Bus interface {
	Publish(e Event)
	// Subscribe returns a channel of events whose Type is one of types, or
	// of every event when types is empty.
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

type subscriber struct {
	ch    chan Event
	types []string
}

func (s subscriber) wants(typ string) bool {
	return len(s.types) == 0 || slices.Contains(s.types, typ)
}

// MemBus is the in-memory Bus. It starts no goroutines.
type MemBus struct {
	mu      sync.RWMutex
	subs    map[uint64]subscriber
	nextID  uint64
	dropped atomic.Uint64
}

func New() *MemBus {
	return &MemBus{subs: make(map[uint64]subscriber)}
}

// Publish stamps e.Time when unset. Sends happen under the read lock, which
// is what keeps unsubscribe from closing a channel in the middle of one.
func (b *MemBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *MemBus) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := subscriber{ch: make(chan Event, buffer), types: slices.Clone(types)}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(s.ch)
		})
	}
}

// Dropped counts deliveries skipped because a subscriber was full.
func (b *MemBus) Dropped() uint64 { return b.dropped.Load() }
