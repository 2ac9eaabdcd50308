package events

import (
	"sync"

	"github.com/sourcegraph/conc"
)

// Handler receives committed events. Delivery is at-least-once and runs
// outside the originating transaction; handlers do their own idempotency.
type Handler func(Event)

// Bus fans committed events out to in-process subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[string][]Handler
	all  []Handler
}

func NewBus() *Bus {
	return &Bus{subs: map[string][]Handler{}}
}

// Subscribe registers a handler for one event type. An empty type
// subscribes to everything.
func (b *Bus) Subscribe(evtType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if evtType == "" {
		b.all = append(b.all, h)
		return
	}
	b.subs[evtType] = append(b.subs[evtType], h)
}

// Publish delivers events to matching subscribers, each on its own
// goroutine, and waits for all handlers to return. A panicking handler
// does not take the publisher down.
func (b *Bus) Publish(evs ...Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var wg conc.WaitGroup
	for _, ev := range evs {
		for _, h := range b.subs[ev.Type] {
			ev, h := ev, h
			wg.Go(func() { h(ev) })
		}
		for _, h := range b.all {
			ev, h := ev, h
			wg.Go(func() { h(ev) })
		}
	}
	wg.WaitAndRecover()
}
