package events

import (
	"sync/atomic"
	"testing"
)

func TestPublishFansOutByType(t *testing.T) {
	b := NewBus()
	var typed, all atomic.Int32
	b.Subscribe("task.created", func(Event) { typed.Add(1) })
	b.Subscribe("", func(Event) { all.Add(1) })

	b.Publish(Event{Type: "task.created"}, Event{Type: "task.deleted"})

	if typed.Load() != 1 {
		t.Fatalf("typed handler ran %d times, want 1", typed.Load())
	}
	if all.Load() != 2 {
		t.Fatalf("catch-all handler ran %d times, want 2", all.Load())
	}
}

func TestPublishSurvivesPanickingSubscriber(t *testing.T) {
	b := NewBus()
	var delivered atomic.Int32
	b.Subscribe("task.created", func(Event) { panic("subscriber bug") })
	b.Subscribe("task.created", func(Event) { delivered.Add(1) })

	b.Publish(Event{Type: "task.created"})

	if delivered.Load() != 1 {
		t.Fatalf("healthy subscriber starved: %d", delivered.Load())
	}
}

func TestNilBusPublishIsNoop(t *testing.T) {
	var b *Bus
	b.Publish(Event{Type: "task.created"})
}
