// Package eventbus carries in-process signals between the chore state
// machines, the scheduler, and the observability loop. Delivery is
// best-effort: Publish never blocks, and a subscriber whose buffer is
// full loses the event.
package eventbus

import (
	"sync"
	"time"
)

// Event is one signal on the bus. Data is a small read model, typically
// a chore view or a job record.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// PublishType publishes a typed payload, stamping the current time.
// Nil-safe: components publish without caring whether a bus was wired.
func PublishType(b Bus, typ string, data any) {
	if b == nil {
		return
	}
	b.Publish(Event{Type: typ, Time: time.Now(), Data: data})
}

// New returns an in-memory fanout bus. It owns no goroutines; events
// are handed off on the publisher's stack.
func New() Bus {
	return &fanout{subs: map[int]chan Event{}}
}

type fanout struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	targets := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		targets = append(targets, ch)
	}
	f.mu.Unlock()

	for _, ch := range targets {
		f.offer(ch, e)
	}
}

// offer attempts one non-blocking send. The channel may have been closed
// by a concurrent unsubscribe after the target list was taken; the
// recover absorbs that send.
func (f *fanout) offer(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}
