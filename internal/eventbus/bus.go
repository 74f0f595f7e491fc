// Package eventbus provides the in-process runtime event bus.
//
// A Bus assigns every emitted event the next sequence number and fans it out
// to three listener sets: raw events, UI updates (state-changing events only)
// and log lines (a one-line rendering of every event). All listeners observe
// events in sequence order.
//
// Delivery is synchronous. Emitting from inside a listener, or from another
// goroutine while a delivery is running, enqueues the event; the goroutine that
// is already delivering drains the queue in sequence order before returning.
package eventbus

import (
	"sync"

	"github.com/ikanban/ikanban/internal/domain"
)

// Ensure Bus implements domain.EventEmitter.
var _ domain.EventEmitter = (*Bus)(nil)

type listener[T any] struct {
	fn func(T)
	id uint64
}

// Bus is an ordered publish/subscribe hub. Construct one per process and pass it by reference.
// Fields are ordered to minimize memory padding.
type Bus struct {
	clock    domain.Clock
	events   []listener[domain.RuntimeEvent]
	ui       []listener[domain.UIUpdate]
	logs     []listener[domain.LogEntry]
	queue    []domain.RuntimeEvent
	sequence uint64
	nextID   uint64
	mu       sync.Mutex
	draining bool
}

// New creates an empty bus.
func New(clock domain.Clock) *Bus {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Bus{clock: clock}
}

// Subscribe registers a raw event listener.
func (b *Bus) Subscribe(fn func(domain.RuntimeEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.events = append(b.events, listener[domain.RuntimeEvent]{id: id, fn: fn})
	return b.unsubscriber(func() { b.events = remove(b.events, id) })
}

// SubscribeToUIUpdates registers a UI update listener.
func (b *Bus) SubscribeToUIUpdates(fn func(domain.UIUpdate)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.ui = append(b.ui, listener[domain.UIUpdate]{id: id, fn: fn})
	return b.unsubscriber(func() { b.ui = remove(b.ui, id) })
}

// SubscribeToLogs registers a log line listener.
func (b *Bus) SubscribeToLogs(fn func(domain.LogEntry)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.logs = append(b.logs, listener[domain.LogEntry]{id: id, fn: fn})
	return b.unsubscriber(func() { b.logs = remove(b.logs, id) })
}

// unsubscriber returns an idempotent unsubscribe func.
func (b *Bus) unsubscriber(detach func()) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			detach()
		})
	}
}

// ListenerCount returns the number of listeners across all three channels.
func (b *Bus) ListenerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events) + len(b.ui) + len(b.logs)
}

// Emit assigns the next sequence number to an event and delivers it.
// The returned event carries the assigned sequence.
//
// When a delivery is already running, Emit only enqueues the event and
// returns before any listener has seen it. This holds for nested emits from
// a listener and for emits from other goroutines alike; the delivering
// goroutine drains the queue in sequence order.
func (b *Bus) Emit(eventType domain.EventType, payload domain.EventPayload) domain.RuntimeEvent {
	b.mu.Lock()
	b.sequence++
	event := domain.RuntimeEvent{
		Sequence:  b.sequence,
		Type:      eventType,
		Payload:   payload,
		EmittedAt: b.clock.Now(),
	}
	b.queue = append(b.queue, event)
	if b.draining {
		b.mu.Unlock()
		return event
	}
	b.draining = true
	b.mu.Unlock()

	b.drain()
	return event
}

// drain delivers queued events until the queue is empty.
// A panicking listener releases the drain so later emits still deliver.
func (b *Bus) drain() {
	finished := false
	defer func() {
		if !finished {
			b.mu.Lock()
			b.draining = false
			b.mu.Unlock()
		}
	}()

	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.draining = false
			b.mu.Unlock()
			finished = true
			return
		}
		event := b.queue[0]
		b.queue = b.queue[1:]
		events := snapshot(b.events)
		ui := snapshot(b.ui)
		logs := snapshot(b.logs)
		b.mu.Unlock()

		for _, l := range events {
			l.fn(event)
		}
		if update, ok := ToUIUpdate(event); ok {
			for _, l := range ui {
				l.fn(update)
			}
		}
		entry := ToLogEntry(event)
		for _, l := range logs {
			l.fn(entry)
		}
	}
}

func snapshot[T any](ls []listener[T]) []listener[T] {
	if len(ls) == 0 {
		return nil
	}
	out := make([]listener[T], len(ls))
	copy(out, ls)
	return out
}

func remove[T any](ls []listener[T], id uint64) []listener[T] {
	for i, l := range ls {
		if l.id == id {
			return append(ls[:i:i], ls[i+1:]...)
		}
	}
	return ls
}
