package pipeline

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"doorcam/internal/database"
)

// EventHandler receives stored events.
type EventHandler interface {
	OnEvent(ev database.Event)
}

// EventHandlerFunc adapts a function to EventHandler.
type EventHandlerFunc func(ev database.Event)

func (f EventHandlerFunc) OnEvent(ev database.Event) { f(ev) }

// EventBus hands each stored event to its listeners in the order they
// subscribed. A listener that panics is logged and skipped, so one broken
// listener never starves the others or the pipeline run that published.
type EventBus struct {
	mu        sync.RWMutex
	listeners []*listener
	nextID    uint64
	closed    bool

	dropped atomic.Uint64
	logger  *zap.Logger
}

// listener is either a handler or a buffered channel.
type listener struct {
	id      uint64
	handler EventHandler
	ch      chan database.Event
}

// NewEventBus creates a bus. A nil logger discards listener failures.
func NewEventBus(logger *zap.Logger) *EventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventBus{logger: logger.With(zap.String("component", "event_bus"))}
}

// Subscribe registers h and returns a func that removes it.
// Subscribing to a closed bus is a no-op.
func (b *EventBus) Subscribe(h EventHandler) func() {
	id, ok := b.add(&listener{handler: h})
	if !ok {
		return func() {}
	}
	return func() { b.remove(id) }
}

// SubscribeChannel returns a channel receiving every event. When the
// channel is full the event is dropped for that listener and counted in
// Dropped. The channel is closed on unsubscribe or Close.
func (b *EventBus) SubscribeChannel(size int) (<-chan database.Event, func()) {
	if size <= 0 {
		size = 10
	}
	ch := make(chan database.Event, size)

	id, ok := b.add(&listener{ch: ch})
	if !ok {
		close(ch)
		return ch, func() {}
	}
	return ch, func() { b.remove(id) }
}

func (b *EventBus) add(l *listener) (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, false
	}
	b.nextID++
	l.id = b.nextID
	b.listeners = append(b.listeners, l)
	return l.id, true
}

func (b *EventBus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, l := range b.listeners {
		if l.id != id {
			continue
		}
		if l.ch != nil {
			close(l.ch)
		}
		b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
		return
	}
}

// Publish delivers ev synchronously on the caller's goroutine.
func (b *EventBus) Publish(ev database.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, l := range b.listeners {
		if l.ch != nil {
			select {
			case l.ch <- ev:
			default:
				b.dropped.Add(1)
			}
			continue
		}
		b.deliver(l.handler, ev)
	}
}

func (b *EventBus) deliver(h EventHandler, ev database.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked",
				zap.Any("panic", r),
				zap.Int64("event_id", ev.ID),
				zap.String("camera_id", ev.CameraID),
			)
		}
	}()
	h.OnEvent(ev)
}

// Dropped returns how many events channel listeners missed because they
// were full.
func (b *EventBus) Dropped() uint64 {
	return b.dropped.Load()
}

// Close removes every listener and closes listener channels. Later
// subscriptions are no-ops and later publishes reach nobody.
func (b *EventBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, l := range b.listeners {
		if l.ch != nil {
			close(l.ch)
		}
	}
	b.listeners = nil
	b.closed = true
}
