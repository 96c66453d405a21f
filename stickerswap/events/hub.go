package events

import (
	"context"
	"log/slog"
	"sync"
)

const subscriptionBuffer = 64

// Hub publishes session change events to subscribed clients as soon as a
// mutation commits. Push is best-effort: a slow subscriber loses events and
// catches up through the poll reconciler.
type Hub interface {
	Publish(ctx context.Context, topic string, ev ChangeEvent)
	Subscribe(ctx context.Context, topic string) (*Subscription, error)
	Close() error
}

// Subscription is a cancellable stream of typed change events.
type Subscription struct {
	C <-chan ChangeEvent

	cancelOnce sync.Once
	cancel     func()
}

func (s *Subscription) Cancel() {
	s.cancelOnce.Do(s.cancel)
}

type memSubscriber struct {
	ch chan ChangeEvent
}

// MemoryHub is the in-process hub used in dev mode and tests. Events are
// fanned out to buffered channels; a full buffer drops the event.
type MemoryHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]*memSubscriber
	closed bool
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: make(map[string]map[int]*memSubscriber)}
}

func (h *MemoryHub) Publish(_ context.Context, topic string, ev ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for _, sub := range h.subs[topic] {
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("Dropping change event for slow subscriber",
				slog.String("topic", topic),
				slog.String("kind", string(ev.Kind)))
		}
	}
}

func (h *MemoryHub) Subscribe(_ context.Context, topic string) (*Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	sub := &memSubscriber{ch: make(chan ChangeEvent, subscriptionBuffer)}
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]*memSubscriber)
	}
	h.subs[topic][id] = sub

	return &Subscription{
		C: sub.ch,
		cancel: func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if s, ok := h.subs[topic][id]; ok {
				delete(h.subs[topic], id)
				close(s.ch)
			}
		},
	}, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil
	}
	h.closed = true
	for topic, subs := range h.subs {
		for id, sub := range subs {
			close(sub.ch)
			delete(subs, id)
		}
		delete(h.subs, topic)
	}
	return nil
}
