package notifier

import (
	"context"
	"sync"

	"trusted-delivery/internal/metrics"
)

// Hub is the in-process Notifier. Every subscription owns one goroutine and a
// single-slot mailbox, so a slow observer never blocks a publisher.
type Hub struct {
	mu   sync.RWMutex
	subs map[uint64]*Subscription
	next uint64
}

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*Subscription)}
}

// Subscription is the caller-owned handle of one observer.
type Subscription struct {
	id      uint64
	hub     *Hub
	topics  map[string]struct{}
	match   func(Event) bool
	handle  func(Event)
	mailbox chan Event
	done    chan struct{}
	once    sync.Once
	// gate orders Guard against Cancel.
	gate sync.Mutex
}

// Subscribe registers handle for events on topics that pass match (nil matches all).
func (h *Hub) Subscribe(match func(Event) bool, handle func(Event), topics ...string) *Subscription {
	s := &Subscription{
		hub:     h,
		topics:  make(map[string]struct{}, len(topics)),
		match:   match,
		handle:  handle,
		mailbox: make(chan Event, 1),
		done:    make(chan struct{}),
	}
	for _, t := range topics {
		s.topics[t] = struct{}{}
	}

	h.mu.Lock()
	h.next++
	s.id = h.next
	h.subs[s.id] = s
	h.mu.Unlock()
	metrics.ActiveSubscriptions.Inc()

	go s.run()
	return s
}

// Publish offers ev to every interested subscription. It never blocks on observers.
func (h *Hub) Publish(_ context.Context, ev Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.subs {
		if _, ok := s.topics[ev.Topic]; !ok {
			continue
		}
		if s.match != nil && !s.match(ev) {
			continue
		}
		s.offer(ev)
	}
	return nil
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	delete(h.subs, id)
	h.mu.Unlock()
}

// offer places ev in the mailbox, replacing an undelivered older event.
func (s *Subscription) offer(ev Event) {
	select {
	case s.mailbox <- ev:
		return
	default:
	}
	select {
	case <-s.mailbox:
	default:
	}
	select {
	case s.mailbox <- ev:
	default:
	}
}

func (s *Subscription) run() {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.mailbox:
			select {
			case <-s.done:
				return
			default:
			}
			s.handle(ev)
		}
	}
}

// Cancel stops delivery. It is idempotent and safe to call from inside the handler.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.gate.Lock()
		close(s.done)
		s.gate.Unlock()
		if s.hub != nil {
			s.hub.remove(s.id)
			metrics.ActiveSubscriptions.Dec()
		}
	})
}

// Guard runs fn unless the subscription is cancelled and reports whether it ran.
// Cancel waits for a running fn, so nothing guarded happens after Cancel returns.
// fn must not cancel the subscription itself.
func (s *Subscription) Guard(fn func()) bool {
	s.gate.Lock()
	defer s.gate.Unlock()
	select {
	case <-s.done:
		return false
	default:
	}
	fn()
	return true
}

// Done is closed once the subscription is cancelled.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}
