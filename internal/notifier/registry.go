package notifier

import "sync"

// Registry holds one observer's named subscriptions. Setting a name that is
// already taken cancels the previous subscription first, so re-subscribing
// never leaks an observer.
type Registry struct {
	mu   sync.Mutex
	subs map[string]*Subscription
}

func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

func (r *Registry) Set(name string, sub *Subscription) {
	r.mu.Lock()
	prev := r.subs[name]
	r.subs[name] = sub
	r.mu.Unlock()

	if prev != nil && prev != sub {
		prev.Cancel()
	}
}

// Stop cancels and forgets the named subscription. It reports whether one existed.
func (r *Registry) Stop(name string) bool {
	r.mu.Lock()
	sub, ok := r.subs[name]
	delete(r.subs, name)
	r.mu.Unlock()

	if ok {
		sub.Cancel()
	}
	return ok
}

func (r *Registry) StopAll() {
	r.mu.Lock()
	subs := r.subs
	r.subs = make(map[string]*Subscription)
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

// Len counts the subscriptions that are still live.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sub := range r.subs {
		select {
		case <-sub.Done():
		default:
			n++
		}
	}
	return n
}
