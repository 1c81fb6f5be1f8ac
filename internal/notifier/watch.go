package notifier

import (
	"context"
	"errors"
	"sync"
	"time"

	"trusted-delivery/pkg/logger"
)

// ReadTimeout bounds each snapshot re-read triggered by an event.
var ReadTimeout = 5 * time.Second

// ErrGone marks a re-read failure after which the observer can no longer see the
// entity. WatchUntil ends the subscription on it instead of waiting for the next event.
var ErrGone = errors.New("watched entity is no longer visible")

// Watch keeps fn supplied with full snapshots produced by read. It subscribes
// before the initial read so a change landing in between is not lost, delivers
// that initial snapshot before returning, and then re-reads after every matching
// event on topics. Snapshots reach fn one at a time and never after Cancel
// returns. The subscription ends on Cancel or when ctx is done.
func Watch[T any](ctx context.Context, n Notifier, read func(context.Context) (T, error), fn func(T), match func(Event) bool, topics ...string) (*Subscription, error) {
	return WatchUntil(ctx, n, read, fn, nil, match, topics...)
}

// WatchUntil is Watch with a terminal outcome: when a re-read fails with ErrGone
// end, if set, receives the error and the subscription is cancelled. end runs
// under the same guard as fn, so it must not cancel the subscription.
func WatchUntil[T any](ctx context.Context, n Notifier, read func(context.Context) (T, error), fn func(T), end func(error), match func(Event) bool, topics ...string) (*Subscription, error) {
	if n == nil {
		return nil, errors.New("notifier.Watch: no notifier configured")
	}

	var (
		mu  sync.Mutex
		sub *Subscription
	)
	mu.Lock()
	sub = n.Subscribe(match, func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		rctx, cancel := context.WithTimeout(context.Background(), ReadTimeout)
		defer cancel()
		snap, err := read(rctx)
		if err == nil {
			sub.Guard(func() { fn(snap) })
			return
		}
		if !errors.Is(err, ErrGone) {
			logger.Debug("snapshot re-read failed", "topic", ev.Topic, "entity_id", ev.EntityID, "error", err)
			return
		}
		if end != nil {
			sub.Guard(func() { end(err) })
		}
		sub.Cancel()
	}, topics...)

	snap, err := read(ctx)
	if err != nil {
		mu.Unlock()
		sub.Cancel()
		return nil, err
	}
	fn(snap)
	mu.Unlock()

	if ctx.Done() != nil {
		stop := context.AfterFunc(ctx, sub.Cancel)
		go func() {
			<-sub.Done()
			stop()
		}()
	}
	return sub, nil
}
