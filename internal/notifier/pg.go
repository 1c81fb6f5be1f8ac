package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"trusted-delivery/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultChannel is the postgres NOTIFY channel shared by every server instance.
const DefaultChannel = "delivery_changes"

// PGNotifier publishes through pg_notify so every instance connected to the same
// database sees every change. Notifications received on LISTEN are relayed into
// the embedded Hub, which owns the local subscriptions.
type PGNotifier struct {
	*Hub
	pool    *pgxpool.Pool
	channel string
}

func NewPGNotifier(pool *pgxpool.Pool, hub *Hub) *PGNotifier {
	return &PGNotifier{Hub: hub, pool: pool, channel: DefaultChannel}
}

// Publish sends ev to all instances, this one included.
func (n *PGNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("notifier.Publish: encode: %w", err)
	}
	if _, err := n.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		return fmt.Errorf("notifier.Publish: %w", err)
	}
	return nil
}

// Run listens until ctx is done, reconnecting with exponential backoff. After
// every (re)connect it publishes a resync on each topic, since notifications sent
// while disconnected are lost.
func (n *PGNotifier) Run(ctx context.Context) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = 30 * time.Second

	for {
		err := n.listen(ctx, bo)
		if ctx.Err() != nil {
			return nil
		}
		wait := bo.NextBackOff()
		logger.Warn("notifier listen loop interrupted", "error", err, "retry_in", wait)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (n *PGNotifier) listen(ctx context.Context, bo *backoff.ExponentialBackOff) error {
	conn, err := n.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{n.channel}.Sanitize()); err != nil {
		return err
	}
	bo.Reset()
	for _, topic := range []string{TopicRequests, TopicFriendships} {
		_ = n.Hub.Publish(ctx, Event{Topic: topic, Kind: KindResync})
	}

	for {
		notification, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := decodeEvent(notification.Payload)
		if err != nil {
			logger.Warn("dropping malformed notification", "payload", notification.Payload, "error", err)
			continue
		}
		_ = n.Hub.Publish(ctx, ev)
	}
}

func decodeEvent(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, err
	}
	if ev.Topic == "" {
		return Event{}, errors.New("missing topic")
	}
	return ev, nil
}
