// Package notifier propagates state changes to observers. Delivery is
// at-least-once and coalescing: an observer may miss intermediate events but
// always receives one after the latest change, so observers re-read state
// instead of applying deltas.
package notifier

import "context"

const (
	TopicRequests    = "requests"
	TopicFriendships = "friendships"
)

const (
	KindInsert = "insert"
	KindUpdate = "update"
	KindDelete = "delete"
	// KindResync tells observers that events may have been lost and state must be re-read.
	KindResync = "resync"
)

// Event announces that an entity on a topic changed.
type Event struct {
	Topic    string `json:"topic"`
	Kind     string `json:"kind"`
	EntityID string `json:"entity_id,omitempty"`
}

// Concerns reports whether an observer of entityID must react to e.
func (e Event) Concerns(entityID string) bool {
	return e.Kind == KindResync || e.EntityID == entityID
}

// Notifier is the publish/subscribe capability the services depend on.
type Notifier interface {
	Publish(ctx context.Context, ev Event) error
	Subscribe(match func(Event) bool, handle func(Event), topics ...string) *Subscription
}
