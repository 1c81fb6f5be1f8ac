package delivery

import (
	"context"
	"sync"
	"testing"
	"time"

	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(reqs []*models.DeliveryRequest) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.ID
	}
	return out
}

func TestService_FeedVisibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.social.befriend("alice", "carol")

	a1 := f.create(t, alice, "")
	f.create(t, bob, "")
	a2 := f.create(t, alice, "")
	own := f.create(t, carol, "")

	feed, err := f.svc.Feed(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID, a1.ID}, ids(feed), "friends only, newest first")
	assert.NotContains(t, ids(feed), own.ID)
	for _, r := range feed {
		assert.Empty(t, r.OTP)
	}

	feed, err = f.svc.Feed(ctx, dave)
	require.NoError(t, err)
	assert.Empty(t, feed)

	_, err = f.svc.Accept(ctx, carol, a1.ID)
	require.NoError(t, err)
	feed, err = f.svc.Feed(ctx, carol)
	require.NoError(t, err)
	assert.Equal(t, []string{a2.ID}, ids(feed), "claimed requests leave the feed")

	f.social.unfriend("alice", "carol")
	feed, err = f.svc.Feed(ctx, carol)
	require.NoError(t, err)
	assert.Empty(t, feed)

	_, err = f.svc.Feed(ctx, models.Principal{})
	assert.ErrorIs(t, err, models.ErrUnauthenticated)
}

// recorder collects snapshots delivered to a watch callback.
type recorder[T any] struct {
	mu    sync.Mutex
	snaps []T
}

func (r *recorder[T]) add(v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, v)
}

func (r *recorder[T]) last() (T, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	if len(r.snaps) == 0 {
		return zero, 0
	}
	return r.snaps[len(r.snaps)-1], len(r.snaps)
}

func TestService_WatchRequest(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.social.befriend("alice", "carol")
	req := f.create(t, alice, "4821")

	rec := &recorder[*models.DeliveryRequest]{}
	sub, err := f.svc.WatchRequest(ctx, alice, req.ID, rec.add, nil)
	require.NoError(t, err)
	defer sub.Cancel()

	first, n := rec.last()
	require.Equal(t, 1, n, "initial snapshot before returning")
	assert.Equal(t, models.StatusPending, first.Status)

	_, err = f.svc.Accept(ctx, carol, req.ID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return snap.Status == models.StatusAccepted && snap.PartnerID != nil
	}, time.Second, 5*time.Millisecond)

	// unrelated requests do not wake the observer
	_, before := rec.last()
	f.create(t, alice, "")
	time.Sleep(50 * time.Millisecond)
	_, after := rec.last()
	assert.Equal(t, before, after)

	sub.Cancel()
	sub.Cancel()
	_, err = f.svc.Advance(ctx, carol, req.ID, models.StatusPickedUp)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	snap, _ := rec.last()
	assert.Equal(t, models.StatusAccepted, snap.Status, "no snapshots after cancel")
}

func TestService_WatchRequestEndsWhenAnotherCarrierAccepts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.social.befriend("alice", "carol")
	f.social.befriend("alice", "dave")
	req := f.create(t, alice, "")

	rec := &recorder[*models.DeliveryRequest]{}
	ended := make(chan error, 1)
	sub, err := f.svc.WatchRequest(ctx, carol, req.ID, rec.add, func(err error) { ended <- err })
	require.NoError(t, err)
	defer sub.Cancel()

	_, err = f.svc.Accept(ctx, dave, req.ID)
	require.NoError(t, err)

	select {
	case err := <-ended:
		assert.ErrorIs(t, err, models.ErrNotFound)
	case <-time.After(time.Second):
		t.Fatal("observer was not told it lost sight of the request")
	}
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription still open after losing visibility")
	}
	snap, n := rec.last()
	assert.Equal(t, 1, n)
	assert.Equal(t, models.StatusPending, snap.Status)
	assert.Eventually(t, func() bool { return f.hub.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestService_WatchRequestRejectsStrangers(t *testing.T) {
	f := newFixture(t)
	req := f.create(t, alice, "")

	_, err := f.svc.WatchRequest(context.Background(), dave, req.ID, func(*models.DeliveryRequest) {}, nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Zero(t, f.hub.Len(), "failed watch leaves no subscription behind")
}

func TestService_WatchFeed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.social.befriend("alice", "carol")

	rec := &recorder[[]*models.DeliveryRequest]{}
	sub, err := f.svc.WatchFeed(ctx, carol, rec.add)
	require.NoError(t, err)
	defer sub.Cancel()

	first, n := rec.last()
	require.Equal(t, 1, n)
	assert.Empty(t, first)

	req := f.create(t, alice, "")
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap) == 1 && snap[0].ID == req.ID
	}, time.Second, 5*time.Millisecond)

	// a new friendship re-computes the feed
	bobReq := f.create(t, bob, "")
	f.social.befriend("bob", "carol")
	require.NoError(t, f.hub.Publish(ctx, notifier.Event{Topic: notifier.TopicFriendships, Kind: notifier.KindInsert}))
	require.Eventually(t, func() bool {
		snap, _ := rec.last()
		return len(snap) == 2 && snap[0].ID == bobReq.ID
	}, time.Second, 5*time.Millisecond)
}

func TestService_WatchEndsWithContext(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := f.svc.WatchFeed(ctx, carol, func([]*models.DeliveryRequest) {})
	require.NoError(t, err)
	require.Equal(t, 1, f.hub.Len())

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscription not cancelled with its context")
	}
	assert.Zero(t, f.hub.Len())
}
