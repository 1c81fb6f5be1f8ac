package delivery

import (
	"context"
	"errors"
	"fmt"

	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"
)

// Feed returns the PENDING requests of the viewer's accepted friends, newest first.
func (s *Service) Feed(ctx context.Context, viewer models.Principal) ([]*models.DeliveryRequest, error) {
	if viewer.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	friends, err := s.social.FriendsOf(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("service.Feed: %w", err)
	}

	filter := PendingFilter{ExcludeSenderID: viewer.ID}
	for _, f := range friends {
		if f.ID != viewer.ID {
			filter.SenderIDs = append(filter.SenderIDs, f.ID)
		}
	}
	if len(filter.SenderIDs) == 0 {
		return []*models.DeliveryRequest{}, nil
	}

	reqs, err := s.repo.QueryPending(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("service.Feed: %w", err)
	}
	return redactAll(reqs), nil
}

// WatchRequest delivers the current row of id to fn, then the re-read row after
// every change to it. When the viewer loses sight of the request, for example a
// friend watching it while another carrier accepts, end receives ErrNotFound and
// the subscription is over. Otherwise it ends on Cancel or when ctx is done.
func (s *Service) WatchRequest(ctx context.Context, viewer models.Principal, id string, fn func(*models.DeliveryRequest), end func(error)) (*notifier.Subscription, error) {
	read := func(ctx context.Context) (*models.DeliveryRequest, error) {
		req, err := s.Get(ctx, viewer, id)
		if errors.Is(err, models.ErrNotFound) {
			return nil, fmt.Errorf("%w: %w", notifier.ErrGone, err)
		}
		return req, err
	}
	match := func(ev notifier.Event) bool { return ev.Concerns(id) }
	return notifier.WatchUntil(ctx, s.notifier, read, fn, end, match, notifier.TopicRequests)
}

// WatchFeed delivers the viewer's feed now and a full recomputation after any
// request or friendship change.
func (s *Service) WatchFeed(ctx context.Context, viewer models.Principal, fn func([]*models.DeliveryRequest)) (*notifier.Subscription, error) {
	read := func(ctx context.Context) ([]*models.DeliveryRequest, error) {
		return s.Feed(ctx, viewer)
	}
	return notifier.Watch(ctx, s.notifier, read, fn, nil, notifier.TopicRequests, notifier.TopicFriendships)
}
