package social

import (
	"context"
	"fmt"
	"strings"

	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"
	"trusted-delivery/pkg/logger"

	"github.com/google/uuid"
)

// ProfileLookup resolves principal ids to stored profiles.
type ProfileLookup interface {
	Get(ctx context.Context, id string) (*models.Profile, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.Profile, error)
}

// DeliveryCounter counts completed deliveries between two principals.
type DeliveryCounter interface {
	CountDelivered(ctx context.Context, a, b string) (int, error)
}

// ServiceInterface defines the contract for the social graph.
type ServiceInterface interface {
	SendRequest(ctx context.Context, requester models.Principal, receiverID string) (*models.Friendship, error)
	Respond(ctx context.Context, receiver models.Principal, friendshipID string, accept bool) (*models.Friendship, error)
	Remove(ctx context.Context, actor models.Principal, friendshipID string) error
	ListFriends(ctx context.Context, viewer models.Principal) ([]*models.FriendView, error)
	FriendsOf(ctx context.Context, principalID string) ([]models.Principal, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
	MutualDeliveries(ctx context.Context, viewer models.Principal, friendID string) (int, error)
	WatchFriends(ctx context.Context, viewer models.Principal, fn func([]*models.FriendView)) (*notifier.Subscription, error)
}

// Service implements the friend graph the delivery core trusts.
type Service struct {
	repo       RepositoryInterface
	profiles   ProfileLookup
	deliveries DeliveryCounter
	notifier   notifier.Notifier
}

// NewService creates a new social service.
func NewService(repo RepositoryInterface, profiles ProfileLookup, deliveries DeliveryCounter, n notifier.Notifier) *Service {
	return &Service{repo: repo, profiles: profiles, deliveries: deliveries, notifier: n}
}

func (s *Service) SendRequest(ctx context.Context, requester models.Principal, receiverID string) (*models.Friendship, error) {
	if requester.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return nil, fmt.Errorf("%w: receiver_id is required", models.ErrValidation)
	}
	if receiverID == requester.ID {
		return nil, fmt.Errorf("service.SendRequest: %w", models.ErrSelfFriendship)
	}
	if _, err := s.profiles.Get(ctx, receiverID); err != nil {
		return nil, fmt.Errorf("service.SendRequest: %w", err)
	}

	f := &models.Friendship{
		ID:          uuid.NewString(),
		RequesterID: requester.ID,
		ReceiverID:  receiverID,
		Status:      models.FriendshipPending,
	}
	if err := s.repo.Insert(ctx, f); err != nil {
		return nil, fmt.Errorf("service.SendRequest: %w", err)
	}
	s.publish(ctx, notifier.KindInsert, f.ID)
	return f, nil
}

// Respond lets the receiver accept or reject a pending request, once.
func (s *Service) Respond(ctx context.Context, receiver models.Principal, friendshipID string, accept bool) (*models.Friendship, error) {
	if receiver.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	f, err := s.repo.FindByID(ctx, friendshipID)
	if err != nil {
		return nil, fmt.Errorf("service.Respond: %w", err)
	}
	if f.ReceiverID != receiver.ID {
		return nil, fmt.Errorf("service.Respond: only the receiver can respond: %w", models.ErrForbidden)
	}

	next := models.FriendshipRejected
	if accept {
		next = models.FriendshipAccepted
	}
	updated, err := s.repo.SetStatus(ctx, friendshipID, models.FriendshipPending, next)
	if err != nil {
		return nil, fmt.Errorf("service.Respond: %w", err)
	}
	s.publish(ctx, notifier.KindUpdate, friendshipID)
	return updated, nil
}

// Remove deletes a friendship, or withdraws a pending request. Either party may do it.
func (s *Service) Remove(ctx context.Context, actor models.Principal, friendshipID string) error {
	if actor.ID == "" {
		return models.ErrUnauthenticated
	}
	f, err := s.repo.FindByID(ctx, friendshipID)
	if err != nil {
		return fmt.Errorf("service.Remove: %w", err)
	}
	if !f.Involves(actor.ID) {
		return fmt.Errorf("service.Remove: %w", models.ErrForbidden)
	}
	if err := s.repo.Delete(ctx, friendshipID); err != nil {
		return fmt.Errorf("service.Remove: %w", err)
	}
	s.publish(ctx, notifier.KindDelete, friendshipID)
	return nil
}

// ListFriends returns every friendship of viewer, pending ones included, newest first.
func (s *Service) ListFriends(ctx context.Context, viewer models.Principal) ([]*models.FriendView, error) {
	if viewer.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	all, err := s.repo.ListFor(ctx, viewer.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ListFriends: %w", err)
	}

	ids := make([]string, 0, len(all))
	for _, f := range all {
		ids = append(ids, f.Other(viewer.ID))
	}
	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service.ListFriends: %w", err)
	}

	views := make([]*models.FriendView, 0, len(all))
	for _, f := range all {
		other := f.Other(viewer.ID)
		friend, ok := profiles[other]
		if !ok {
			friend = &models.Profile{ID: other}
		}
		direction := models.DirectionReceived
		if f.RequesterID == viewer.ID {
			direction = models.DirectionSent
		}
		views = append(views, &models.FriendView{
			FriendshipID: f.ID,
			Status:       f.Status,
			Direction:    direction,
			Friend:       friend,
			CreatedAt:    f.CreatedAt,
		})
	}
	return views, nil
}

// FriendsOf returns the accepted friends of principalID.
func (s *Service) FriendsOf(ctx context.Context, principalID string) ([]models.Principal, error) {
	ids, err := s.repo.AcceptedPeers(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("service.FriendsOf: %w", err)
	}
	if len(ids) == 0 {
		return []models.Principal{}, nil
	}
	profiles, err := s.profiles.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service.FriendsOf: %w", err)
	}

	out := make([]models.Principal, 0, len(ids))
	for _, id := range ids {
		if p, ok := profiles[id]; ok {
			out = append(out, p.Principal())
			continue
		}
		out = append(out, models.Principal{ID: id})
	}
	return out, nil
}

// AreFriends reports whether a and b share an accepted friendship.
func (s *Service) AreFriends(ctx context.Context, a, b string) (bool, error) {
	if a == "" || b == "" || a == b {
		return false, nil
	}
	ok, err := s.repo.AreFriends(ctx, a, b)
	if err != nil {
		return false, fmt.Errorf("service.AreFriends: %w", err)
	}
	return ok, nil
}

// MutualDeliveries counts deliveries completed between viewer and friendID in either role.
func (s *Service) MutualDeliveries(ctx context.Context, viewer models.Principal, friendID string) (int, error) {
	if viewer.ID == "" {
		return 0, models.ErrUnauthenticated
	}
	n, err := s.deliveries.CountDelivered(ctx, viewer.ID, friendID)
	if err != nil {
		return 0, fmt.Errorf("service.MutualDeliveries: %w", err)
	}
	return n, nil
}

// WatchFriends delivers the viewer's friend list now and after every friendship change.
func (s *Service) WatchFriends(ctx context.Context, viewer models.Principal, fn func([]*models.FriendView)) (*notifier.Subscription, error) {
	read := func(ctx context.Context) ([]*models.FriendView, error) {
		return s.ListFriends(ctx, viewer)
	}
	return notifier.Watch(ctx, s.notifier, read, fn, nil, notifier.TopicFriendships)
}

func (s *Service) publish(ctx context.Context, kind, id string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notifier.Event{Topic: notifier.TopicFriendships, Kind: kind, EntityID: id}); err != nil {
		logger.Warn("publish friendship change failed", "friendship_id", id, "error", err)
	}
}
