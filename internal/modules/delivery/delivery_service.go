package delivery

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"trusted-delivery/internal/metrics"
	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"
	"trusted-delivery/pkg/logger"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// SocialGraph answers trust questions about the sender and a candidate carrier.
type SocialGraph interface {
	FriendsOf(ctx context.Context, principalID string) ([]models.Principal, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// TrustCreditor rewards sender and partner for a completed delivery.
type TrustCreditor interface {
	CreditDelivery(ctx context.Context, req *models.DeliveryRequest) error
}

// ServiceInterface defines the contract for the delivery lifecycle.
type ServiceInterface interface {
	Create(ctx context.Context, sender models.Principal, in models.CreateRequestInput) (*models.DeliveryRequest, error)
	Get(ctx context.Context, viewer models.Principal, id string) (*models.DeliveryRequest, error)
	Accept(ctx context.Context, carrier models.Principal, id string) (*models.DeliveryRequest, error)
	Advance(ctx context.Context, actor models.Principal, id string, next models.Status) (*models.DeliveryRequest, error)
	VerifyOTP(ctx context.Context, actor models.Principal, id, otp string) (*models.DeliveryRequest, error)
	Cancel(ctx context.Context, sender models.Principal, id string) (*models.DeliveryRequest, error)
	Feed(ctx context.Context, viewer models.Principal) ([]*models.DeliveryRequest, error)
	ListMine(ctx context.Context, sender models.Principal) ([]*models.DeliveryRequest, error)
	ListCarrying(ctx context.Context, carrier models.Principal) ([]*models.DeliveryRequest, error)
	WatchRequest(ctx context.Context, viewer models.Principal, id string, fn func(*models.DeliveryRequest), end func(error)) (*notifier.Subscription, error)
	WatchFeed(ctx context.Context, viewer models.Principal, fn func([]*models.DeliveryRequest)) (*notifier.Subscription, error)
}

// Service implements the request lifecycle state machine.
type Service struct {
	repo     RepositoryInterface
	social   SocialGraph
	trust    TrustCreditor
	notifier notifier.Notifier
	validate *validator.Validate

	// background runs the trust credit after a delivery completes.
	background    func(func())
	creditTimeout time.Duration
}

// NewService creates a new delivery service.
func NewService(repo RepositoryInterface, social SocialGraph, trust TrustCreditor, n notifier.Notifier) *Service {
	return &Service{
		repo:          repo,
		social:        social,
		trust:         trust,
		notifier:      n,
		validate:      validator.New(),
		background:    func(f func()) { go f() },
		creditTimeout: time.Minute,
	}
}

// Create validates the payload and stores a new PENDING request with its OTP.
func (s *Service) Create(ctx context.Context, sender models.Principal, in models.CreateRequestInput) (*models.DeliveryRequest, error) {
	if sender.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}

	item := strings.TrimSpace(in.Item)
	pickup := strings.TrimSpace(in.Pickup)
	drop := strings.TrimSpace(in.DropLocation)
	if item == "" || pickup == "" || drop == "" {
		return nil, fmt.Errorf("%w: item, pickup and drop_location must not be blank", models.ErrValidation)
	}

	req := &models.DeliveryRequest{
		ID:                 in.ID,
		SenderID:           sender.ID,
		Item:               item,
		CourierName:        in.CourierName,
		ExternalTrackingID: in.ExternalTrackingID,
		WeightKg:           in.WeightKg,
		IsFragile:          in.IsFragile,
		PackagePhotoURL:    in.PackagePhotoURL,
		Pickup:             pickup,
		DropLocation:       drop,
		PickupCoords:       in.PickupCoords,
		DropCoords:         in.DropCoords,
		DeliveryType:       in.DeliveryType,
		Fare:               in.Fare,
		OTP:                in.OTP,
		BroadcastScope:     in.BroadcastScope,
		Status:             models.StatusPending,
	}
	if req.ID == "" {
		req.ID = "REQ_" + uuid.NewString()
	}
	if req.WeightKg == 0 {
		req.WeightKg = models.DefaultWeightKg
	}
	if req.DeliveryType == "" {
		req.DeliveryType = models.DeliveryTypeWalker
	}
	if req.BroadcastScope == "" {
		req.BroadcastScope = models.BroadcastAllFriends
	}
	if req.OTP == "" {
		otp, err := generateOTP()
		if err != nil {
			return nil, fmt.Errorf("service.Create: %w", err)
		}
		req.OTP = otp
	}

	if err := s.repo.Insert(ctx, req); err != nil {
		return nil, fmt.Errorf("service.Create: %w", err)
	}
	metrics.Transitions.WithLabelValues(string(models.StatusPending)).Inc()
	s.publish(ctx, notifier.KindInsert, req.ID)
	return req, nil
}

// Get returns a request to a principal allowed to see it. The sender sees the OTP;
// the partner and, while PENDING, the sender's friends see a redacted copy. Anyone
// else gets ErrNotFound so ids do not leak.
func (s *Service) Get(ctx context.Context, viewer models.Principal, id string) (*models.DeliveryRequest, error) {
	if viewer.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.Get: %w", err)
	}

	if req.SenderID == viewer.ID {
		return req, nil
	}
	ok, err := s.visible(ctx, viewer, req)
	if err != nil {
		return nil, fmt.Errorf("service.Get: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("service.Get: %w", models.ErrNotFound)
	}
	return req.Redacted(), nil
}

// visible reports whether viewer may know that req exists: its sender, its
// partner, or a friend of the sender while it is still PENDING.
func (s *Service) visible(ctx context.Context, viewer models.Principal, req *models.DeliveryRequest) (bool, error) {
	switch {
	case req.SenderID == viewer.ID, req.IsPartner(viewer.ID):
		return true, nil
	case req.Status == models.StatusPending:
		return s.social.AreFriends(ctx, req.SenderID, viewer.ID)
	}
	return false, nil
}

// Accept claims a PENDING request for a friend of the sender. Exactly one carrier
// can win; the others receive ErrPreconditionFailed.
func (s *Service) Accept(ctx context.Context, carrier models.Principal, id string) (*models.DeliveryRequest, error) {
	if carrier.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.Accept: %w", err)
	}
	if req.SenderID == carrier.ID {
		return nil, fmt.Errorf("service.Accept: sender cannot carry own request: %w", models.ErrForbidden)
	}
	ok, err := s.social.AreFriends(ctx, req.SenderID, carrier.ID)
	if err != nil {
		return nil, fmt.Errorf("service.Accept: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("service.Accept: carrier is not a friend of the sender: %w", models.ErrForbidden)
	}
	if req.Status != models.StatusPending {
		metrics.AcceptRacesLost.Inc()
		return nil, fmt.Errorf("service.Accept: %w", models.ErrPreconditionFailed)
	}

	partnerID, partnerName := carrier.ID, carrier.DisplayName
	updated, err := s.repo.CompareAndSetStatus(ctx, id, models.StatusPending, models.StatusAccepted, models.StatusFields{
		PartnerID:   &partnerID,
		PartnerName: &partnerName,
	})
	if err != nil {
		if errors.Is(err, models.ErrPreconditionFailed) {
			metrics.AcceptRacesLost.Inc()
		}
		return nil, fmt.Errorf("service.Accept: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(models.StatusAccepted)).Inc()
	s.publish(ctx, notifier.KindUpdate, id)
	return updated.Redacted(), nil
}

// Advance moves an accepted request one step forward (PICKED_UP, then DELIVERING).
// Only the assigned partner may do this.
func (s *Service) Advance(ctx context.Context, actor models.Principal, id string, next models.Status) (*models.DeliveryRequest, error) {
	if actor.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	if _, ok := carrierSteps[next]; !ok {
		return nil, fmt.Errorf("service.Advance: %s is not a carrier step: %w", next, models.ErrInvalidTransition)
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.Advance: %w", err)
	}
	if !req.IsPartner(actor.ID) {
		return nil, fmt.Errorf("service.Advance: only the assigned partner can update status: %w", models.ErrForbidden)
	}
	if !CanTransition(req.Status, next) {
		return nil, fmt.Errorf("service.Advance: %s -> %s: %w", req.Status, next, models.ErrInvalidTransition)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, id, req.Status, next, models.StatusFields{})
	if err != nil {
		return nil, fmt.Errorf("service.Advance: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(next)).Inc()
	s.publish(ctx, notifier.KindUpdate, id)
	return updated.Redacted(), nil
}

// VerifyOTP completes a delivery when the partner presents the sender's code.
// The DELIVERING -> DELIVERED compare-and-swap guards both the status change and
// the trust credit, so duplicate submissions can never credit twice.
func (s *Service) VerifyOTP(ctx context.Context, actor models.Principal, id, otp string) (*models.DeliveryRequest, error) {
	if actor.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.VerifyOTP: %w", err)
	}
	ok, err := s.visible(ctx, actor, req)
	if err != nil {
		return nil, fmt.Errorf("service.VerifyOTP: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("service.VerifyOTP: %w", models.ErrNotFound)
	}
	if req.Status == models.StatusDelivered {
		return nil, fmt.Errorf("service.VerifyOTP: %w", models.ErrAlreadyCompleted)
	}
	if !req.IsPartner(actor.ID) {
		return nil, fmt.Errorf("service.VerifyOTP: only the assigned partner can complete: %w", models.ErrForbidden)
	}
	if subtle.ConstantTimeCompare([]byte(otp), []byte(req.OTP)) != 1 {
		metrics.OTPFailures.Inc()
		return nil, fmt.Errorf("service.VerifyOTP: %w", models.ErrInvalidOTP)
	}
	if req.Status != models.StatusDelivering {
		return nil, fmt.Errorf("service.VerifyOTP: %s -> %s: %w", req.Status, models.StatusDelivered, models.ErrInvalidTransition)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, id, models.StatusDelivering, models.StatusDelivered, models.StatusFields{})
	if err != nil {
		if errors.Is(err, models.ErrPreconditionFailed) {
			// A concurrent duplicate won the swap.
			if cur, ferr := s.repo.FindByID(ctx, id); ferr == nil && cur.Status == models.StatusDelivered {
				return nil, fmt.Errorf("service.VerifyOTP: %w", models.ErrAlreadyCompleted)
			}
		}
		return nil, fmt.Errorf("service.VerifyOTP: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(models.StatusDelivered)).Inc()
	s.publish(ctx, notifier.KindUpdate, id)
	s.scheduleCredit(updated)
	return updated.Redacted(), nil
}

// Cancel withdraws a request that nobody has accepted yet.
func (s *Service) Cancel(ctx context.Context, sender models.Principal, id string) (*models.DeliveryRequest, error) {
	if sender.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	req, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.Cancel: %w", err)
	}
	if req.SenderID != sender.ID {
		return nil, fmt.Errorf("service.Cancel: only the sender can cancel: %w", models.ErrForbidden)
	}
	if !CanTransition(req.Status, models.StatusCancelled) {
		return nil, fmt.Errorf("service.Cancel: %s -> %s: %w", req.Status, models.StatusCancelled, models.ErrInvalidTransition)
	}

	updated, err := s.repo.CompareAndSetStatus(ctx, id, models.StatusPending, models.StatusCancelled, models.StatusFields{})
	if err != nil {
		return nil, fmt.Errorf("service.Cancel: %w", err)
	}

	metrics.Transitions.WithLabelValues(string(models.StatusCancelled)).Inc()
	s.publish(ctx, notifier.KindUpdate, id)
	return updated, nil
}

// ListMine lists the requests a principal has sent.
func (s *Service) ListMine(ctx context.Context, sender models.Principal) ([]*models.DeliveryRequest, error) {
	if sender.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	reqs, err := s.repo.ListBySender(ctx, sender.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ListMine: %w", err)
	}
	return reqs, nil
}

// ListCarrying lists the requests a principal has accepted as partner.
func (s *Service) ListCarrying(ctx context.Context, carrier models.Principal) ([]*models.DeliveryRequest, error) {
	if carrier.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	reqs, err := s.repo.ListByPartner(ctx, carrier.ID)
	if err != nil {
		return nil, fmt.Errorf("service.ListCarrying: %w", err)
	}
	return redactAll(reqs), nil
}

// scheduleCredit hands the trust credit to the background runner. The status
// change is already committed; a failed credit is logged and never undoes it.
func (s *Service) scheduleCredit(req *models.DeliveryRequest) {
	if s.trust == nil {
		return
	}
	s.background(func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.creditTimeout)
		defer cancel()
		if err := s.trust.CreditDelivery(ctx, req); err != nil {
			logger.Warn("trust credit failed", "request_id", req.ID, "sender_id", req.SenderID, "partner_id", req.PartnerID, "error", err)
		}
	})
}

func (s *Service) publish(ctx context.Context, kind, id string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Publish(ctx, notifier.Event{Topic: notifier.TopicRequests, Kind: kind, EntityID: id}); err != nil {
		logger.Warn("publish request change failed", "request_id", id, "error", err)
	}
}

// generateOTP returns a 4-digit code in 1000-9999.
func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%d", 1000+n.Int64()), nil
}

func redactAll(reqs []*models.DeliveryRequest) []*models.DeliveryRequest {
	out := make([]*models.DeliveryRequest, len(reqs))
	for i, r := range reqs {
		out[i] = r.Redacted()
	}
	return out
}
