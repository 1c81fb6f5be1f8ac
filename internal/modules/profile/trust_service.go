package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trusted-delivery/internal/metrics"
	"trusted-delivery/internal/models"
	"trusted-delivery/pkg/logger"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"
)

// TrustService credits both parties of a completed delivery. Each credit is
// retried on its own; the store makes a repeated credit a no-op.
type TrustService struct {
	repo       RepositoryInterface
	maxTries   uint
	newBackOff func() backoff.BackOff
}

// NewTrustService creates a trust creditor that tries each credit up to maxTries times.
func NewTrustService(repo RepositoryInterface, maxTries uint) *TrustService {
	if maxTries == 0 {
		maxTries = 1
	}
	return &TrustService{
		repo:     repo,
		maxTries: maxTries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
	}
}

// CreditDelivery adds one trust point to the sender and the partner of req.
// When only one credit lands the other is logged and returned; nothing is rolled back.
func (s *TrustService) CreditDelivery(ctx context.Context, req *models.DeliveryRequest) error {
	if req.Status != models.StatusDelivered {
		return fmt.Errorf("trust.CreditDelivery: request %s is %s: %w", req.ID, req.Status, models.ErrInvalidTransition)
	}
	if req.PartnerID == nil {
		return fmt.Errorf("trust.CreditDelivery: request %s has no partner: %w", req.ID, models.ErrValidation)
	}

	principals := [2]string{req.SenderID, *req.PartnerID}
	var errs [2]error
	var g errgroup.Group
	for i, id := range principals {
		g.Go(func() error {
			errs[i] = s.credit(ctx, req.ID, id)
			return errs[i]
		})
	}
	_ = g.Wait()

	if errs[0] != nil && errs[1] == nil || errs[0] == nil && errs[1] != nil {
		logger.Error("partial trust credit", "request_id", req.ID,
			"sender_id", principals[0], "sender_error", errs[0],
			"partner_id", principals[1], "partner_error", errs[1])
	}
	if err := errors.Join(errs[0], errs[1]); err != nil {
		return fmt.Errorf("trust.CreditDelivery: %w", err)
	}
	return nil
}

func (s *TrustService) credit(ctx context.Context, requestID, principalID string) error {
	op := func() (bool, error) {
		ok, err := s.repo.CreditTrust(ctx, requestID, principalID)
		if errors.Is(err, models.ErrNotFound) {
			return false, backoff.Permanent(err)
		}
		return ok, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Debug("retrying trust credit", "request_id", requestID, "principal_id", principalID, "wait", wait, "error", err)
	}

	credited, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(s.newBackOff()),
		backoff.WithMaxTries(s.maxTries),
		backoff.WithNotify(notify),
	)
	switch {
	case err != nil:
		metrics.TrustCredits.WithLabelValues("failed").Inc()
		return fmt.Errorf("credit %s: %w", principalID, err)
	case credited:
		metrics.TrustCredits.WithLabelValues("credited").Inc()
	default:
		metrics.TrustCredits.WithLabelValues("duplicate").Inc()
	}
	return nil
}
