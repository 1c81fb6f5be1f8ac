package delivery

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"trusted-delivery/internal/database"
	"trusted-delivery/internal/models"

	"github.com/dgraph-io/badger/v4"
)

const requestPrefix = "req/"

func requestKey(id string) []byte {
	return []byte(requestPrefix + id)
}

// BadgerRepository implements RepositoryInterface on an embedded badger store.
// Optimistic transactions give the compare-and-swap its atomicity: a conflicting
// commit is replayed against the winner's state.
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *BadgerRepository) Insert(_ context.Context, req *models.DeliveryRequest) error {
	now := r.now()
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		exists, err := database.Exists(txn, requestKey(req.ID))
		if err != nil {
			return err
		}
		if exists {
			return models.ErrConflict
		}
		stored := *req
		stored.CreatedAt = now
		stored.UpdatedAt = now
		return database.SetJSON(txn, requestKey(req.ID), &stored)
	})
	if err != nil {
		return fmt.Errorf("badgerRepository.Insert: %w", err)
	}
	req.CreatedAt = now
	req.UpdatedAt = now
	return nil
}

func (r *BadgerRepository) FindByID(_ context.Context, id string) (*models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := r.db.View(func(txn *badger.Txn) error {
		return database.GetJSON(txn, requestKey(id), &req)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("badgerRepository.FindByID: %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.FindByID: %w", err)
	}
	return &req, nil
}

func (r *BadgerRepository) CompareAndSetStatus(_ context.Context, id string, expected, next models.Status, fields models.StatusFields) (*models.DeliveryRequest, error) {
	var updated models.DeliveryRequest
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		var cur models.DeliveryRequest
		if err := database.GetJSON(txn, requestKey(id), &cur); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if cur.Status != expected {
			return models.ErrPreconditionFailed
		}
		cur.Status = next
		if cur.PartnerID == nil && fields.PartnerID != nil {
			cur.PartnerID = fields.PartnerID
		}
		if cur.PartnerName == nil && fields.PartnerName != nil {
			cur.PartnerName = fields.PartnerName
		}
		cur.UpdatedAt = r.now()
		updated = cur
		return database.SetJSON(txn, requestKey(id), &cur)
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.CompareAndSetStatus: %w", err)
	}
	return &updated, nil
}

func (r *BadgerRepository) QueryPending(_ context.Context, filter PendingFilter) ([]*models.DeliveryRequest, error) {
	return r.scan("QueryPending", filter.Match)
}

func (r *BadgerRepository) ListBySender(_ context.Context, senderID string) ([]*models.DeliveryRequest, error) {
	return r.scan("ListBySender", func(req *models.DeliveryRequest) bool {
		return req.SenderID == senderID
	})
}

func (r *BadgerRepository) ListByPartner(_ context.Context, partnerID string) ([]*models.DeliveryRequest, error) {
	return r.scan("ListByPartner", func(req *models.DeliveryRequest) bool {
		return req.IsPartner(partnerID)
	})
}

func (r *BadgerRepository) CountDelivered(_ context.Context, a, b string) (int, error) {
	reqs, err := r.scan("CountDelivered", func(req *models.DeliveryRequest) bool {
		if req.Status != models.StatusDelivered {
			return false
		}
		return (req.SenderID == a && req.IsPartner(b)) || (req.SenderID == b && req.IsPartner(a))
	})
	if err != nil {
		return 0, err
	}
	return len(reqs), nil
}

// scan returns matching requests newest first.
func (r *BadgerRepository) scan(op string, keep func(*models.DeliveryRequest) bool) ([]*models.DeliveryRequest, error) {
	out := []*models.DeliveryRequest{}
	err := r.db.View(func(txn *badger.Txn) error {
		return database.ScanJSON(txn, []byte(requestPrefix), func(req *models.DeliveryRequest) error {
			if keep(req) {
				out = append(out, req)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.%s: %w", op, err)
	}
	slices.SortStableFunc(out, func(a, b *models.DeliveryRequest) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}
