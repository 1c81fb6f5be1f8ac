package social

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

const friendshipPrefix = "friendship/"

func friendshipKey(id string) []byte {
	return []byte(friendshipPrefix + id)
}

// pairKey is the unordered-pair index that enforces one friendship per pair.
func pairKey(a, b string) []byte {
	if a > b {
		a, b = b, a
	}
	return database.Key("friendpair/", a, b)
}

// BadgerRepository implements RepositoryInterface on an embedded badger store.
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *BadgerRepository) Insert(_ context.Context, f *models.Friendship) error {
	now := r.now()
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		taken, err := database.Exists(txn, pairKey(f.RequesterID, f.ReceiverID))
		if err != nil {
			return err
		}
		if taken {
			return models.ErrConflict
		}
		stored := *f
		stored.CreatedAt = now
		if err := database.SetJSON(txn, friendshipKey(f.ID), &stored); err != nil {
			return err
		}
		return txn.Set(pairKey(f.RequesterID, f.ReceiverID), []byte(f.ID))
	})
	if err != nil {
		return fmt.Errorf("badgerRepository.Insert: %w", err)
	}
	f.CreatedAt = now
	return nil
}

func (r *BadgerRepository) FindByID(_ context.Context, id string) (*models.Friendship, error) {
	var f models.Friendship
	err := r.db.View(func(txn *badger.Txn) error {
		return database.GetJSON(txn, friendshipKey(id), &f)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("badgerRepository.FindByID: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("badgerRepository.FindByID: %w", err)
	}
	return &f, nil
}

func (r *BadgerRepository) SetStatus(_ context.Context, id string, expected, next models.FriendshipStatus) (*models.Friendship, error) {
	var f models.Friendship
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		if err := database.GetJSON(txn, friendshipKey(id), &f); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if f.Status != expected {
			return models.ErrPreconditionFailed
		}
		f.Status = next
		return database.SetJSON(txn, friendshipKey(id), &f)
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.SetStatus: %w", err)
	}
	return &f, nil
}

func (r *BadgerRepository) Delete(_ context.Context, id string) error {
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		var f models.Friendship
		if err := database.GetJSON(txn, friendshipKey(id), &f); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if err := txn.Delete(pairKey(f.RequesterID, f.ReceiverID)); err != nil {
			return err
		}
		return txn.Delete(friendshipKey(id))
	})
	if err != nil {
		return fmt.Errorf("badgerRepository.Delete: %w", err)
	}
	return nil
}

func (r *BadgerRepository) ListFor(_ context.Context, principalID string) ([]*models.Friendship, error) {
	out := []*models.Friendship{}
	err := r.db.View(func(txn *badger.Txn) error {
		return database.ScanJSON(txn, []byte(friendshipPrefix), func(f *models.Friendship) error {
			if f.Involves(principalID) {
				out = append(out, f)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.ListFor: %w", err)
	}
	slices.SortStableFunc(out, func(a, b *models.Friendship) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (r *BadgerRepository) AcceptedPeers(ctx context.Context, principalID string) ([]string, error) {
	all, err := r.ListFor(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.AcceptedPeers: %w", err)
	}
	ids := []string{}
	for _, f := range all {
		if f.Status == models.FriendshipAccepted {
			ids = append(ids, f.Other(principalID))
		}
	}
	return ids, nil
}

func (r *BadgerRepository) AreFriends(_ context.Context, a, b string) (bool, error) {
	ok := false
	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(pairKey(a, b))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		var f models.Friendship
		if err := database.GetJSON(txn, friendshipKey(string(id)), &f); err != nil {
			return err
		}
		ok = f.Status == models.FriendshipAccepted && f.Involves(a) && f.Involves(b)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badgerRepository.AreFriends: %w", err)
	}
	return ok, nil
}
