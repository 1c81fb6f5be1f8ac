package profile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"trusted-delivery/internal/database"
	"trusted-delivery/internal/models"

	"github.com/dgraph-io/badger/v4"
)

const profilePrefix = "profile/"

func profileKey(id string) []byte {
	return []byte(profilePrefix + id)
}

// creditKey marks that principalID was credited for requestID.
func creditKey(requestID, principalID string) []byte {
	return database.Key("credit/", requestID, principalID)
}

// BadgerRepository implements RepositoryInterface on an embedded badger store.
type BadgerRepository struct {
	db  *badger.DB
	now func() time.Time
}

func NewBadgerRepository(db *badger.DB) *BadgerRepository {
	return &BadgerRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *BadgerRepository) Ensure(_ context.Context, id, displayName string) (*models.Profile, error) {
	var p models.Profile
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		err := database.GetJSON(txn, profileKey(id), &p)
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		now := r.now()
		p = models.Profile{
			ID:        id,
			Username:  defaultUsername(id, displayName),
			FullName:  displayName,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return database.SetJSON(txn, profileKey(id), &p)
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.Ensure: %w", err)
	}
	return &p, nil
}

func (r *BadgerRepository) FindByID(_ context.Context, id string) (*models.Profile, error) {
	var p models.Profile
	err := r.db.View(func(txn *badger.Txn) error {
		return database.GetJSON(txn, profileKey(id), &p)
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("badgerRepository.FindByID: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("badgerRepository.FindByID: %w", err)
	}
	return &p, nil
}

func (r *BadgerRepository) FindByIDs(_ context.Context, ids []string) (map[string]*models.Profile, error) {
	out := make(map[string]*models.Profile, len(ids))
	err := r.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			var p models.Profile
			err := database.GetJSON(txn, profileKey(id), &p)
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			out[id] = &p
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.FindByIDs: %w", err)
	}
	return out, nil
}

func (r *BadgerRepository) Update(_ context.Context, id string, in models.UpdateProfileInput) (*models.Profile, error) {
	var p models.Profile
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		if err := database.GetJSON(txn, profileKey(id), &p); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		if in.Username != nil {
			p.Username = *in.Username
		}
		if in.FullName != nil {
			p.FullName = *in.FullName
		}
		if in.AvatarURL != nil {
			p.AvatarURL = in.AvatarURL
		}
		p.UpdatedAt = r.now()
		return database.SetJSON(txn, profileKey(id), &p)
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.Update: %w", err)
	}
	return &p, nil
}

func (r *BadgerRepository) Search(_ context.Context, query, excludeID string, limit int) ([]*models.Profile, error) {
	q := strings.ToLower(query)
	out := []*models.Profile{}
	err := r.db.View(func(txn *badger.Txn) error {
		return database.ScanJSON(txn, []byte(profilePrefix), func(p *models.Profile) error {
			if p.ID == excludeID {
				return nil
			}
			if strings.Contains(strings.ToLower(p.Username), q) || strings.Contains(strings.ToLower(p.FullName), q) {
				out = append(out, p)
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badgerRepository.Search: %w", err)
	}
	slices.SortFunc(out, func(a, b *models.Profile) int {
		return strings.Compare(a.Username, b.Username)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BadgerRepository) CreditTrust(_ context.Context, requestID, principalID string) (bool, error) {
	credited := false
	err := database.UpdateWithRetry(r.db, func(txn *badger.Txn) error {
		credited = false
		seen, err := database.Exists(txn, creditKey(requestID, principalID))
		if err != nil {
			return err
		}
		if seen {
			return nil
		}
		var p models.Profile
		if err := database.GetJSON(txn, profileKey(principalID), &p); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return models.ErrNotFound
			}
			return err
		}
		p.TrustScore++
		p.UpdatedAt = r.now()
		if err := database.SetJSON(txn, profileKey(principalID), &p); err != nil {
			return err
		}
		if err := txn.Set(creditKey(requestID, principalID), []byte(p.UpdatedAt.Format(time.RFC3339Nano))); err != nil {
			return err
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badgerRepository.CreditTrust: %w", err)
	}
	return credited, nil
}
