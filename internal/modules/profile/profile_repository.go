package profile

import (
	"context"
	"errors"
	"fmt"

	"trusted-delivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for profile storage.
type RepositoryInterface interface {
	// Ensure returns the profile of id, creating it on first sight.
	Ensure(ctx context.Context, id, displayName string) (*models.Profile, error)
	FindByID(ctx context.Context, id string) (*models.Profile, error)
	FindByIDs(ctx context.Context, ids []string) (map[string]*models.Profile, error)
	Update(ctx context.Context, id string, in models.UpdateProfileInput) (*models.Profile, error)
	Search(ctx context.Context, query, excludeID string, limit int) ([]*models.Profile, error)
	// CreditTrust adds one to the trust score of principalID for requestID. It
	// reports false when that credit was already applied.
	CreditTrust(ctx context.Context, requestID, principalID string) (bool, error)
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new profile repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const profileColumns = `id, username, full_name, avatar_url, trust_score, created_at, updated_at`

func scanProfile(row pgx.Row) (*models.Profile, error) {
	var p models.Profile
	err := row.Scan(&p.ID, &p.Username, &p.FullName, &p.AvatarURL, &p.TrustScore, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *Repository) Ensure(ctx context.Context, id, displayName string) (*models.Profile, error) {
	username := defaultUsername(id, displayName)
	query := `
		INSERT INTO profiles (id, username, full_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET id = EXCLUDED.id
		RETURNING ` + profileColumns

	p, err := scanProfile(r.db.QueryRow(ctx, query, id, username, displayName))
	if err != nil {
		return nil, fmt.Errorf("repository.Ensure: %w", err)
	}
	return p, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = $1`
	p, err := scanProfile(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return p, nil
}

func (r *Repository) FindByIDs(ctx context.Context, ids []string) (map[string]*models.Profile, error) {
	out := make(map[string]*models.Profile, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ANY($1)`
	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, fmt.Errorf("repository.FindByIDs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.FindByIDs: %w", err)
		}
		out[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.FindByIDs: %w", err)
	}
	return out, nil
}

func (r *Repository) Update(ctx context.Context, id string, in models.UpdateProfileInput) (*models.Profile, error) {
	query := `
		UPDATE profiles SET
			username = COALESCE($2, username),
			full_name = COALESCE($3, full_name),
			avatar_url = COALESCE($4, avatar_url),
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + profileColumns

	p, err := scanProfile(r.db.QueryRow(ctx, query, id, in.Username, in.FullName, in.AvatarURL))
	if err != nil {
		return nil, fmt.Errorf("repository.Update: %w", err)
	}
	return p, nil
}

func (r *Repository) Search(ctx context.Context, query, excludeID string, limit int) ([]*models.Profile, error) {
	sql := `
		SELECT ` + profileColumns + `
		FROM profiles
		WHERE (username ILIKE '%' || $1 || '%' OR full_name ILIKE '%' || $1 || '%') AND id <> $2
		ORDER BY username
		LIMIT $3`

	rows, err := r.db.Query(ctx, sql, query, excludeID, limit)
	if err != nil {
		return nil, fmt.Errorf("repository.Search: %w", err)
	}
	defer rows.Close()

	out := []*models.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.Search: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.Search: %w", err)
	}
	return out, nil
}

// CreditTrust writes the (request, principal) marker and the increment in one
// transaction, so a retried or duplicated credit is a no-op.
func (r *Repository) CreditTrust(ctx context.Context, requestID, principalID string) (bool, error) {
	credited := false
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO trust_credits (request_id, principal_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			requestID, principalID)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23503" {
				return models.ErrNotFound
			}
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}

		tag, err = tx.Exec(ctx,
			`UPDATE profiles SET trust_score = trust_score + 1, updated_at = NOW() WHERE id = $1`,
			principalID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		credited = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("repository.CreditTrust: %w", err)
	}
	return credited, nil
}
