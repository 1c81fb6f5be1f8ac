package social

import (
	"context"
	"errors"
	"fmt"

	"trusted-delivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface defines the contract for friendship storage. At most one
// friendship exists per unordered pair of principals.
type RepositoryInterface interface {
	Insert(ctx context.Context, f *models.Friendship) error
	FindByID(ctx context.Context, id string) (*models.Friendship, error)
	SetStatus(ctx context.Context, id string, expected, next models.FriendshipStatus) (*models.Friendship, error)
	Delete(ctx context.Context, id string) error
	ListFor(ctx context.Context, principalID string) ([]*models.Friendship, error)
	AcceptedPeers(ctx context.Context, principalID string) ([]string, error)
	AreFriends(ctx context.Context, a, b string) (bool, error)
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new friendship repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const friendshipColumns = `id, requester_id, receiver_id, status, created_at`

func scanFriendship(row pgx.Row) (*models.Friendship, error) {
	var f models.Friendship
	if err := row.Scan(&f.ID, &f.RequesterID, &f.ReceiverID, &f.Status, &f.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

// Insert stores a new friendship. The pair index turns a second request between
// the same two principals, in either direction, into models.ErrConflict.
func (r *Repository) Insert(ctx context.Context, f *models.Friendship) error {
	query := `
		INSERT INTO friendships (id, requester_id, receiver_id, status)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`

	err := r.db.QueryRow(ctx, query, f.ID, f.RequesterID, f.ReceiverID, f.Status).Scan(&f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("repository.Insert: %w", models.ErrConflict)
			case "23503":
				return fmt.Errorf("repository.Insert: unknown principal: %w", models.ErrNotFound)
			}
		}
		return fmt.Errorf("repository.Insert: %w", err)
	}
	return nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (*models.Friendship, error) {
	query := `SELECT ` + friendshipColumns + ` FROM friendships WHERE id = $1`
	f, err := scanFriendship(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return f, nil
}

func (r *Repository) SetStatus(ctx context.Context, id string, expected, next models.FriendshipStatus) (*models.Friendship, error) {
	query := `
		UPDATE friendships SET status = $3
		WHERE id = $1 AND status = $2
		RETURNING ` + friendshipColumns

	f, err := scanFriendship(r.db.QueryRow(ctx, query, id, expected, next))
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("repository.SetStatus: %w", err)
	}
	if _, ferr := r.FindByID(ctx, id); ferr != nil {
		return nil, fmt.Errorf("repository.SetStatus: %w", ferr)
	}
	return nil, fmt.Errorf("repository.SetStatus: %w", models.ErrPreconditionFailed)
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM friendships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("repository.Delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("repository.Delete: %w", models.ErrNotFound)
	}
	return nil
}

func (r *Repository) ListFor(ctx context.Context, principalID string) ([]*models.Friendship, error) {
	query := `
		SELECT ` + friendshipColumns + `
		FROM friendships
		WHERE requester_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("repository.ListFor: %w", err)
	}
	defer rows.Close()

	out := []*models.Friendship{}
	for rows.Next() {
		f, err := scanFriendship(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.ListFor: %w", err)
		}
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.ListFor: %w", err)
	}
	return out, nil
}

func (r *Repository) AcceptedPeers(ctx context.Context, principalID string) ([]string, error) {
	query := `
		SELECT CASE WHEN requester_id = $1 THEN receiver_id ELSE requester_id END
		FROM friendships
		WHERE (requester_id = $1 OR receiver_id = $1) AND status = 'ACCEPTED'`

	rows, err := r.db.Query(ctx, query, principalID)
	if err != nil {
		return nil, fmt.Errorf("repository.AcceptedPeers: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("repository.AcceptedPeers: %w", err)
	}
	return ids, nil
}

func (r *Repository) AreFriends(ctx context.Context, a, b string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM friendships
			WHERE LEAST(requester_id, receiver_id) = LEAST($1::text, $2::text)
			  AND GREATEST(requester_id, receiver_id) = GREATEST($1::text, $2::text)
			  AND status = 'ACCEPTED'
		)`

	var ok bool
	if err := r.db.QueryRow(ctx, query, a, b).Scan(&ok); err != nil {
		return false, fmt.Errorf("repository.AreFriends: %w", err)
	}
	return ok, nil
}
