package delivery

import (
	"context"
	"errors"
	"fmt"

	"trusted-delivery/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RepositoryInterface is the Request Store. CompareAndSetStatus is the only
// operation that needs atomicity; every status change goes through it.
type RepositoryInterface interface {
	Insert(ctx context.Context, req *models.DeliveryRequest) error
	FindByID(ctx context.Context, id string) (*models.DeliveryRequest, error)
	CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, fields models.StatusFields) (*models.DeliveryRequest, error)
	QueryPending(ctx context.Context, filter PendingFilter) ([]*models.DeliveryRequest, error)
	ListBySender(ctx context.Context, senderID string) ([]*models.DeliveryRequest, error)
	ListByPartner(ctx context.Context, partnerID string) ([]*models.DeliveryRequest, error)
	CountDelivered(ctx context.Context, a, b string) (int, error)
}

// PendingFilter selects PENDING requests for a carrier feed.
type PendingFilter struct {
	SenderIDs       []string
	ExcludeSenderID string
}

// Match applies the filter to a single request.
func (f PendingFilter) Match(r *models.DeliveryRequest) bool {
	if r.Status != models.StatusPending || r.SenderID == f.ExcludeSenderID {
		return false
	}
	for _, id := range f.SenderIDs {
		if id == r.SenderID {
			return true
		}
	}
	return false
}

// Repository implements RepositoryInterface on PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new request repository.
func NewRepository(db *pgxpool.Pool) RepositoryInterface {
	return &Repository{db: db}
}

const requestColumns = `id, user_id, item, courier_name, external_tracking_id, weight_kg, is_fragile,
	package_photo_url, pickup, drop_location, pickup_coords, drop_coords, delivery_type, fare, otp,
	broadcast_scope, status, partner_id, partner_name, created_at, updated_at`

// Insert stores a new request. A duplicate id yields models.ErrConflict.
func (r *Repository) Insert(ctx context.Context, req *models.DeliveryRequest) error {
	query := `
		INSERT INTO requests (id, user_id, item, courier_name, external_tracking_id, weight_kg, is_fragile,
			package_photo_url, pickup, drop_location, pickup_coords, drop_coords, delivery_type, fare, otp,
			broadcast_scope, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(ctx, query,
		req.ID, req.SenderID, req.Item, req.CourierName, req.ExternalTrackingID, req.WeightKg, req.IsFragile,
		req.PackagePhotoURL, req.Pickup, req.DropLocation, req.PickupCoords, req.DropCoords, req.DeliveryType,
		req.Fare, req.OTP, req.BroadcastScope, req.Status,
	).Scan(&req.CreatedAt, &req.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return fmt.Errorf("repository.Insert: %w", models.ErrConflict)
			case "23503":
				return fmt.Errorf("repository.Insert: unknown sender: %w", models.ErrNotFound)
			}
		}
		return fmt.Errorf("repository.Insert: %w", err)
	}
	return nil
}

// scanRequest is a helper function to scan a row into a DeliveryRequest.
func scanRequest(row pgx.Row) (*models.DeliveryRequest, error) {
	var req models.DeliveryRequest
	err := row.Scan(
		&req.ID,
		&req.SenderID,
		&req.Item,
		&req.CourierName,
		&req.ExternalTrackingID,
		&req.WeightKg,
		&req.IsFragile,
		&req.PackagePhotoURL,
		&req.Pickup,
		&req.DropLocation,
		&req.PickupCoords,
		&req.DropCoords,
		&req.DeliveryType,
		&req.Fare,
		&req.OTP,
		&req.BroadcastScope,
		&req.Status,
		&req.PartnerID,
		&req.PartnerName,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan request: %w", err)
	}
	return &req, nil
}

// FindByID retrieves a single request by its ID.
func (r *Repository) FindByID(ctx context.Context, id string) (*models.DeliveryRequest, error) {
	row := r.db.QueryRow(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = $1`, id)
	req, err := scanRequest(row)
	if err != nil {
		return nil, fmt.Errorf("repository.FindByID: %w", err)
	}
	return req, nil
}

// CompareAndSetStatus moves the request from expected to next in one conditional
// UPDATE. partner_id is only ever written while still NULL.
func (r *Repository) CompareAndSetStatus(ctx context.Context, id string, expected, next models.Status, fields models.StatusFields) (*models.DeliveryRequest, error) {
	query := `
		UPDATE requests
		SET status = $3,
			partner_id = COALESCE(partner_id, $4),
			partner_name = COALESCE(partner_name, $5),
			updated_at = NOW()
		WHERE id = $1 AND status = $2
		RETURNING ` + requestColumns

	row := r.db.QueryRow(ctx, query, id, expected, next, fields.PartnerID, fields.PartnerName)
	req, err := scanRequest(row)
	if err == nil {
		return req, nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("repository.CompareAndSetStatus: %w", err)
	}

	// Zero rows: either the id is unknown or the status moved on.
	var exists bool
	if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("repository.CompareAndSetStatus.Exists: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("repository.CompareAndSetStatus: %w", models.ErrNotFound)
	}
	return nil, fmt.Errorf("repository.CompareAndSetStatus: %w", models.ErrPreconditionFailed)
}

// QueryPending lists PENDING requests from the given senders, newest first.
func (r *Repository) QueryPending(ctx context.Context, filter PendingFilter) ([]*models.DeliveryRequest, error) {
	if len(filter.SenderIDs) == 0 {
		return []*models.DeliveryRequest{}, nil
	}
	query := `SELECT ` + requestColumns + `
		FROM requests
		WHERE status = 'PENDING' AND user_id = ANY($1) AND user_id <> $2
		ORDER BY created_at DESC`
	return r.list(ctx, "QueryPending", query, filter.SenderIDs, filter.ExcludeSenderID)
}

// ListBySender retrieves every request a principal has sent, newest first.
func (r *Repository) ListBySender(ctx context.Context, senderID string) ([]*models.DeliveryRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE user_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "ListBySender", query, senderID)
}

// ListByPartner retrieves every request a principal has carried, newest first.
func (r *Repository) ListByPartner(ctx context.Context, partnerID string) ([]*models.DeliveryRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE partner_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, "ListByPartner", query, partnerID)
}

// CountDelivered counts completed deliveries between a and b in either role.
func (r *Repository) CountDelivered(ctx context.Context, a, b string) (int, error) {
	query := `
		SELECT COUNT(*) FROM requests
		WHERE status = 'DELIVERED'
			AND ((user_id = $1 AND partner_id = $2) OR (user_id = $2 AND partner_id = $1))`
	var n int
	if err := r.db.QueryRow(ctx, query, a, b).Scan(&n); err != nil {
		return 0, fmt.Errorf("repository.CountDelivered: %w", err)
	}
	return n, nil
}

func (r *Repository) list(ctx context.Context, op, query string, args ...interface{}) ([]*models.DeliveryRequest, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository.%s.Query: %w", op, err)
	}
	defer rows.Close()

	out := []*models.DeliveryRequest{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("repository.%s.scanRequest: %w", op, err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository.%s.Rows: %w", op, err)
	}
	return out, nil
}
