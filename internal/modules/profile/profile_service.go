package profile

import (
	"context"
	"fmt"
	"strings"

	"trusted-delivery/internal/models"

	"github.com/go-playground/validator/v10"
)

const (
	minSearchLen = 2
	searchLimit  = 20
)

// ServiceInterface defines the contract for profile operations.
type ServiceInterface interface {
	Ensure(ctx context.Context, id, displayName string) (*models.Profile, error)
	Get(ctx context.Context, id string) (*models.Profile, error)
	GetMany(ctx context.Context, ids []string) (map[string]*models.Profile, error)
	UpdateMe(ctx context.Context, viewer models.Principal, in models.UpdateProfileInput) (*models.Profile, error)
	Search(ctx context.Context, viewer models.Principal, query string) ([]*models.Profile, error)
}

// Service implements ServiceInterface.
type Service struct {
	repo     RepositoryInterface
	validate *validator.Validate
}

// NewService creates a new profile service.
func NewService(repo RepositoryInterface) *Service {
	return &Service{repo: repo, validate: validator.New()}
}

func (s *Service) Ensure(ctx context.Context, id, displayName string) (*models.Profile, error) {
	if strings.TrimSpace(id) == "" {
		return nil, models.ErrUnauthenticated
	}
	p, err := s.repo.Ensure(ctx, id, strings.TrimSpace(displayName))
	if err != nil {
		return nil, fmt.Errorf("service.Ensure: %w", err)
	}
	return p, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Profile, error) {
	p, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("service.Get: %w", err)
	}
	return p, nil
}

func (s *Service) GetMany(ctx context.Context, ids []string) (map[string]*models.Profile, error) {
	ps, err := s.repo.FindByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("service.GetMany: %w", err)
	}
	return ps, nil
}

func (s *Service) UpdateMe(ctx context.Context, viewer models.Principal, in models.UpdateProfileInput) (*models.Profile, error) {
	if viewer.ID == "" {
		return nil, models.ErrUnauthenticated
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrValidation, err.Error())
	}
	p, err := s.repo.Update(ctx, viewer.ID, in)
	if err != nil {
		return nil, fmt.Errorf("service.UpdateMe: %w", err)
	}
	return p, nil
}

// Search matches username or full name, case-insensitively. Queries shorter
// than two characters return nothing.
func (s *Service) Search(ctx context.Context, viewer models.Principal, query string) ([]*models.Profile, error) {
	q := strings.ToLower(strings.TrimSpace(query))
	if len([]rune(q)) < minSearchLen {
		return []*models.Profile{}, nil
	}
	ps, err := s.repo.Search(ctx, q, viewer.ID, searchLimit)
	if err != nil {
		return nil, fmt.Errorf("service.Search: %w", err)
	}
	return ps, nil
}

// defaultUsername derives a handle for a profile created from token claims.
func defaultUsername(id, displayName string) string {
	name := strings.ToLower(strings.Join(strings.Fields(displayName), "."))
	if name == "" {
		return id
	}
	return name
}
