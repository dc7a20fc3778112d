package pricing

import (
	"context"
	"fmt"

	"github.com/pactform/pactform/internal/platform/httpx"
)

// RepositoryPort defines data access methods for pricing configs.
type RepositoryPort interface {
	// Active returns the active config, or nil when none exists.
	Active(ctx context.Context) (*Config, error)
	// Create deactivates every active config and inserts the new active one
	// in a single transaction.
	Create(ctx context.Context, dailyRate float64, createdBy string) (*Config, error)
	// UpdateActive mutates the active config's rate.
	UpdateActive(ctx context.Context, dailyRate float64, updatedBy string) (*Config, error)
}

// Service handles pricing business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// ActiveRate returns the daily rate agreements snapshot at creation time.
func (s *Service) ActiveRate(ctx context.Context) (float64, error) {
	cfg, err := s.repo.Active(ctx)
	if err != nil {
		return 0, err
	}
	if cfg == nil {
		return DefaultDailyRate, nil
	}
	return cfg.DailyRate, nil
}

// Active returns the active config, substituting the default when none is
// stored.
func (s *Service) Active(ctx context.Context) (*Config, error) {
	cfg, err := s.repo.Active(ctx)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return &Config{DailyRate: DefaultDailyRate, IsActive: true}, nil
	}
	return cfg, nil
}

// Create installs a new pricing version.
func (s *Service) Create(ctx context.Context, dailyRate float64, actor string) (*Config, error) {
	if dailyRate <= 0 {
		return nil, fmt.Errorf("%w: daily rate must be positive", httpx.ErrValidation)
	}
	return s.repo.Create(ctx, dailyRate, actor)
}

// Update changes the active version's rate.
func (s *Service) Update(ctx context.Context, dailyRate float64, actor string) (*Config, error) {
	if dailyRate <= 0 {
		return nil, fmt.Errorf("%w: daily rate must be positive", httpx.ErrValidation)
	}
	cfg, err := s.repo.UpdateActive(ctx, dailyRate, actor)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("%w: no active pricing configuration", httpx.ErrNotFound)
	}
	return cfg, nil
}
