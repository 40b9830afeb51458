package account

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/platform/auth"
)

// Directory answers routing questions about caregivers.
type Directory struct {
	repo   Repository
	logger zerolog.Logger
}

func NewDirectory(repo Repository, logger zerolog.Logger) *Directory {
	return &Directory{repo: repo, logger: logger.With().Str("component", "directory").Logger()}
}

// FindAvailableNurse returns the active, online nurse with the fewest active
// cases among those below their limit. Ties go to the oldest account. It
// returns nil when nobody qualifies. The result is a hint: use ReserveNurse
// to claim capacity.
func (d *Directory) FindAvailableNurse(ctx context.Context) (*Account, error) {
	a, err := d.repo.FirstAvailableNurse(ctx)
	if err != nil {
		return nil, fmt.Errorf("find available nurse: %w", err)
	}
	return a, nil
}

// FindAvailableProfessionals lists active, online accounts of role. Capacity
// is not considered.
func (d *Directory) FindAvailableProfessionals(ctx context.Context, role auth.Role) ([]*Account, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", role)
	}
	items, err := d.repo.ListAvailableByRole(ctx, role)
	if err != nil {
		return nil, fmt.Errorf("list available %s: %w", role, err)
	}
	return items, nil
}

// ReserveNurse selects the least-loaded eligible nurse and increments its
// counter atomically. It returns nil when every nurse is at capacity.
func (d *Directory) ReserveNurse(ctx context.Context) (*Account, error) {
	a, err := d.repo.ReserveNurse(ctx)
	if err != nil {
		return nil, fmt.Errorf("reserve nurse: %w", err)
	}
	if a != nil {
		d.logger.Debug().
			Str("nurse_id", a.ID.String()).
			Int("active_cases", a.CurrentActiveCases).
			Int("max_capacity", a.MaxCapacity).
			Msg("nurse reserved")
	}
	return a, nil
}

// AddCase increments a caregiver's counter without a capacity check.
func (d *Directory) AddCase(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := d.repo.IncrementActiveCases(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("add case to %s: %w", id, err)
	}
	if a.CurrentActiveCases > a.MaxCapacity {
		d.logger.Warn().
			Str("account_id", id.String()).
			Int("active_cases", a.CurrentActiveCases).
			Int("max_capacity", a.MaxCapacity).
			Msg("caregiver above case limit")
	}
	return a, nil
}

// ReleaseCase decrements a caregiver's counter with a floor of zero.
func (d *Directory) ReleaseCase(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := d.repo.ReleaseCase(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("release case of %s: %w", id, err)
	}
	return a, nil
}

// Get returns the account with id.
func (d *Directory) Get(ctx context.Context, id uuid.UUID) (*Account, error) {
	a, err := d.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}
