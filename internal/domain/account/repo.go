package account

import (
	"context"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/platform/auth"
)

// Repository is the account store. The counter methods are atomic per row:
// implementations must not let two callers both pass the capacity gate on
// the last free slot.
type Repository interface {
	Create(ctx context.Context, a *Account) error
	GetByID(ctx context.Context, id uuid.UUID) (*Account, error)
	List(ctx context.Context, role *auth.Role, limit, offset int) ([]*Account, int, error)
	SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) error
	SetCapacity(ctx context.Context, id uuid.UUID, maxCapacity int, active bool) error

	// FirstAvailableNurse returns the least-loaded eligible nurse, or nil.
	FirstAvailableNurse(ctx context.Context) (*Account, error)
	// ListAvailableByRole returns active, online accounts of role ordered by name.
	ListAvailableByRole(ctx context.Context, role auth.Role) ([]*Account, error)

	// ReserveNurse picks the nurse FirstAvailableNurse would and increments
	// its counter in one step. It returns nil when no nurse has headroom.
	ReserveNurse(ctx context.Context) (*Account, error)
	// IncrementActiveCases adds one case without a capacity check.
	IncrementActiveCases(ctx context.Context, id uuid.UUID) (*Account, error)
	// ReleaseCase removes one case, never going below zero.
	ReleaseCase(ctx context.Context, id uuid.UUID) (*Account, error)
}
