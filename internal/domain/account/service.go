package account

import (
	"context"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/platform/auth"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// CreateAccount validates and stores a new account. Caregivers start offline
// with the default case limit unless one is given.
func (s *Service) CreateAccount(ctx context.Context, a *Account) error {
	a.Name = strings.TrimSpace(a.Name)
	if a.Name == "" {
		return invalid("name is required")
	}
	if _, err := mail.ParseAddress(a.Email); err != nil {
		return invalid("email is invalid")
	}
	if !a.Role.Valid() {
		return invalid("role %q is not valid", a.Role)
	}
	if a.MaxCapacity < 0 {
		return invalid("max_capacity must not be negative")
	}
	if a.MaxCapacity == 0 {
		a.MaxCapacity = DefaultMaxCapacity
	}
	if a.Availability == "" {
		a.Availability = AvailabilityOffline
	}
	if _, err := ParseAvailability(string(a.Availability)); err != nil {
		return err
	}
	a.CurrentActiveCases = 0
	a.Active = true
	return s.repo.Create(ctx, a)
}

func (s *Service) GetAccount(ctx context.Context, id uuid.UUID) (*Account, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) ListAccounts(ctx context.Context, role *auth.Role, limit, offset int) ([]*Account, int, error) {
	return s.repo.List(ctx, role, limit, offset)
}

// SetAvailability changes the routing state of a caregiver.
func (s *Service) SetAvailability(ctx context.Context, id uuid.UUID, availability Availability) (*Account, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !auth.Allowed(a.Role, auth.CapSetAvailability) {
		return nil, invalid("role %s has no availability", a.Role)
	}
	if err := s.repo.SetAvailability(ctx, id, availability); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// SetCapacity changes the case limit and active flag of an account.
func (s *Service) SetCapacity(ctx context.Context, id uuid.UUID, maxCapacity int, active bool) (*Account, error) {
	if maxCapacity < 0 {
		return nil, invalid("max_capacity must not be negative")
	}
	if err := s.repo.SetCapacity(ctx, id, maxCapacity, active); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}
