package account

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/platform/auth"
)

var (
	// ErrNotFound is returned when a referenced account does not exist.
	ErrNotFound = errors.New("account not found")
	// ErrEmailTaken is returned when another account already uses the email.
	ErrEmailTaken = errors.New("email is already registered")
)

// ValidationError reports account input the service refuses to store.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func invalid(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// DefaultMaxCapacity is the case limit given to new caregivers.
const DefaultMaxCapacity = 3

// Availability is the self-reported routing state of a caregiver.
type Availability string

const (
	AvailabilityOnline  Availability = "online"
	AvailabilityBusy    Availability = "busy"
	AvailabilityOffline Availability = "offline"
)

func ParseAvailability(s string) (Availability, error) {
	switch a := Availability(s); a {
	case AvailabilityOnline, AvailabilityBusy, AvailabilityOffline:
		return a, nil
	}
	return "", invalid("availability must be online, busy or offline, got %q", s)
}

// Account maps to the account table. Patients, caregivers and staff share it;
// only clinical roles take part in routing.
type Account struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	Name               string       `db:"name" json:"name"`
	Email              string       `db:"email" json:"email"`
	Role               auth.Role    `db:"role" json:"role"`
	Active             bool         `db:"active" json:"active"`
	Availability       Availability `db:"availability" json:"availability"`
	CurrentActiveCases int          `db:"current_active_cases" json:"current_active_cases"`
	MaxCapacity        int          `db:"max_capacity" json:"max_capacity"`
	Specialty          *string      `db:"specialty" json:"specialty,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// HasHeadroom reports whether the account is below its case limit.
func (a *Account) HasHeadroom() bool {
	return a.CurrentActiveCases < a.MaxCapacity
}

// EligibleNurse is the gate for automatic nurse assignment.
func (a *Account) EligibleNurse() bool {
	return a.Role == auth.RoleNurse && a.Active && a.Availability == AvailabilityOnline && a.HasHeadroom()
}

// Summary is the lightweight view embedded in other payloads.
type Summary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Role auth.Role `json:"role"`
}

func (a *Account) Summary() Summary {
	return Summary{ID: a.ID, Name: a.Name, Role: a.Role}
}
