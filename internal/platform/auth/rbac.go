package auth

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin                 Role = "admin"
	RoleSupervisor            Role = "supervisor"
	RoleReceptionist          Role = "receptionist"
	RolePatient               Role = "patient"
	RoleNurse                 Role = "nurse"
	RoleDoctor                Role = "doctor"
	RolePhysiotherapist       Role = "physiotherapist"
	RoleNutritionist          Role = "nutritionist"
	RolePsychologist          Role = "psychologist"
	RoleSpeechTherapist       Role = "speech_therapist"
	RoleAcupuncturist         Role = "acupuncturist"
	RoleClinicalPsypedagogist Role = "clinical_psypedagogist"
	RoleCaregiver             Role = "caregiver"
	RoleHairdresser           Role = "hairdresser"
)

// RoleSet is a named group of roles.
type RoleSet map[Role]struct{}

func newRoleSet(roles ...Role) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		s[r] = struct{}{}
	}
	return s
}

func (s RoleSet) Has(r Role) bool {
	_, ok := s[r]
	return ok
}

var (
	AllRoles = newRoleSet(
		RoleAdmin, RoleSupervisor, RoleReceptionist, RolePatient,
		RoleNurse, RoleDoctor, RolePhysiotherapist, RoleNutritionist,
		RolePsychologist, RoleSpeechTherapist, RoleAcupuncturist,
		RoleClinicalPsypedagogist, RoleCaregiver, RoleHairdresser,
	)

	// AdminRoles manage accounts and see every consultation.
	AdminRoles = newRoleSet(RoleAdmin, RoleSupervisor)

	// ClinicalRoles are the caregivers that take part in routing.
	ClinicalRoles = newRoleSet(
		RoleNurse, RoleDoctor, RolePhysiotherapist, RoleNutritionist,
		RolePsychologist, RoleSpeechTherapist, RoleAcupuncturist,
		RoleClinicalPsypedagogist, RoleCaregiver, RoleHairdresser,
	)

	// notAttending may never be the professional on a consultation.
	notAttending = newRoleSet(RolePatient, RoleNurse)
)

func (r Role) Valid() bool {
	return AllRoles.Has(r)
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Capability names an action gated by role.
type Capability string

const (
	CapCreateConsultation Capability = "consultation.create"
	CapViewQueue          Capability = "consultation.queue"
	CapTriage             Capability = "consultation.triage"
	CapAttend             Capability = "consultation.attend"
	CapReceiveTransfer    Capability = "consultation.receive_transfer"
	CapUpdateStatus       Capability = "consultation.status_update"
	CapViewAll            Capability = "consultation.view_all"
	CapSetAvailability    Capability = "account.availability"
	CapManageAccounts     Capability = "account.manage"
)

// Allowed is the single authorization check for role-gated actions.
func Allowed(r Role, c Capability) bool {
	switch c {
	case CapCreateConsultation:
		return r == RolePatient
	case CapViewQueue:
		return r == RoleNurse || AdminRoles.Has(r)
	case CapTriage:
		return r == RoleNurse
	case CapAttend, CapReceiveTransfer:
		return r.Valid() && !notAttending.Has(r)
	case CapUpdateStatus:
		return ClinicalRoles.Has(r) || AdminRoles.Has(r)
	case CapViewAll, CapManageAccounts:
		return AdminRoles.Has(r)
	case CapSetAvailability:
		return ClinicalRoles.Has(r)
	}
	return false
}

// AllowedAny reports whether any of roles grants c.
func AllowedAny(roles []Role, c Capability) bool {
	for _, r := range roles {
		if Allowed(r, c) {
			return true
		}
	}
	return false
}

// RequireCapability returns middleware that rejects callers none of whose
// roles grant c.
func RequireCapability(c Capability) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !AllowedAny(RolesFromContext(ctx.Request().Context()), c) {
				return echo.NewHTTPError(http.StatusForbidden,
					fmt.Sprintf("missing capability: %s", c))
			}
			return next(ctx)
		}
	}
}
