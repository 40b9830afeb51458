package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestAllowed(t *testing.T) {
	tests := []struct {
		role Role
		cap  Capability
		want bool
	}{
		{RolePatient, CapCreateConsultation, true},
		{RoleNurse, CapCreateConsultation, false},
		{RoleNurse, CapViewQueue, true},
		{RoleSupervisor, CapViewQueue, true},
		{RoleDoctor, CapViewQueue, false},
		{RoleNurse, CapTriage, true},
		{RoleDoctor, CapTriage, false},
		{RoleDoctor, CapAttend, true},
		{RoleNurse, CapAttend, false},
		{RolePatient, CapAttend, false},
		{RoleReceptionist, CapAttend, true},
		{RoleSupervisor, CapAttend, true},
		{RoleDoctor, CapReceiveTransfer, true},
		{RoleHairdresser, CapReceiveTransfer, true},
		{RolePatient, CapReceiveTransfer, false},
		{RoleNurse, CapReceiveTransfer, false},
		{Role("janitor"), CapReceiveTransfer, false},
		{RolePsychologist, CapUpdateStatus, true},
		{RoleAdmin, CapUpdateStatus, true},
		{RolePatient, CapUpdateStatus, false},
		{RoleReceptionist, CapUpdateStatus, false},
		{RoleAdmin, CapManageAccounts, true},
		{RoleNurse, CapManageAccounts, false},
		{RoleNurse, CapSetAvailability, true},
		{RolePatient, CapSetAvailability, false},
		{RoleAdmin, Capability("unknown"), false},
	}

	for _, tt := range tests {
		if got := Allowed(tt.role, tt.cap); got != tt.want {
			t.Errorf("Allowed(%s, %s) = %v, want %v", tt.role, tt.cap, got, tt.want)
		}
	}
}

func TestParseRole(t *testing.T) {
	for r := range AllRoles {
		got, err := ParseRole(string(r))
		if err != nil || got != r {
			t.Errorf("ParseRole(%q) = %q, %v", r, got, err)
		}
	}
	if _, err := ParseRole("physician"); err == nil {
		t.Error("expected error for unknown role")
	}
	if len(AllRoles) != 14 {
		t.Errorf("expected 14 roles, got %d", len(AllRoles))
	}
}

func TestRequireCapability_Allowed(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, []Role{RoleNurse})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := RequireCapability(CapTriage)(okHandler)
	if err := h(c); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestRequireCapability_Denied(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	ctx := context.WithValue(req.Context(), UserRolesKey, []Role{RolePatient})
	req = req.WithContext(ctx)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireCapability(CapTriage)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}

func TestRequireCapability_NoRoles(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := RequireCapability(CapViewQueue)(okHandler)(c)
	expectStatus(t, err, http.StatusForbidden)
}
