package account

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/consult/internal/platform/auth"
)

func TestService_CreateAccount_Defaults(t *testing.T) {
	svc := NewService(NewRepoMemory())
	a := &Account{Name: " Carla ", Email: "carla@example.com", Role: auth.RoleNurse, CurrentActiveCases: 7}

	require.NoError(t, svc.CreateAccount(context.Background(), a))
	assert.Equal(t, "Carla", a.Name)
	assert.Equal(t, DefaultMaxCapacity, a.MaxCapacity)
	assert.Equal(t, AvailabilityOffline, a.Availability)
	assert.Equal(t, 0, a.CurrentActiveCases)
	assert.True(t, a.Active)
}

func TestService_CreateAccount_Validation(t *testing.T) {
	svc := NewService(NewRepoMemory())
	tests := []struct {
		name string
		acct Account
	}{
		{"missing name", Account{Email: "x@example.com", Role: auth.RoleNurse}},
		{"bad email", Account{Name: "x", Email: "nope", Role: auth.RoleNurse}},
		{"unknown role", Account{Name: "x", Email: "x@example.com", Role: "physician"}},
		{"negative capacity", Account{Name: "x", Email: "x@example.com", Role: auth.RoleNurse, MaxCapacity: -1}},
		{"bad availability", Account{Name: "x", Email: "x@example.com", Role: auth.RoleNurse, Availability: "away"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := tt.acct
			var ve *ValidationError
			assert.ErrorAs(t, svc.CreateAccount(context.Background(), &a), &ve)
		})
	}
}

func TestService_SetAvailability(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	svc := NewService(repo)
	nurse := seed(t, repo, "n", auth.RoleNurse, AvailabilityOffline, 0, 3)
	patient := seed(t, repo, "p", auth.RolePatient, AvailabilityOffline, 0, 3)

	got, err := svc.SetAvailability(ctx, nurse.ID, AvailabilityOnline)
	require.NoError(t, err)
	assert.Equal(t, AvailabilityOnline, got.Availability)

	_, err = svc.SetAvailability(ctx, patient.ID, AvailabilityOnline)
	assert.Error(t, err)
}

func TestService_SetCapacity(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	svc := NewService(repo)
	nurse := seed(t, repo, "n", auth.RoleNurse, AvailabilityOnline, 0, 3)

	got, err := svc.SetCapacity(ctx, nurse.ID, 5, false)
	require.NoError(t, err)
	assert.Equal(t, 5, got.MaxCapacity)
	assert.False(t, got.Active)

	_, err = svc.SetCapacity(ctx, nurse.ID, -2, true)
	assert.Error(t, err)
}

func TestParseAvailability(t *testing.T) {
	for _, s := range []string{"online", "busy", "offline"} {
		got, err := ParseAvailability(s)
		require.NoError(t, err)
		assert.Equal(t, Availability(s), got)
	}
	_, err := ParseAvailability("ONLINE")
	assert.Error(t, err)
}
