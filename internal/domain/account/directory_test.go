package account

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carelink/consult/internal/platform/auth"
)

func TestDirectory_FindAvailableNurse(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	dir := NewDirectory(repo, zerolog.Nop())

	got, err := dir.FindAvailableNurse(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	n := seed(t, repo, "n", auth.RoleNurse, AvailabilityOnline, 0, 1)
	got, err = dir.FindAvailableNurse(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, n.ID, got.ID)

	// Finding does not reserve.
	again, err := dir.FindAvailableNurse(ctx)
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, 0, again.CurrentActiveCases)
}

func TestDirectory_ReserveThenRelease(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	dir := NewDirectory(repo, zerolog.Nop())
	n := seed(t, repo, "n", auth.RoleNurse, AvailabilityOnline, 0, 1)

	got, err := dir.ReserveNurse(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 1, got.CurrentActiveCases)

	none, err := dir.ReserveNurse(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	released, err := dir.ReleaseCase(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, released.CurrentActiveCases)
}

func TestDirectory_FindAvailableProfessionals(t *testing.T) {
	ctx := context.Background()
	repo := NewRepoMemory()
	dir := NewDirectory(repo, zerolog.Nop())
	seed(t, repo, "psy", auth.RolePsychologist, AvailabilityOnline, 5, 1)

	items, err := dir.FindAvailableProfessionals(ctx, auth.RolePsychologist)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	items, err = dir.FindAvailableProfessionals(ctx, auth.RoleDoctor)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = dir.FindAvailableProfessionals(ctx, auth.Role("wizard"))
	assert.Error(t, err)
}

func TestDirectory_GetWrapsNotFound(t *testing.T) {
	dir := NewDirectory(NewRepoMemory(), zerolog.Nop())
	_, err := dir.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
