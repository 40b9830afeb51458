package consultation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusAwaiting, StatusInTriage, true},
		{StatusInTriage, StatusAwaitingProfessional, true},
		{StatusAwaitingProfessional, StatusInSession, true},
		{StatusInSession, StatusCompleted, true},

		{StatusAwaiting, StatusCancelled, true},
		{StatusInTriage, StatusCancelled, true},
		{StatusAwaitingProfessional, StatusCancelled, true},
		{StatusInSession, StatusCancelled, true},

		{StatusAwaiting, StatusAwaitingProfessional, false},
		{StatusAwaiting, StatusCompleted, false},
		{StatusInTriage, StatusAwaiting, false},
		{StatusInTriage, StatusInTriage, false},
		{StatusInSession, StatusAwaitingProfessional, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusAwaiting, false},
		{StatusCompleted, StatusInSession, false},
		{Status("bogus"), StatusCancelled, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestTransitionTo(t *testing.T) {
	c := &Consultation{Status: StatusAwaiting}
	require.NoError(t, c.TransitionTo(StatusInTriage))
	assert.Equal(t, StatusInTriage, c.Status)

	err := c.TransitionTo(StatusCompleted)
	pe := requirePrecondition(t, err)
	assert.Contains(t, pe.Reason, "in_triage")
	assert.Equal(t, StatusInTriage, c.Status)
}

func TestTerminal(t *testing.T) {
	for _, s := range Statuses {
		want := s == StatusCompleted || s == StatusCancelled
		assert.Equal(t, want, s.Terminal(), string(s))
	}
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("awaiting_professional")
	require.NoError(t, err)
	assert.Equal(t, StatusAwaitingProfessional, s)

	_, err = ParseStatus("AWAITING")
	assert.Error(t, err)
}
