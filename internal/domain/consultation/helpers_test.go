package consultation

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/carelink/consult/internal/domain/account"
	"github.com/carelink/consult/internal/domain/triage"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/db"
	"github.com/carelink/consult/internal/platform/events"
)

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
	return nil
}

func (l *eventLog) types() []events.Type {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]events.Type, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

type testEnv struct {
	accounts account.Repository
	dir      *account.Directory
	repo     Repository
	engine   *Engine
	svc      *Service
	events   *eventLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	accounts := account.NewRepoMemory()
	dir := account.NewDirectory(accounts, zerolog.Nop())
	repo := NewRepoMemory()
	log := &eventLog{}
	engine := NewEngine(repo, dir, db.NewLockTransactor(), log, zerolog.Nop())
	return &testEnv{
		accounts: accounts,
		dir:      dir,
		repo:     repo,
		engine:   engine,
		svc:      NewService(repo, engine),
		events:   log,
	}
}

func (e *testEnv) newAccount(t *testing.T, role auth.Role, avail account.Availability, current, max int) *account.Account {
	t.Helper()
	a := &account.Account{
		Name:               string(role) + "-" + uuid.NewString()[:8],
		Email:              uuid.NewString() + "@example.com",
		Role:               role,
		Active:             true,
		Availability:       avail,
		CurrentActiveCases: current,
		MaxCapacity:        max,
	}
	require.NoError(t, e.accounts.Create(context.Background(), a))
	return a
}

func (e *testEnv) nurse(t *testing.T, current, max int) *account.Account {
	return e.newAccount(t, auth.RoleNurse, account.AvailabilityOnline, current, max)
}

func (e *testEnv) patient(t *testing.T) *account.Account {
	return e.newAccount(t, auth.RolePatient, account.AvailabilityOffline, 0, 0)
}

func (e *testEnv) activeCases(t *testing.T, id uuid.UUID) int {
	t.Helper()
	a, err := e.accounts.GetByID(context.Background(), id)
	require.NoError(t, err)
	return a.CurrentActiveCases
}

// queued stores an AWAITING consultation directly, bypassing intake.
func (e *testEnv) queued(t *testing.T, urgency *triage.Tier) *Consultation {
	t.Helper()
	c := &Consultation{PatientID: uuid.New(), Kind: KindUrgent, Status: StatusAwaiting, Urgency: urgency}
	require.NoError(t, e.repo.Create(context.Background(), c))
	return c
}

// inTriage stores a consultation already held by nurseID.
func (e *testEnv) inTriage(t *testing.T, nurseID uuid.UUID) *Consultation {
	t.Helper()
	c := &Consultation{PatientID: uuid.New(), Kind: KindUrgent, Status: StatusInTriage, NurseID: &nurseID}
	require.NoError(t, e.repo.Create(context.Background(), c))
	return c
}

func tier(t triage.Tier) *triage.Tier { return &t }

func requirePrecondition(t *testing.T, err error) *PreconditionError {
	t.Helper()
	require.Error(t, err)
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	return pe
}
