package consultation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/consult/internal/domain/account"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/db"
	"github.com/carelink/consult/internal/platform/events"
)

// Engine owns caregiver assignment. Its operations are the only code paths
// that set NurseID or ProfessionalID or touch caregiver case counters.
type Engine struct {
	repo   Repository
	dir    *account.Directory
	tx     db.Transactor
	events events.Publisher
	logger zerolog.Logger
}

func NewEngine(repo Repository, dir *account.Directory, tx db.Transactor, pub events.Publisher, logger zerolog.Logger) *Engine {
	if pub == nil {
		pub = events.Nop
	}
	return &Engine{
		repo:   repo,
		dir:    dir,
		tx:     tx,
		events: pub,
		logger: logger.With().Str("component", "routing").Logger(),
	}
}

// change describes what a mutation did, for the history row and the event.
type change struct {
	event   events.Type
	actorID *uuid.UUID
	note    string
	detail  string
	// record writes a history row even when the status is unchanged.
	record bool
	from   Status
}

// mutate loads the consultation under lock, applies fn and persists the
// result in one unit of work. fn returns a nil change to leave the row as is.
// Events are published after the unit of work commits.
func (e *Engine) mutate(ctx context.Context, op string, id uuid.UUID, fn func(ctx context.Context, c *Consultation) (*change, error)) (*Consultation, error) {
	var (
		out *Consultation
		ch  *change
	)
	err := e.tx.WithinTx(ctx, func(ctx context.Context) error {
		c, err := e.repo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return fmt.Errorf("%s %s: %w", op, id, err)
		}
		from := c.Status
		ch, err = fn(ctx, c)
		if err != nil {
			return err
		}
		out = c
		if ch == nil {
			return nil
		}
		ch.from = from

		if err := e.repo.Update(ctx, c); err != nil {
			return fmt.Errorf("%s %s: update: %w", op, id, err)
		}
		if c.Status != from || ch.record {
			h := &StatusChange{ConsultationID: c.ID, From: &from, To: c.Status, ActorID: ch.actorID}
			if ch.note != "" {
				note := ch.note
				h.Note = &note
			}
			if err := e.repo.AppendHistory(ctx, h); err != nil {
				return fmt.Errorf("%s %s: history: %w", op, id, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if ch != nil {
		e.publish(ctx, ch.event, out, ch.from, ch.actorID, ch.detail)
	}
	return out, nil
}

func (e *Engine) publish(ctx context.Context, typ events.Type, c *Consultation, from Status, actorID *uuid.UUID, detail string) {
	ev := events.Event{
		Type:           typ,
		ConsultationID: c.ID,
		Status:         string(c.Status),
		ActorID:        actorID,
		NurseID:        c.NurseID,
		ProfessionalID: c.ProfessionalID,
		Detail:         detail,
		At:             time.Now().UTC(),
	}
	if from != c.Status {
		ev.PreviousStatus = string(from)
	}
	if c.Urgency != nil {
		ev.Urgency = string(*c.Urgency)
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn().Err(err).
			Str("event", string(typ)).
			Str("consultation_id", c.ID.String()).
			Msg("event publish failed")
	}
}

func urgencyOf(c *Consultation) string {
	if c.Urgency == nil {
		return ""
	}
	return string(*c.Urgency)
}

// AssignInitialNurse gives an AWAITING consultation to the least-loaded
// available nurse and moves it to IN_TRIAGE. When every nurse is at capacity
// the consultation is returned unchanged and stays queued.
func (e *Engine) AssignInitialNurse(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	const op = "assign initial nurse"
	return e.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusAwaiting || c.NurseID != nil {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusAwaiting)
		}

		nurse, err := e.dir.ReserveNurse(ctx)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", op, id, err)
		}
		if nurse == nil {
			e.logger.Info().
				Str("consultation_id", c.ID.String()).
				Str("urgency", urgencyOf(c)).
				Msg("no nurse available, consultation queued")
			return nil, nil
		}

		c.NurseID = &nurse.ID
		if err := c.TransitionTo(StatusInTriage); err != nil {
			return nil, err
		}
		e.logger.Info().
			Str("consultation_id", c.ID.String()).
			Str("nurse_id", nurse.ID.String()).
			Str("urgency", urgencyOf(c)).
			Int("nurse_active_cases", nurse.CurrentActiveCases).
			Msg("nurse assigned")
		return &change{event: events.NurseAssigned, note: "assigned automatically"}, nil
	})
}

// ClaimFromQueue lets a nurse take an AWAITING consultation. Claiming a case
// the nurse already holds is a no-op. The nurse's case limit is not checked.
func (e *Engine) ClaimFromQueue(ctx context.Context, id, nurseID uuid.UUID) (*Consultation, error) {
	const op = "claim from queue"
	return e.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.NurseID != nil && *c.NurseID == nurseID && !c.Status.Terminal() {
			return nil, nil
		}
		if c.Status.Terminal() {
			return nil, precondition(op, "consultation is %s", c.Status)
		}
		if c.NurseID != nil {
			return nil, precondition(op, "consultation is assigned to another nurse")
		}
		if c.Status != StatusAwaiting {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusAwaiting)
		}

		nurse, err := e.dir.Get(ctx, nurseID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if nurse.Role != auth.RoleNurse {
			return nil, precondition(op, "account %s is a %s, not a nurse", nurseID, nurse.Role)
		}
		if !nurse.Active {
			return nil, precondition(op, "nurse %s is inactive", nurseID)
		}
		updated, err := e.dir.AddCase(ctx, nurseID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		c.NurseID = &nurseID
		if err := c.TransitionTo(StatusInTriage); err != nil {
			return nil, err
		}
		e.logger.Info().
			Str("consultation_id", c.ID.String()).
			Str("nurse_id", nurseID.String()).
			Str("urgency", urgencyOf(c)).
			Int("nurse_active_cases", updated.CurrentActiveCases).
			Msg("consultation claimed")
		return &change{event: events.ConsultationClaimed, actorID: &nurseID, note: "claimed from queue"}, nil
	})
}

// TransferToProfessional hands an IN_TRIAGE consultation from its nurse to a
// professional and releases one case from the nurse's counter. The
// professional's case limit is not checked.
func (e *Engine) TransferToProfessional(ctx context.Context, id, nurseID, professionalID uuid.UUID) (*Consultation, error) {
	const op = "transfer to professional"
	return e.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusInTriage {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusInTriage)
		}
		if c.NurseID == nil || *c.NurseID != nurseID {
			return nil, precondition(op, "consultation is not assigned to nurse %s", nurseID)
		}

		prof, err := e.dir.Get(ctx, professionalID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if !prof.Active {
			return nil, precondition(op, "professional %s is inactive", professionalID)
		}
		if !auth.Allowed(prof.Role, auth.CapReceiveTransfer) {
			return nil, precondition(op, "role %s cannot receive transfers", prof.Role)
		}

		c.ProfessionalID = &professionalID
		if err := c.TransitionTo(StatusAwaitingProfessional); err != nil {
			return nil, err
		}
		released, err := e.dir.ReleaseCase(ctx, nurseID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		e.logger.Info().
			Str("consultation_id", c.ID.String()).
			Str("nurse_id", nurseID.String()).
			Str("professional_id", professionalID.String()).
			Str("professional_role", string(prof.Role)).
			Str("urgency", urgencyOf(c)).
			Int("nurse_active_cases", released.CurrentActiveCases).
			Msg("consultation transferred")
		return &change{
			event:   events.ConsultationTransferred,
			actorID: &nurseID,
			note:    fmt.Sprintf("transferred to %s", prof.Role),
		}, nil
	})
}

// PendingQueue lists AWAITING consultations, most urgent first and oldest
// first within a tier.
func (e *Engine) PendingQueue(ctx context.Context, limit, offset int) ([]*Consultation, int, error) {
	items, total, err := e.repo.ListPending(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("pending queue: %w", err)
	}
	return items, total, nil
}
