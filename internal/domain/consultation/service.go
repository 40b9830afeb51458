package consultation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/domain/triage"
	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/events"
	"github.com/carelink/consult/internal/platform/meeting"
)

// Service wraps the Engine with intake, the caregiver lifecycle actions and
// read access. Every write goes through Engine.mutate.
type Service struct {
	repo   Repository
	engine *Engine
	now    func() time.Time
}

func NewService(repo Repository, engine *Engine) *Service {
	return &Service{repo: repo, engine: engine, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Service) Engine() *Engine { return s.engine }

// TriageInput is the triage data captured at intake.
type TriageInput struct {
	Symptoms         string `json:"symptoms"`
	Temperature      string `json:"temperature,omitempty"`
	BloodPressure    string `json:"blood_pressure,omitempty"`
	HeartRate        string `json:"heart_rate,omitempty"`
	OxygenSaturation string `json:"oxygen_saturation,omitempty"`
	PainScore        *int   `json:"pain_score,omitempty"`
	MedicalHistory   string `json:"medical_history,omitempty"`
	Medications      string `json:"medications,omitempty"`
	Allergies        string `json:"allergies,omitempty"`
}

// Intake is a patient's request for a consultation.
type Intake struct {
	Kind        Kind         `json:"kind"`
	ScheduledAt *time.Time   `json:"scheduled_at,omitempty"`
	Triage      *TriageInput `json:"triage,omitempty"`
}

func validPain(p *int) bool {
	return p == nil || (*p >= 0 && *p <= 10)
}

// Free-text limits, in characters, applied before either store sees a record.
const (
	maxReadingLength = 64
	maxTextLength    = 4000
)

func checkLength(field, value string, max int) error {
	if n := utf8.RuneCountInString(value); n > max {
		return invalid(field, "is %d characters, the limit is %d", n, max)
	}
	return nil
}

// validate checks the record's free text. Vital signs are stored as entered
// and are not parsed here. prefix is prepended to reported field names.
func (t *TriageRecord) validate(prefix string) error {
	fields := []struct {
		name  string
		value string
		max   int
	}{
		{"symptoms", t.Symptoms, maxTextLength},
		{"temperature", t.Temperature, maxReadingLength},
		{"blood_pressure", t.BloodPressure, maxReadingLength},
		{"heart_rate", t.HeartRate, maxReadingLength},
		{"oxygen_saturation", t.OxygenSaturation, maxReadingLength},
		{"medical_history", t.MedicalHistory, maxTextLength},
		{"medications", t.Medications, maxTextLength},
		{"allergies", t.Allergies, maxTextLength},
	}
	for _, f := range fields {
		if err := checkLength(prefix+f.name, f.value, f.max); err != nil {
			return err
		}
	}
	return nil
}

func (in *Intake) validate() error {
	if !in.Kind.Valid() {
		return invalid("kind", "must be %s or %s", KindUrgent, KindScheduled)
	}
	if in.Kind == KindScheduled && in.ScheduledAt == nil {
		return invalid("scheduled_at", "is required for scheduled consultations")
	}
	if in.Triage != nil {
		if strings.TrimSpace(in.Triage.Symptoms) == "" {
			return invalid("triage.symptoms", "is required")
		}
		if !validPain(in.Triage.PainScore) {
			return invalid("triage.pain_score", "must be between 0 and 10")
		}
	}
	return nil
}

// Create opens a consultation for patientID. Triage data, when present, is
// classified and stored. Urgent consultations are routed to a nurse at once
// and stay queued when none is free.
func (s *Service) Create(ctx context.Context, patientID uuid.UUID, in Intake) (*Consultation, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	patient, err := s.engine.dir.Get(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if patient.Role != auth.RolePatient {
		return nil, invalid("patient_id", "account %s is not a patient", patientID)
	}

	c := &Consultation{PatientID: patientID, Kind: in.Kind, Status: StatusAwaiting}
	if in.Kind == KindScheduled {
		c.ScheduledAt = in.ScheduledAt
	}

	var rec *TriageRecord
	if t := in.Triage; t != nil {
		rec = &TriageRecord{
			Symptoms:         strings.TrimSpace(t.Symptoms),
			Temperature:      t.Temperature,
			BloodPressure:    t.BloodPressure,
			HeartRate:        t.HeartRate,
			OxygenSaturation: t.OxygenSaturation,
			PainScore:        t.PainScore,
			MedicalHistory:   t.MedicalHistory,
			Medications:      t.Medications,
			Allergies:        t.Allergies,
		}
		if err := rec.validate("triage."); err != nil {
			return nil, err
		}
		rec.Classify()
		tier := rec.EffectiveUrgency()
		c.Urgency = &tier
	}

	err = s.engine.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.repo.Create(ctx, c); err != nil {
			return fmt.Errorf("create consultation: %w", err)
		}
		if rec != nil {
			rec.ConsultationID = c.ID
			if err := s.repo.SaveTriage(ctx, rec); err != nil {
				return fmt.Errorf("save triage: %w", err)
			}
		}
		note := "created"
		return s.repo.AppendHistory(ctx, &StatusChange{
			ConsultationID: c.ID, To: StatusAwaiting, ActorID: &patientID, Note: &note,
		})
	})
	if err != nil {
		return nil, err
	}
	s.engine.publish(ctx, events.ConsultationCreated, c, c.Status, &patientID, "")

	if c.Kind == KindUrgent {
		assigned, err := s.engine.AssignInitialNurse(ctx, c.ID)
		if err != nil {
			s.engine.logger.Error().Err(err).
				Str("consultation_id", c.ID.String()).
				Msg("initial assignment failed, consultation stays queued")
		} else {
			c = assigned
		}
	}
	c.Triage = rec
	return c, nil
}

// TriageUpdate carries the nurse's edits. Nil fields keep their value.
type TriageUpdate struct {
	Symptoms         *string      `json:"symptoms,omitempty"`
	Temperature      *string      `json:"temperature,omitempty"`
	BloodPressure    *string      `json:"blood_pressure,omitempty"`
	HeartRate        *string      `json:"heart_rate,omitempty"`
	OxygenSaturation *string      `json:"oxygen_saturation,omitempty"`
	PainScore        *int         `json:"pain_score,omitempty"`
	MedicalHistory   *string      `json:"medical_history,omitempty"`
	Medications      *string      `json:"medications,omitempty"`
	Allergies        *string      `json:"allergies,omitempty"`
	NurseUrgency     *triage.Tier `json:"nurse_urgency,omitempty"`
}

func setIf(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// FinalizeTriage records the assigned nurse's assessment, re-runs the
// classifier and sets the consultation urgency to the effective tier.
func (s *Service) FinalizeTriage(ctx context.Context, id, nurseID uuid.UUID, u TriageUpdate) (*Consultation, error) {
	const op = "finalize triage"
	if !validPain(u.PainScore) {
		return nil, invalid("pain_score", "must be between 0 and 10")
	}
	if u.NurseUrgency != nil && !u.NurseUrgency.Valid() {
		return nil, invalid("nurse_urgency", "unknown tier %q", *u.NurseUrgency)
	}

	return s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusInTriage {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusInTriage)
		}
		if c.NurseID == nil || *c.NurseID != nurseID {
			return nil, precondition(op, "consultation is not assigned to nurse %s", nurseID)
		}

		rec, err := s.repo.GetTriage(ctx, id)
		if errors.Is(err, ErrNotFound) {
			rec = &TriageRecord{ConsultationID: id}
		} else if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		setIf(&rec.Symptoms, u.Symptoms)
		setIf(&rec.Temperature, u.Temperature)
		setIf(&rec.BloodPressure, u.BloodPressure)
		setIf(&rec.HeartRate, u.HeartRate)
		setIf(&rec.OxygenSaturation, u.OxygenSaturation)
		setIf(&rec.MedicalHistory, u.MedicalHistory)
		setIf(&rec.Medications, u.Medications)
		setIf(&rec.Allergies, u.Allergies)
		if u.PainScore != nil {
			rec.PainScore = u.PainScore
		}
		if u.NurseUrgency != nil {
			tier := *u.NurseUrgency
			rec.NurseUrgency = &tier
		}
		if err := rec.validate(""); err != nil {
			return nil, err
		}
		rec.Classify()
		if err := s.repo.SaveTriage(ctx, rec); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		tier := rec.EffectiveUrgency()
		c.Urgency = &tier
		c.Triage = rec
		return &change{event: events.TriageUpdated, actorID: &nurseID}, nil
	})
}

// StartSession moves an AWAITING_PROFESSIONAL consultation to IN_SESSION.
// Only the assigned professional may start it.
func (s *Service) StartSession(ctx context.Context, id, professionalID uuid.UUID) (*Consultation, error) {
	const op = "start session"
	return s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusAwaitingProfessional {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusAwaitingProfessional)
		}
		if c.ProfessionalID == nil || *c.ProfessionalID != professionalID {
			return nil, precondition(op, "consultation is not assigned to professional %s", professionalID)
		}
		if err := c.TransitionTo(StatusInSession); err != nil {
			return nil, err
		}
		now := s.now()
		c.StartedAt = &now
		return &change{event: events.SessionStarted, actorID: &professionalID}, nil
	})
}

// Completion carries the professional's closing notes.
type Completion struct {
	Notes     *string `json:"notes,omitempty"`
	Diagnosis *string `json:"diagnosis,omitempty"`
}

// Complete closes an IN_SESSION consultation and records its duration.
func (s *Service) Complete(ctx context.Context, id, professionalID uuid.UUID, done Completion) (*Consultation, error) {
	const op = "complete"
	return s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusInSession {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusInSession)
		}
		if c.ProfessionalID == nil || *c.ProfessionalID != professionalID {
			return nil, precondition(op, "consultation is not assigned to professional %s", professionalID)
		}
		if err := c.TransitionTo(StatusCompleted); err != nil {
			return nil, err
		}
		now := s.now()
		c.EndedAt = &now
		if c.StartedAt != nil {
			minutes := int(now.Sub(*c.StartedAt) / time.Minute)
			c.DurationMinutes = &minutes
		}
		if done.Notes != nil {
			c.Notes = done.Notes
		}
		if done.Diagnosis != nil {
			c.Diagnosis = done.Diagnosis
		}
		return &change{event: events.ConsultationCompleted, actorID: &professionalID}, nil
	})
}

// Cancel ends a live consultation. The patient, an assigned caregiver or an
// admin may cancel. A nurse still triaging the case gets the case released.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID, actor auth.Identity, reason string) (*Consultation, error) {
	const op = "cancel"
	return s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status.Terminal() {
			return nil, precondition(op, "consultation is already %s", c.Status)
		}
		if actor.ID != c.PatientID && !c.AssignedTo(actor.ID) && !actor.Can(auth.CapViewAll) {
			return nil, precondition(op, "account %s may not cancel this consultation", actor.ID)
		}

		releaseNurse := c.Status == StatusInTriage && c.NurseID != nil
		if err := c.TransitionTo(StatusCancelled); err != nil {
			return nil, err
		}
		if releaseNurse {
			if _, err := s.engine.dir.ReleaseCase(ctx, *c.NurseID); err != nil {
				return nil, fmt.Errorf("%s: %w", op, err)
			}
		}

		note := "cancelled"
		if r := strings.TrimSpace(reason); r != "" {
			note = "cancelled: " + r
		}
		actorID := actor.ID
		return &change{event: events.ConsultationCancelled, actorID: &actorID, note: note}, nil
	})
}

// AttachMeeting stores a provisioned room on a live consultation. A
// consultation keeps the first room attached to it.
func (s *Service) AttachMeeting(ctx context.Context, id uuid.UUID, ref meeting.Ref) (*Consultation, error) {
	const op = "attach meeting"
	return s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status.Terminal() {
			return nil, precondition(op, "consultation is %s", c.Status)
		}
		if c.Meeting != nil {
			return nil, nil
		}
		c.Meeting = &ref
		return &change{event: events.MeetingAttached}, nil
	})
}

// Get returns the consultation with its triage record, if any.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := s.repo.GetTriage(ctx, id)
	switch {
	case err == nil:
		c.Triage = rec
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}
	return c, nil
}

// CanView reports whether actor may read c: admins, the patient, assigned
// caregivers and, for queued cases, queue viewers.
func CanView(actor auth.Identity, c *Consultation) bool {
	switch {
	case actor.Can(auth.CapViewAll):
		return true
	case actor.ID == c.PatientID, c.AssignedTo(actor.ID):
		return true
	case c.Status == StatusAwaiting && actor.Can(auth.CapViewQueue):
		return true
	}
	return false
}

// GetForActor is Get restricted to consultations actor may view.
func (s *Service) GetForActor(ctx context.Context, id uuid.UUID, actor auth.Identity) (*Consultation, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanView(actor, c) {
		return nil, ErrForbidden
	}
	return c, nil
}

// ListForActor lists what actor may see: everything for admins, their own
// consultations for patients and their assigned cases for caregivers.
func (s *Service) ListForActor(ctx context.Context, actor auth.Identity, status *Status, limit, offset int) ([]*Consultation, int, error) {
	f := ListFilter{Status: status}
	switch {
	case actor.Can(auth.CapViewAll):
	case actor.Has(auth.RolePatient):
		f.PatientID = &actor.ID
	default:
		f.CaregiverID = &actor.ID
	}
	return s.repo.List(ctx, f, limit, offset)
}

// History returns the status changes of a consultation, oldest first.
func (s *Service) History(ctx context.Context, id uuid.UUID) ([]*StatusChange, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	return s.repo.Stats(ctx)
}
