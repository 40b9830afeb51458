package consultation

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/domain/triage"
	"github.com/carelink/consult/internal/platform/meeting"
)

// Kind distinguishes walk-in consultations from booked ones.
type Kind string

const (
	KindUrgent    Kind = "urgent"
	KindScheduled Kind = "scheduled"
)

func (k Kind) Valid() bool {
	return k == KindUrgent || k == KindScheduled
}

// Consultation maps to the consultation table. Rows are never deleted.
type Consultation struct {
	ID              uuid.UUID    `db:"id" json:"id"`
	PatientID       uuid.UUID    `db:"patient_id" json:"patient_id"`
	NurseID         *uuid.UUID   `db:"nurse_id" json:"nurse_id,omitempty"`
	ProfessionalID  *uuid.UUID   `db:"professional_id" json:"professional_id,omitempty"`
	Kind            Kind         `db:"kind" json:"kind"`
	Status          Status       `db:"status" json:"status"`
	Urgency         *triage.Tier `db:"urgency" json:"urgency,omitempty"`
	ScheduledAt     *time.Time   `db:"scheduled_at" json:"scheduled_at,omitempty"`
	StartedAt       *time.Time   `db:"started_at" json:"started_at,omitempty"`
	EndedAt         *time.Time   `db:"ended_at" json:"ended_at,omitempty"`
	DurationMinutes *int         `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Meeting         *meeting.Ref `db:"meeting" json:"meeting,omitempty"`
	Notes           *string      `db:"notes" json:"notes,omitempty"`
	Diagnosis       *string      `db:"diagnosis" json:"diagnosis,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updated_at"`

	Triage *TriageRecord `db:"-" json:"triage,omitempty"`
}

// AssignedTo reports whether id is the nurse or professional on the case.
func (c *Consultation) AssignedTo(id uuid.UUID) bool {
	return (c.NurseID != nil && *c.NurseID == id) ||
		(c.ProfessionalID != nil && *c.ProfessionalID == id)
}

// TriageRecord maps to triage_record, one per consultation. Vital signs are
// kept as entered.
type TriageRecord struct {
	ConsultationID   uuid.UUID    `db:"consultation_id" json:"consultation_id"`
	Symptoms         string       `db:"symptoms" json:"symptoms"`
	Temperature      string       `db:"temperature" json:"temperature,omitempty"`
	BloodPressure    string       `db:"blood_pressure" json:"blood_pressure,omitempty"`
	HeartRate        string       `db:"heart_rate" json:"heart_rate,omitempty"`
	OxygenSaturation string       `db:"oxygen_saturation" json:"oxygen_saturation,omitempty"`
	PainScore        *int         `db:"pain_score" json:"pain_score,omitempty"`
	MedicalHistory   string       `db:"medical_history" json:"medical_history,omitempty"`
	Medications      string       `db:"medications" json:"medications,omitempty"`
	Allergies        string       `db:"allergies" json:"allergies,omitempty"`
	AutomaticUrgency triage.Tier  `db:"automatic_urgency" json:"automatic_urgency"`
	NurseUrgency     *triage.Tier `db:"nurse_urgency" json:"nurse_urgency,omitempty"`
	Score            int          `db:"score" json:"score"`
	CreatedAt        time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time    `db:"updated_at" json:"updated_at"`
}

// EffectiveUrgency is the nurse's tier when set, otherwise the automatic one.
func (t *TriageRecord) EffectiveUrgency() triage.Tier {
	if t.NurseUrgency != nil {
		return *t.NurseUrgency
	}
	return t.AutomaticUrgency
}

// Classify re-runs the classifier over the record and stores the result.
func (t *TriageRecord) Classify() triage.Assessment {
	a := triage.Score(triage.Input{
		Symptoms:         t.Symptoms,
		PainScore:        t.PainScore,
		Temperature:      t.Temperature,
		OxygenSaturation: t.OxygenSaturation,
	})
	t.AutomaticUrgency = a.Tier
	t.Score = a.Score
	return a
}

// DocumentKind names a clinical document written during a session.
type DocumentKind string

const (
	DocumentAnamnesis    DocumentKind = "anamnesis"
	DocumentPrescription DocumentKind = "prescription"
	DocumentCertificate  DocumentKind = "certificate"
)

func (k DocumentKind) Valid() bool {
	switch k {
	case DocumentAnamnesis, DocumentPrescription, DocumentCertificate:
		return true
	}
	return false
}

// Document maps to consultation_document. A consultation holds at most one
// document of each kind; saving again replaces the content.
type Document struct {
	ConsultationID uuid.UUID       `db:"consultation_id" json:"consultation_id"`
	Kind           DocumentKind    `db:"kind" json:"kind"`
	AuthorID       uuid.UUID       `db:"author_id" json:"author_id"`
	Content        json.RawMessage `db:"content" json:"content"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time       `db:"updated_at" json:"updated_at"`
}

// StatusChange is one row of the append-only status history.
type StatusChange struct {
	ID             int64      `db:"id" json:"id"`
	ConsultationID uuid.UUID  `db:"consultation_id" json:"consultation_id"`
	From           *Status    `db:"from_status" json:"from,omitempty"`
	To             Status     `db:"to_status" json:"to"`
	ActorID        *uuid.UUID `db:"actor_id" json:"actor_id,omitempty"`
	Note           *string    `db:"note" json:"note,omitempty"`
	ChangedAt      time.Time  `db:"changed_at" json:"changed_at"`
}

// Stats summarizes the consultation table.
type Stats struct {
	ByStatus       map[Status]int `json:"by_status"`
	QueueByUrgency map[string]int `json:"queue_by_urgency"`
	QueueDepth     int            `json:"queue_depth"`
}

// UnclassifiedUrgency is the Stats key for queued cases with no tier.
const UnclassifiedUrgency = "unclassified"
