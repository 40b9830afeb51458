// Package events carries consultation lifecycle notifications to the realtime
// hub and to other services.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	ConsultationCreated     Type = "consultation.created"
	NurseAssigned           Type = "consultation.nurse_assigned"
	ConsultationClaimed     Type = "consultation.claimed"
	TriageUpdated           Type = "consultation.triage_updated"
	ConsultationTransferred Type = "consultation.transferred"
	SessionStarted          Type = "consultation.session_started"
	ConsultationCompleted   Type = "consultation.completed"
	ConsultationCancelled   Type = "consultation.cancelled"
	MeetingAttached         Type = "consultation.meeting_attached"
	DocumentSaved           Type = "consultation.document_saved"
)

// Event describes one change to a consultation. Status values are the
// consultation status strings.
type Event struct {
	Type           Type       `json:"type"`
	ConsultationID uuid.UUID  `json:"consultation_id"`
	Status         string     `json:"status"`
	PreviousStatus string     `json:"previous_status,omitempty"`
	Urgency        string     `json:"urgency,omitempty"`
	ActorID        *uuid.UUID `json:"actor_id,omitempty"`
	NurseID        *uuid.UUID `json:"nurse_id,omitempty"`
	ProfessionalID *uuid.UUID `json:"professional_id,omitempty"`
	// Detail qualifies the type, such as the kind of a saved document.
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
	// Origin identifies the publishing instance so relays can skip their own events.
	Origin string `json:"origin,omitempty"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })

// Multi fans an event out to every publisher. All publishers are called even
// when one fails; the errors are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
