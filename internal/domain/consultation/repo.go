package consultation

import (
	"context"

	"github.com/google/uuid"
)

// ListFilter narrows List. Zero values match everything.
type ListFilter struct {
	Status      *Status
	PatientID   *uuid.UUID
	CaregiverID *uuid.UUID // nurse or professional
}

type Repository interface {
	Create(ctx context.Context, c *Consultation) error
	GetByID(ctx context.Context, id uuid.UUID) (*Consultation, error)
	// GetByIDForUpdate loads c and locks it until the surrounding
	// transaction ends.
	GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error)
	Update(ctx context.Context, c *Consultation) error
	List(ctx context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error)
	// ListPending returns AWAITING consultations, most urgent first, oldest
	// first within a tier. Unclassified cases sort after low.
	ListPending(ctx context.Context, limit, offset int) ([]*Consultation, int, error)
	Stats(ctx context.Context) (*Stats, error)

	SaveTriage(ctx context.Context, t *TriageRecord) error
	GetTriage(ctx context.Context, consultationID uuid.UUID) (*TriageRecord, error)

	// SaveDocument inserts d or replaces the document of the same kind.
	SaveDocument(ctx context.Context, d *Document) error
	// Documents lists a consultation's documents ordered by kind.
	Documents(ctx context.Context, consultationID uuid.UUID) ([]*Document, error)

	AppendHistory(ctx context.Context, h *StatusChange) error
	History(ctx context.Context, consultationID uuid.UUID) ([]*StatusChange, error)
}
