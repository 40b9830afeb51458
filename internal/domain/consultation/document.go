package consultation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/platform/events"
)

const maxDocumentBytes = 64 << 10

// SaveDocument stores an anamnesis, prescription or certificate for an
// IN_SESSION consultation. Only the assigned professional may write, and each
// save leaves a history row without changing the status.
func (s *Service) SaveDocument(ctx context.Context, id, professionalID uuid.UUID, kind DocumentKind, content json.RawMessage) (*Document, error) {
	const op = "save document"
	if !kind.Valid() {
		return nil, invalid("kind", "must be %s, %s or %s", DocumentAnamnesis, DocumentPrescription, DocumentCertificate)
	}
	content = bytes.TrimSpace(content)
	if len(content) == 0 || content[0] != '{' || !json.Valid(content) {
		return nil, invalid("content", "must be a JSON object")
	}
	if len(content) > maxDocumentBytes {
		return nil, invalid("content", "is %d bytes, the limit is %d", len(content), maxDocumentBytes)
	}

	var doc *Document
	_, err := s.engine.mutate(ctx, op, id, func(ctx context.Context, c *Consultation) (*change, error) {
		if c.Status != StatusInSession {
			return nil, precondition(op, "status is %s, want %s", c.Status, StatusInSession)
		}
		if c.ProfessionalID == nil || *c.ProfessionalID != professionalID {
			return nil, precondition(op, "consultation is not assigned to professional %s", professionalID)
		}
		doc = &Document{ConsultationID: id, Kind: kind, AuthorID: professionalID, Content: content}
		if err := s.repo.SaveDocument(ctx, doc); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &change{
			event:   events.DocumentSaved,
			actorID: &professionalID,
			note:    "document saved: " + string(kind),
			detail:  string(kind),
			record:  true,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Documents lists the clinical documents of a consultation.
func (s *Service) Documents(ctx context.Context, id uuid.UUID) ([]*Document, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Documents(ctx, id)
}
