package consultation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/domain/triage"
	"github.com/carelink/consult/internal/platform/lock"
)

// memoryRepo keeps consultations in process. GetByIDForUpdate takes a keyed
// lock held for the lock.Scope on ctx, which db.LockTransactor opens.
type memoryRepo struct {
	mu      sync.RWMutex
	rows    map[uuid.UUID]*memoryRow
	triage  map[uuid.UUID]TriageRecord
	docs    map[uuid.UUID]map[DocumentKind]Document
	history map[uuid.UUID][]StatusChange
	seq     int64
	histSeq int64
	locks   *lock.Keyed
}

type memoryRow struct {
	c   Consultation
	seq int64
}

func NewRepoMemory() Repository {
	return &memoryRepo{
		rows:    make(map[uuid.UUID]*memoryRow),
		triage:  make(map[uuid.UUID]TriageRecord),
		docs:    make(map[uuid.UUID]map[DocumentKind]Document),
		history: make(map[uuid.UUID][]StatusChange),
		locks:   lock.NewKeyed(),
	}
}

func clone(c Consultation) *Consultation {
	c.Triage = nil
	return &c
}

func (r *memoryRepo) Create(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.ID = uuid.New()
	now := time.Now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now
	r.seq++
	r.rows[c.ID] = &memoryRow{c: *clone(*c), seq: r.seq}
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(row.c), nil
}

func (r *memoryRepo) GetByIDForUpdate(ctx context.Context, id uuid.UUID) (*Consultation, error) {
	r.mu.RLock()
	_, ok := r.rows[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	lock.Hold(ctx, r.locks, id)
	return r.GetByID(ctx, id)
}

func (r *memoryRepo) Update(_ context.Context, c *Consultation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[c.ID]
	if !ok {
		return ErrNotFound
	}
	c.UpdatedAt = time.Now().UTC()
	c.CreatedAt = row.c.CreatedAt
	row.c = *clone(*c)
	return nil
}

func (r *memoryRepo) filter(keep func(*Consultation) bool) []*memoryRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*memoryRow
	for _, row := range r.rows {
		if keep(&row.c) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

func page(rows []*memoryRow, limit, offset int) []*Consultation {
	if offset > len(rows) {
		offset = len(rows)
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Consultation, 0, end-offset)
	for _, row := range rows[offset:end] {
		out = append(out, clone(row.c))
	}
	return out
}

func (r *memoryRepo) List(_ context.Context, f ListFilter, limit, offset int) ([]*Consultation, int, error) {
	rows := r.filter(func(c *Consultation) bool {
		if f.Status != nil && c.Status != *f.Status {
			return false
		}
		if f.PatientID != nil && c.PatientID != *f.PatientID {
			return false
		}
		if f.CaregiverID != nil && !c.AssignedTo(*f.CaregiverID) {
			return false
		}
		return true
	})
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].c.CreatedAt.Equal(rows[j].c.CreatedAt) {
			return rows[i].c.CreatedAt.After(rows[j].c.CreatedAt)
		}
		return rows[i].seq > rows[j].seq
	})
	return page(rows, limit, offset), len(rows), nil
}

func (r *memoryRepo) ListPending(_ context.Context, limit, offset int) ([]*Consultation, int, error) {
	rows := r.filter(func(c *Consultation) bool { return c.Status == StatusAwaiting })
	sortQueue(rows)
	return page(rows, limit, offset), len(rows), nil
}

// sortQueue orders by urgency rank desc, then arrival.
func sortQueue(rows []*memoryRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := &rows[i].c, &rows[j].c
		ra, rb := triage.RankOf(a.Urgency), triage.RankOf(b.Urgency)
		if ra != rb {
			return ra > rb
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
}

func (r *memoryRepo) Stats(_ context.Context) (*Stats, error) {
	s := &Stats{ByStatus: make(map[Status]int), QueueByUrgency: make(map[string]int)}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, row := range r.rows {
		s.ByStatus[row.c.Status]++
		if row.c.Status != StatusAwaiting {
			continue
		}
		key := UnclassifiedUrgency
		if row.c.Urgency != nil {
			key = string(*row.c.Urgency)
		}
		s.QueueByUrgency[key]++
		s.QueueDepth++
	}
	return s, nil
}

func (r *memoryRepo) SaveTriage(_ context.Context, t *TriageRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[t.ConsultationID]; !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	if prev, ok := r.triage[t.ConsultationID]; ok {
		t.CreatedAt = prev.CreatedAt
	} else {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	r.triage[t.ConsultationID] = *t
	return nil
}

func (r *memoryRepo) GetTriage(_ context.Context, consultationID uuid.UUID) (*TriageRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.triage[consultationID]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

func (r *memoryRepo) SaveDocument(_ context.Context, d *Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[d.ConsultationID]; !ok {
		return ErrNotFound
	}
	byKind := r.docs[d.ConsultationID]
	if byKind == nil {
		byKind = make(map[DocumentKind]Document)
		r.docs[d.ConsultationID] = byKind
	}
	now := time.Now().UTC()
	if prev, ok := byKind[d.Kind]; ok {
		d.CreatedAt = prev.CreatedAt
	} else {
		d.CreatedAt = now
	}
	d.UpdatedAt = now
	stored := *d
	stored.Content = append([]byte(nil), d.Content...)
	byKind[d.Kind] = stored
	return nil
}

func (r *memoryRepo) Documents(_ context.Context, consultationID uuid.UUID) ([]*Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Document, 0, len(r.docs[consultationID]))
	for _, d := range r.docs[consultationID] {
		d := d
		out = append(out, &d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Kind < out[j].Kind })
	return out, nil
}

func (r *memoryRepo) AppendHistory(_ context.Context, h *StatusChange) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histSeq++
	h.ID = r.histSeq
	h.ChangedAt = time.Now().UTC()
	r.history[h.ConsultationID] = append(r.history[h.ConsultationID], *h)
	return nil
}

func (r *memoryRepo) History(_ context.Context, consultationID uuid.UUID) ([]*StatusChange, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := r.history[consultationID]
	out := make([]*StatusChange, 0, len(items))
	for i := range items {
		h := items[i]
		out = append(out, &h)
	}
	return out, nil
}
