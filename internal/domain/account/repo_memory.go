package account

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/carelink/consult/internal/platform/auth"
	"github.com/carelink/consult/internal/platform/lock"
)

// memoryRepo keeps accounts in process. Callers always receive copies; the
// per-account keyed lock serializes counter read-modify-writes.
type memoryRepo struct {
	mu    sync.RWMutex
	rows  map[uuid.UUID]*memoryRow
	seq   int64
	locks *lock.Keyed
}

type memoryRow struct {
	acct Account
	seq  int64
}

func NewRepoMemory() Repository {
	return &memoryRepo{rows: make(map[uuid.UUID]*memoryRow), locks: lock.NewKeyed()}
}

func (r *memoryRepo) Create(_ context.Context, a *Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.acct.Email == a.Email {
			return ErrEmailTaken
		}
	}
	a.ID = uuid.New()
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	r.seq++
	r.rows[a.ID] = &memoryRow{acct: *a, seq: r.seq}
	return nil
}

func (r *memoryRepo) GetByID(_ context.Context, id uuid.UUID) (*Account, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, ErrNotFound
	}
	a := row.acct
	return &a, nil
}

func (r *memoryRepo) snapshot(keep func(*Account) bool) []*memoryRow {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*memoryRow
	for _, row := range r.rows {
		if keep(&row.acct) {
			cp := *row
			out = append(out, &cp)
		}
	}
	return out
}

func (r *memoryRepo) List(_ context.Context, role *auth.Role, limit, offset int) ([]*Account, int, error) {
	rows := r.snapshot(func(a *Account) bool { return role == nil || a.Role == *role })
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].acct.Name != rows[j].acct.Name {
			return rows[i].acct.Name < rows[j].acct.Name
		}
		return rows[i].seq < rows[j].seq
	})
	total := len(rows)
	return page(rows, limit, offset), total, nil
}

func page(rows []*memoryRow, limit, offset int) []*Account {
	if offset > len(rows) {
		offset = len(rows)
	}
	end := len(rows)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*Account, 0, end-offset)
	for _, row := range rows[offset:end] {
		a := row.acct
		out = append(out, &a)
	}
	return out
}

// update applies fn to the stored row under the row lock and returns a copy.
func (r *memoryRepo) update(id uuid.UUID, fn func(a *Account) bool) (*Account, bool, error) {
	release := r.locks.Lock(id)
	defer release()

	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if !fn(&row.acct) {
		a := row.acct
		return &a, false, nil
	}
	row.acct.UpdatedAt = time.Now().UTC()
	a := row.acct
	return &a, true, nil
}

func (r *memoryRepo) SetAvailability(_ context.Context, id uuid.UUID, availability Availability) error {
	_, _, err := r.update(id, func(a *Account) bool {
		a.Availability = availability
		return true
	})
	return err
}

func (r *memoryRepo) SetCapacity(_ context.Context, id uuid.UUID, maxCapacity int, active bool) error {
	_, _, err := r.update(id, func(a *Account) bool {
		a.MaxCapacity = maxCapacity
		a.Active = active
		return true
	})
	return err
}

// nurseCandidates returns eligible nurses, least loaded first, ties by age.
func (r *memoryRepo) nurseCandidates() []*memoryRow {
	rows := r.snapshot(func(a *Account) bool { return a.EligibleNurse() })
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i].acct, rows[j].acct
		if a.CurrentActiveCases != b.CurrentActiveCases {
			return a.CurrentActiveCases < b.CurrentActiveCases
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return rows[i].seq < rows[j].seq
	})
	return rows
}

func (r *memoryRepo) FirstAvailableNurse(_ context.Context) (*Account, error) {
	rows := r.nurseCandidates()
	if len(rows) == 0 {
		return nil, nil
	}
	a := rows[0].acct
	return &a, nil
}

func (r *memoryRepo) ListAvailableByRole(_ context.Context, role auth.Role) ([]*Account, error) {
	rows := r.snapshot(func(a *Account) bool {
		return a.Role == role && a.Active && a.Availability == AvailabilityOnline
	})
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].acct.Name != rows[j].acct.Name {
			return rows[i].acct.Name < rows[j].acct.Name
		}
		return rows[i].seq < rows[j].seq
	})
	return page(rows, 0, 0), nil
}

// ReserveNurse walks the candidates in routing order and takes the first one
// that still passes the gate once its row lock is held.
func (r *memoryRepo) ReserveNurse(_ context.Context) (*Account, error) {
	for _, cand := range r.nurseCandidates() {
		a, ok, err := r.update(cand.acct.ID, func(a *Account) bool {
			if !a.EligibleNurse() {
				return false
			}
			a.CurrentActiveCases++
			return true
		})
		if err != nil && err != ErrNotFound {
			return nil, err
		}
		if ok {
			return a, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) IncrementActiveCases(_ context.Context, id uuid.UUID) (*Account, error) {
	a, _, err := r.update(id, func(a *Account) bool {
		a.CurrentActiveCases++
		return true
	})
	return a, err
}

func (r *memoryRepo) ReleaseCase(_ context.Context, id uuid.UUID) (*Account, error) {
	a, _, err := r.update(id, func(a *Account) bool {
		if a.CurrentActiveCases > 0 {
			a.CurrentActiveCases--
		}
		return true
	})
	return a, err
}
