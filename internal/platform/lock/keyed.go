// Package lock provides in-process mutual exclusion keyed by record id, for
// stores that have no row locks of their own.
package lock

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	refs int
}

// Keyed is a set of mutexes indexed by id. Entries are reference counted and
// removed once no goroutine holds or waits on them.
type Keyed struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*entry
}

func NewKeyed() *Keyed {
	return &Keyed{entries: make(map[uuid.UUID]*entry)}
}

// Lock blocks until the mutex for id is held and returns its release func.
// The release func is idempotent.
func (k *Keyed) Lock(id uuid.UUID) func() {
	k.mu.Lock()
	e, ok := k.entries[id]
	if !ok {
		e = &entry{}
		k.entries[id] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			k.mu.Lock()
			e.refs--
			if e.refs == 0 {
				delete(k.entries, id)
			}
			k.mu.Unlock()
		})
	}
}

// Len returns the number of ids currently held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// Scope collects releases so that locks taken during a unit of work are all
// dropped together when it ends, the way row locks live until commit.
type Scope struct {
	mu       sync.Mutex
	held     map[*Keyed]map[uuid.UUID]struct{}
	releases []func()
}

type scopeKey struct{}

// WithScope attaches a new Scope to ctx. The returned func releases every lock
// acquired through the scope, in reverse order.
func WithScope(ctx context.Context) (context.Context, func()) {
	s := &Scope{held: make(map[*Keyed]map[uuid.UUID]struct{})}
	return context.WithValue(ctx, scopeKey{}, s), s.release
}

// ScopeFromContext returns the scope on ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// Hold locks id on k for the remainder of the scope on ctx. Re-acquiring an id
// the scope already holds is a no-op. Without a scope the lock is taken and
// dropped immediately, which only orders the caller behind current holders.
func Hold(ctx context.Context, k *Keyed, id uuid.UUID) {
	s := ScopeFromContext(ctx)
	if s == nil {
		k.Lock(id)()
		return
	}

	s.mu.Lock()
	if _, ok := s.held[k][id]; ok {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	release := k.Lock(id)

	s.mu.Lock()
	if s.held[k] == nil {
		s.held[k] = make(map[uuid.UUID]struct{})
	}
	s.held[k][id] = struct{}{}
	s.releases = append(s.releases, release)
	s.mu.Unlock()
}

func (s *Scope) release() {
	s.mu.Lock()
	releases := s.releases
	s.releases = nil
	s.held = make(map[*Keyed]map[uuid.UUID]struct{})
	s.mu.Unlock()

	for i := len(releases) - 1; i >= 0; i-- {
		releases[i]()
	}
}
