// Package registry keeps lifecycle bookkeeping for client callback
// channels: which callbacks the service has seen, the client id assigned to
// each, and how much admitted-but-undelivered work each one still has. It
// carries no correctness logic; the pending pool owns that.
package registry

import (
	"sync"

	"github.com/google/uuid"
)

type entry struct {
	id          string
	cb          any
	outstanding int
}

// Registry maps callback identities to client entries. Callbacks are used
// as map keys, so their dynamic type must be comparable; pointer-typed
// callbacks (the normal case) always are.
type Registry struct {
	mu   sync.Mutex
	byCB map[any]*entry
	byID map[string]*entry
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		byCB: make(map[any]*entry),
		byID: make(map[string]*entry),
	}
}

// Acquire returns the client id for a callback, registering it on first
// sight. The same callback always yields the same id until it is swept.
func (r *Registry) Acquire(cb any) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byCB[cb]; ok {
		return e.id
	}
	e := &entry{id: uuid.NewString(), cb: cb}
	r.byCB[cb] = e
	r.byID[e.id] = e
	return e.id
}

// Resolve returns the callback registered under a client id.
func (r *Registry) Resolve(id string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.cb, true
}

// AddWork records n admitted requests for a client.
func (r *Registry) AddWork(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[id]; ok {
		e.outstanding += n
	}
}

// DoneWork records n delivered results for a client. The count never drops
// below zero.
func (r *Registry) DoneWork(id string, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[id]; ok {
		e.outstanding -= n
		if e.outstanding < 0 {
			e.outstanding = 0
		}
	}
}

// Outstanding returns the admitted-but-undelivered count for a client.
func (r *Registry) Outstanding(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.byID[id]; ok {
		return e.outstanding
	}
	return 0
}

// Count returns the number of registered clients.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Sweep forgets every client with no outstanding work and returns how many
// were removed. Clients mid-flight are kept.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for cb, e := range r.byCB {
		if e.outstanding == 0 {
			delete(r.byCB, cb)
			delete(r.byID, e.id)
			removed++
		}
	}
	return removed
}
