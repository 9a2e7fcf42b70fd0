// Package registry is the in-memory table of requests in flight. It carries
// the chat message handles used to keep every party's view of a request up
// to date; losing it on restart only loses those live edits.
package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/zulandar/motorpool/internal/models"
	"github.com/zulandar/motorpool/internal/notify"
)

// Entry is one tracked request.
type Entry struct {
	Request    models.Request
	Deliveries []notify.Delivery
	UpdatedAt  time.Time
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     func() time.Time
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*Entry), now: time.Now}
}

// Get returns a copy of the entry for code.
func (r *Registry) Get(code string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[code]
	if !ok {
		return Entry{}, false
	}
	return e.clone(), true
}

// Put stores a copy of e under code and stamps its UpdatedAt.
func (r *Registry) Put(code string, e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := e.clone()
	c.UpdatedAt = r.now()
	r.entries[code] = &c
}

// Update applies fn to the entry for code under the write lock, creating an
// empty entry first when create is true. It reports whether an entry was
// updated.
func (r *Registry) Update(code string, create bool, fn func(*Entry)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[code]
	if !ok {
		if !create {
			return false
		}
		e = &Entry{}
		r.entries[code] = e
	}
	fn(e)
	e.UpdatedAt = r.now()
	return true
}

// Delete removes the entry for code.
func (r *Registry) Delete(code string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, code)
}

// Sweep drops entries not updated within maxIdle and returns how many were
// dropped.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-maxIdle)
	n := 0
	for code, e := range r.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(r.entries, code)
			n++
		}
	}
	return n
}

// Len returns the number of tracked requests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Snapshot returns copies of all entries ordered by request code.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Request.Code < out[j].Request.Code })
	return out
}

func (e *Entry) clone() Entry {
	c := *e
	if e.Deliveries != nil {
		c.Deliveries = make([]notify.Delivery, len(e.Deliveries))
		copy(c.Deliveries, e.Deliveries)
	}
	return c
}
