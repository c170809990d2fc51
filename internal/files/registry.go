package files

import (
	"sync"
	"sync/atomic"
)

// Registry is the append-only record of completed uploads. Readers get an
// immutable snapshot without locking; writers serialize on a mutex and
// publish a new snapshot.
type Registry struct {
	mu      sync.Mutex
	entries atomic.Pointer[[]Upload]
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	r := &Registry{}
	empty := []Upload{}
	r.entries.Store(&empty)
	return r
}

// Add appends an upload. Existing entries are never modified. Uploads
// without a URL are ignored.
func (r *Registry) Add(u Upload) {
	if u.URL == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.entries.Load()
	next := make([]Upload, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, u)
	r.entries.Store(&next)
}

// Entries returns the current snapshot. Callers must not modify it.
func (r *Registry) Entries() []Upload {
	return *r.entries.Load()
}

// Len returns the number of recorded uploads.
func (r *Registry) Len() int {
	return len(r.Entries())
}
