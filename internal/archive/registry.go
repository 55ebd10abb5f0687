package archive

import (
	"sync"
	"time"
)

// Registry tracks temp zip artifacts: when they were built and how many
// transfers currently stream them. The janitor consults it before
// reclaiming anything.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*artifactState
}

type artifactState struct {
	created time.Time
	refs    int
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*artifactState)}
}

// Retain records a fresh build of name and takes a reference in one
// step, so a sweep can never reclaim an artifact between build and
// transfer. The returned release function drops the reference and is
// safe to call more than once.
func (r *Registry) Retain(name string) func() {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		e = &artifactState{}
		r.entries[name] = e
	}
	e.created = time.Now()
	e.refs++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			e.refs--
			r.mu.Unlock()
		})
	}
}

// InUse reports whether a transfer currently references name.
func (r *Registry) InUse(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	return ok && e.refs > 0
}

// CreatedAt returns the recorded build time of name.
func (r *Registry) CreatedAt(name string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return e.created, true
}

// Forget drops the bookkeeping for name once its file is gone.
func (r *Registry) Forget(name string) {
	r.mu.Lock()
	delete(r.entries, name)
	r.mu.Unlock()
}
