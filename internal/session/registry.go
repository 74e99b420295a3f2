// Package session keeps each user's pipeline state in memory.
package session

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/vbonduro/schema2tf/internal/metrics"
	"github.com/vbonduro/schema2tf/internal/pipeline"
)

var ErrNotFound = errors.New("session not found")

// entry holds the live state, guarded by run for the length of a Do call, and
// the snapshot published when that call returns, guarded by mu.
type entry struct {
	run   sync.Mutex
	state *pipeline.State

	mu       sync.Mutex
	snapshot *pipeline.State
}

func (e *entry) publish() {
	snap := e.state.Clone()
	e.mu.Lock()
	e.snapshot = snap
	e.mu.Unlock()
}

// Registry maps session ids to state. Every uploaded image starts a new
// session, so state is never reset in place.
// TODO: evict sessions idle for longer than a configurable TTL.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Create stores a new session for image and returns a snapshot of it.
func (r *Registry) Create(image []byte) *pipeline.State {
	st := pipeline.NewState(uuid.NewString(), image)

	r.mu.Lock()
	r.sessions[st.ID] = &entry{state: st, snapshot: st.Clone()}
	n := len(r.sessions)
	r.mu.Unlock()

	metrics.SetActiveSessions(n)
	return st.Clone()
}

// Get returns a snapshot of the session's state as of the last completed Do
// call. It does not wait for a Do call in progress.
func (r *Registry) Get(id string) (*pipeline.State, error) {
	e, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot.Clone(), nil
}

// Do runs fn with exclusive access to the session's state. Calls for the same
// session run one after another; different sessions do not block each other.
func (r *Registry) Do(id string, fn func(st *pipeline.State) error) error {
	e, err := r.lookup(id)
	if err != nil {
		return err
	}
	e.run.Lock()
	defer e.run.Unlock()
	defer e.publish()
	return fn(e.state)
}

func (r *Registry) Delete(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()
	metrics.SetActiveSessions(n)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}
