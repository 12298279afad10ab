// Package backendstate holds the currently active backend id: a
// single-writer/many-reader value with a broadcast of switches.
package backendstate

import (
	"sync"

	"github.com/anyclaude/anyclaude/internal/config"
)

// Switch describes a completed backend change, delivered to subscribers
// (the Reasoning Registry and the Reasoning Transformer).
type Switch struct {
	From string
	To   string
}

// Listener is called synchronously, under the state's write lock released,
// for every successful Set. Keep it fast and non-blocking.
type Listener func(Switch)

// Error values returned by Set.
type NotFoundError struct{ ID string }

func (e *NotFoundError) Error() string { return "backend not found: " + e.ID }

type NotConfiguredError struct{ ID string }

func (e *NotConfiguredError) Error() string { return "backend not configured (missing credentials): " + e.ID }

// State tracks the active backend id, guarded by a read-heavy lock.
type State struct {
	mu        sync.RWMutex
	currentID string
	snapshot  *config.Config

	listenersMu sync.Mutex
	listeners   []Listener
}

// New creates a State seeded from cfg's default active backend.
func New(cfg *config.Config) *State {
	return &State{
		currentID: cfg.Defaults.ActiveBackendID,
		snapshot:  cfg,
	}
}

// Subscribe registers a listener invoked on every successful backend switch.
func (s *State) Subscribe(l Listener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Get returns the active backend id.
func (s *State) Get() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentID
}

// Set switches the active backend, validating that the id exists and (if it
// requires explicit credentials) is configured. On success it broadcasts a
// Switch to subscribers.
func (s *State) Set(newID string) error {
	s.mu.Lock()
	snap := s.snapshot
	backend := snap.BackendByID(newID)
	if backend == nil {
		s.mu.Unlock()
		return &NotFoundError{ID: newID}
	}
	if backend.Auth.Mode != config.AuthForward && backend.Auth.Value == "" {
		s.mu.Unlock()
		return &NotConfiguredError{ID: newID}
	}

	from := s.currentID
	s.currentID = newID
	s.mu.Unlock()

	if from != newID {
		s.notify(Switch{From: from, To: newID})
	}
	return nil
}

func (s *State) notify(sw Switch) {
	s.listenersMu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.listenersMu.Unlock()

	for _, l := range listeners {
		l(sw)
	}
}

// UpdateConfig is called on hot-reload: re-checks whether the active
// id still exists in the new snapshot. If it was removed, the active id is
// left as-is (stale) so the Upstream Client can surface a clear
// backend_not_found error on the next request: a reload that removes the
// active backend leaves the stale id in place, and the next request fails
// with 502 until the operator switches.
func (s *State) UpdateConfig(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = cfg
}

// Exists reports whether id currently names a configured backend.
func (s *State) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.BackendByID(id) != nil
}
