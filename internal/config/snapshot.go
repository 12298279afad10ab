package config

import "sync/atomic"

// Snapshot is the read-only interface readers get from the Store: a Config
// that has already passed validation and will never change underneath them.
type Snapshot = *Config

// Store publishes configuration snapshots and lets readers fetch the latest
// one in constant time without blocking.
type Store struct {
	path    string
	current atomic.Pointer[Config]
}

// NewStore creates a Store whose current snapshot is cfg, loaded from path
// (path is retained only so the watcher knows what file to re-read).
func NewStore(path string, cfg *Config) *Store {
	s := &Store{path: path}
	s.current.Store(cfg)
	return s
}

// Path returns the file path this store was loaded from.
func (s *Store) Path() string { return s.path }

// Current returns the latest published, fully validated snapshot.
func (s *Store) Current() Snapshot {
	return s.current.Load()
}

// publish atomically swaps in a new, already-validated snapshot. A partially
// valid config must never reach this method.
func (s *Store) publish(cfg *Config) {
	s.current.Store(cfg)
}

// Load reads path, validates it, and returns a new Store. A missing file is
// not an error: the store starts from Default().
func Load(path string) (*Store, error) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return NewStore(path, cfg), nil
}
