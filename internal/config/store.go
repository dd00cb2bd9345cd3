package config

import "sync/atomic"

// Store holds the live configuration behind an atomic pointer so the watcher
// can swap in a reloaded config while handlers and the queue manager keep
// reading a consistent snapshot.
type Store struct {
	v atomic.Pointer[Config]
}

// NewStore creates a store seeded with the startup configuration.
func NewStore(cfg *Config) *Store {
	s := &Store{}
	s.v.Store(cfg)
	return s
}

// Current returns the live configuration snapshot. Callers must not mutate it.
func (s *Store) Current() *Config {
	return s.v.Load()
}

// Swap replaces the live configuration.
func (s *Store) Swap(cfg *Config) {
	s.v.Store(cfg)
}
