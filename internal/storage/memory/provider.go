// Package memory is an in-process preference store used when no Mongo
// instance is configured (single-user setups, tests). Same contract as the
// Mongo-backed repository, nothing survives a restart.
package memory

import (
	"context"
	"sync"

	"telestream/internal/domain"
)

type PreferenceStore struct {
	mu    sync.RWMutex
	prefs map[domain.MediaID]domain.MediaPreferences
}

func NewPreferenceStore() *PreferenceStore {
	return &PreferenceStore{prefs: make(map[domain.MediaID]domain.MediaPreferences)}
}

func (s *PreferenceStore) Get(_ context.Context, id domain.MediaID) (domain.MediaPreferences, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	prefs, ok := s.prefs[id]
	return prefs, ok, nil
}

func (s *PreferenceStore) Put(_ context.Context, prefs domain.MediaPreferences) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[prefs.MediaID] = prefs
	return nil
}
