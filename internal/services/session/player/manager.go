package player

import (
	"context"
	"sync"
	"time"

	"telestream/internal/domain"
)

type PreferenceRepository interface {
	Get(ctx context.Context, id domain.MediaID) (domain.MediaPreferences, bool, error)
	Put(ctx context.Context, prefs domain.MediaPreferences) error
}

// PreferencesManager fronts the preference repository with an in-process
// cache. Reads hit the repository once per media id; writes go through to the
// repository first and update the cache only on success, so the cache never
// holds state the store rejected.
type PreferencesManager struct {
	repo    PreferenceRepository
	timeout time.Duration
	mu      sync.RWMutex
	cache   map[domain.MediaID]domain.MediaPreferences
}

func NewPreferencesManager(repo PreferenceRepository) *PreferencesManager {
	return &PreferencesManager{
		repo:    repo,
		timeout: 5 * time.Second,
		cache:   make(map[domain.MediaID]domain.MediaPreferences),
	}
}

func (m *PreferencesManager) Get(ctx context.Context, id domain.MediaID) (domain.MediaPreferences, bool, error) {
	m.mu.RLock()
	prefs, ok := m.cache[id]
	m.mu.RUnlock()
	if ok {
		return prefs, true, nil
	}

	if m.repo == nil {
		return domain.MediaPreferences{}, false, nil
	}

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	prefs, found, err := m.repo.Get(ctx, id)
	if err != nil {
		return domain.MediaPreferences{}, false, err
	}
	if found {
		m.mu.Lock()
		m.cache[id] = prefs
		m.mu.Unlock()
	}
	return prefs, found, nil
}

func (m *PreferencesManager) Put(ctx context.Context, prefs domain.MediaPreferences) error {
	if m.repo != nil {
		ctx, cancel := context.WithTimeout(ctx, m.timeout)
		defer cancel()

		if err := m.repo.Put(ctx, prefs); err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.cache[prefs.MediaID] = prefs
	m.mu.Unlock()
	return nil
}
