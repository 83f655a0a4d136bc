package store

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/helixir/research-integrator/internal/domain"
)

var (
	_ SessionStore     = (*MemorySessionStore)(nil)
	_ PreferencesStore = (*MemoryPreferencesStore)(nil)
)

// MemorySessionStore keeps session contexts in process memory.
type MemorySessionStore struct {
	mu    sync.Mutex // serializes read-modify-write in Update
	items *cache.Cache
	ttl   time.Duration
	now   func() time.Time
}

// NewMemorySessionStore creates a MemorySessionStore whose entries expire
// ttl after their last write.
func NewMemorySessionStore(ttl time.Duration) *MemorySessionStore {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &MemorySessionStore{
		items: cache.New(ttl, ttl/2),
		ttl:   ttl,
		now:   time.Now,
	}
}

// Get implements SessionStore.
func (s *MemorySessionStore) Get(_ context.Context, sessionID string) (*domain.SessionContext, error) {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	v, ok := s.items.Get(sessionID)
	if !ok {
		return nil, contextNotFound(sessionID)
	}
	return copySession(v.(*domain.SessionContext)), nil
}

// Store implements SessionStore.
func (s *MemorySessionStore) Store(_ context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error) {
	sessionID = sessionIDOrNew(sessionID)
	sc := &domain.SessionContext{
		SessionID: sessionID,
		Data:      cloneData(data),
		UpdatedAt: s.now().UTC(),
	}

	s.mu.Lock()
	s.items.Set(sessionID, sc, s.ttl)
	s.mu.Unlock()
	return copySession(sc), nil
}

// Update implements SessionStore.
func (s *MemorySessionStore) Update(_ context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error) {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.items.Get(sessionID)
	if !ok {
		return nil, contextNotFound(sessionID)
	}
	sc := &domain.SessionContext{
		SessionID: sessionID,
		Data:      merge(v.(*domain.SessionContext).Data, data),
		UpdatedAt: s.now().UTC(),
	}
	s.items.Set(sessionID, sc, s.ttl)
	return copySession(sc), nil
}

// Delete implements SessionStore.
func (s *MemorySessionStore) Delete(_ context.Context, sessionID string) error {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items.Get(sessionID); !ok {
		return contextNotFound(sessionID)
	}
	s.items.Delete(sessionID)
	return nil
}

// Ping implements SessionStore.
func (s *MemorySessionStore) Ping(context.Context) error { return nil }

func copySession(sc *domain.SessionContext) *domain.SessionContext {
	out := *sc
	out.Data = cloneData(sc.Data)
	return &out
}

// MemoryPreferencesStore keeps preferences in process memory.
type MemoryPreferencesStore struct {
	items *cache.Cache
	now   func() time.Time
}

// NewMemoryPreferencesStore creates an empty MemoryPreferencesStore.
func NewMemoryPreferencesStore() *MemoryPreferencesStore {
	return &MemoryPreferencesStore{
		items: cache.New(cache.NoExpiration, 0),
		now:   time.Now,
	}
}

// Get implements PreferencesStore.
func (s *MemoryPreferencesStore) Get(_ context.Context, userID string) (*domain.Preferences, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}
	v, ok := s.items.Get(userID)
	if !ok {
		return domain.DefaultPreferences(userID), nil
	}
	return clonePreferences(v.(*domain.Preferences)), nil
}

// Put implements PreferencesStore.
func (s *MemoryPreferencesStore) Put(_ context.Context, prefs *domain.Preferences) (*domain.Preferences, error) {
	if prefs == nil {
		return nil, domain.NewValidationError("preferences", "is required")
	}
	if err := requireUserID(prefs.UserID); err != nil {
		return nil, err
	}
	stored := clonePreferences(prefs)
	stored.UpdatedAt = s.now().UTC()
	s.items.Set(prefs.UserID, stored, cache.NoExpiration)
	return clonePreferences(stored), nil
}

// Ping implements PreferencesStore.
func (s *MemoryPreferencesStore) Ping(context.Context) error { return nil }
