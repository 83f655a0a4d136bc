// Package store persists per-session context and per-user preferences.
//
// Session contexts are opaque key-value maps that expire after a period
// without writes. Preferences never expire; a user without stored
// preferences reads domain.DefaultPreferences.
//
// Backends:
//
//   - memory: process-local, backed by github.com/patrickmn/go-cache
//   - redis: session contexts shared across replicas
//   - postgres: preferences in a JSONB column
//
// All implementations are safe for concurrent use.
package store

import (
	"context"
	"maps"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/helixir/research-integrator/internal/domain"
)

// DefaultSessionTTL is how long a session context lives after its last write.
const DefaultSessionTTL = 24 * time.Hour

// SessionStore holds session contexts.
type SessionStore interface {
	// Get returns the context for sessionID, or a *domain.NotFoundError.
	Get(ctx context.Context, sessionID string) (*domain.SessionContext, error)

	// Store replaces the context for sessionID. An empty sessionID is
	// replaced with a generated one.
	Store(ctx context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error)

	// Update merges data into the existing context, key by key. The session
	// must exist.
	Update(ctx context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error)

	// Delete removes the context for sessionID, or returns a *domain.NotFoundError.
	Delete(ctx context.Context, sessionID string) error

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// PreferencesStore holds user preferences.
type PreferencesStore interface {
	// Get returns the user's preferences, or the defaults when none are stored.
	Get(ctx context.Context, userID string) (*domain.Preferences, error)

	// Put replaces the user's preferences and returns them with UpdatedAt set.
	Put(ctx context.Context, prefs *domain.Preferences) (*domain.Preferences, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

func sessionIDOrNew(sessionID string) string {
	if sessionID = strings.TrimSpace(sessionID); sessionID != "" {
		return sessionID
	}
	return NewSessionID()
}

func contextNotFound(sessionID string) error {
	return domain.NewNotFoundError("context", sessionID)
}

func requireSessionID(sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", domain.NewValidationError("session_id", "is required")
	}
	return sessionID, nil
}

func requireUserID(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError("user_id", "is required")
	}
	return nil
}

// merge returns a copy of base with every key of patch applied on top.
func merge(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	maps.Copy(out, base)
	maps.Copy(out, patch)
	return out
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return maps.Clone(data)
}

func clonePreferences(p *domain.Preferences) *domain.Preferences {
	out := *p
	out.DefaultSources = append([]string(nil), p.DefaultSources...)
	if p.SummaryPreferences != nil {
		sp := *p.SummaryPreferences
		out.SummaryPreferences = &sp
	}
	if p.NotificationSettings != nil {
		ns := *p.NotificationSettings
		out.NotificationSettings = &ns
	}
	return &out
}
