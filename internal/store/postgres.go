package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/helixir/research-integrator/internal/domain"
)

var _ PreferencesStore = (*PgPreferencesStore)(nil)

// DBTX is the subset of *pgxpool.Pool the Postgres store needs; it is also
// satisfied by *database.DB and pgxmock pools.
type DBTX interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PgPreferencesStore keeps preferences in the user_preferences table.
type PgPreferencesStore struct {
	db  DBTX
	now func() time.Time
}

// NewPgPreferencesStore creates a PgPreferencesStore.
func NewPgPreferencesStore(db DBTX) *PgPreferencesStore {
	return &PgPreferencesStore{db: db, now: time.Now}
}

// Get implements PreferencesStore.
func (s *PgPreferencesStore) Get(ctx context.Context, userID string) (*domain.Preferences, error) {
	if err := requireUserID(userID); err != nil {
		return nil, err
	}

	query := `
		SELECT preferences, updated_at
		FROM user_preferences
		WHERE user_id = $1`

	var (
		raw       []byte
		updatedAt time.Time
	)
	err := s.db.QueryRow(ctx, query, userID).Scan(&raw, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.DefaultPreferences(userID), nil
		}
		return nil, fmt.Errorf("failed to get preferences: %w", err)
	}

	var prefs domain.Preferences
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return nil, fmt.Errorf("failed to decode preferences for %s: %w", userID, err)
	}
	prefs.UserID = userID
	prefs.UpdatedAt = updatedAt.UTC()
	return &prefs, nil
}

// Put implements PreferencesStore with a single upsert.
func (s *PgPreferencesStore) Put(ctx context.Context, prefs *domain.Preferences) (*domain.Preferences, error) {
	if prefs == nil {
		return nil, domain.NewValidationError("preferences", "is required")
	}
	if err := requireUserID(prefs.UserID); err != nil {
		return nil, err
	}

	raw, err := json.Marshal(prefs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode preferences: %w", err)
	}

	query := `
		INSERT INTO user_preferences (user_id, preferences, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO UPDATE SET
			preferences = EXCLUDED.preferences,
			updated_at = EXCLUDED.updated_at
		RETURNING updated_at`

	var updatedAt time.Time
	if err := s.db.QueryRow(ctx, query, prefs.UserID, raw, s.now().UTC()).Scan(&updatedAt); err != nil {
		return nil, fmt.Errorf("failed to save preferences: %w", err)
	}

	out := clonePreferences(prefs)
	out.UpdatedAt = updatedAt.UTC()
	return out, nil
}

// Ping implements PreferencesStore.
func (s *PgPreferencesStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
