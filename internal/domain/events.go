package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Activity event types.
const (
	EventTypeSearchCompleted  = "search.completed"
	EventTypeSummaryGenerated = "summary.generated"
	EventTypePreferencesSaved = "preferences.saved"
)

// ActivityEvent is a user activity notification published after a request completes.
type ActivityEvent struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	UserID    string          `json:"user_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewActivityEvent creates a new activity event with the given parameters.
// The payload is JSON-serialized automatically.
func NewActivityEvent(eventType, userID string, payload interface{}) (*ActivityEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &ActivityEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		UserID:    userID,
		Payload:   payloadBytes,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// SearchCompletedPayload is the payload for search.completed events.
type SearchCompletedPayload struct {
	Query         string          `json:"query"`
	Sources       []SourceType    `json:"sources"`
	Total         int             `json:"total"`
	Returned      int             `json:"returned"`
	FailedSources []SourceFailure `json:"failed_sources,omitempty"`
	CacheHit      bool            `json:"cache_hit"`
}

// SummaryGeneratedPayload is the payload for summary.generated events.
type SummaryGeneratedPayload struct {
	PaperID     string      `json:"paper_id"`
	SummaryType SummaryType `json:"summary_type"`
	WordCount   int         `json:"word_count"`
}

// PreferencesSavedPayload is the payload for preferences.saved events.
type PreferencesSavedPayload struct {
	DefaultSources []string `json:"default_sources,omitempty"`
	DefaultLimit   int      `json:"default_limit,omitempty"`
}
