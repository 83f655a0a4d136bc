package events

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/domain"
)

// Emitter builds activity events and publishes them, logging failures
// instead of returning them. A nil *Emitter drops events.
type Emitter struct {
	publisher Publisher
	logger    zerolog.Logger
}

// NewEmitter creates an Emitter. A nil publisher is replaced by NopPublisher.
func NewEmitter(publisher Publisher, logger zerolog.Logger) *Emitter {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Emitter{
		publisher: publisher,
		logger:    logger.With().Str("component", "event_emitter").Logger(),
	}
}

// Emit publishes one event of eventType for userID.
func (e *Emitter) Emit(ctx context.Context, eventType, userID string, payload any) {
	if e == nil {
		return
	}

	event, err := domain.NewActivityEvent(eventType, userID, payload)
	if err != nil {
		e.logger.Error().Err(err).Str("event_type", eventType).Msg("failed to build activity event")
		return
	}

	// Delivery must not be cut short by the request finishing.
	if err := e.publisher.Publish(context.WithoutCancel(ctx), event); err != nil {
		e.logger.Warn().Err(err).
			Str("event_type", eventType).
			Str("event_id", event.EventID).
			Msg("failed to publish activity event")
		return
	}

	e.logger.Debug().
		Str("event_type", eventType).
		Str("event_id", event.EventID).
		Msg("published activity event")
}

// SearchCompleted emits a search.completed event.
func (e *Emitter) SearchCompleted(ctx context.Context, userID string, payload domain.SearchCompletedPayload) {
	e.Emit(ctx, domain.EventTypeSearchCompleted, userID, payload)
}

// SummaryGenerated emits a summary.generated event.
func (e *Emitter) SummaryGenerated(ctx context.Context, userID string, payload domain.SummaryGeneratedPayload) {
	e.Emit(ctx, domain.EventTypeSummaryGenerated, userID, payload)
}

// PreferencesSaved emits a preferences.saved event.
func (e *Emitter) PreferencesSaved(ctx context.Context, userID string, payload domain.PreferencesSavedPayload) {
	e.Emit(ctx, domain.EventTypePreferencesSaved, userID, payload)
}
