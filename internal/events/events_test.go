package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-integrator/internal/domain"
)

type fakeWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func TestNewKafkaPublisher_Validation(t *testing.T) {
	_, err := NewKafkaPublisher(KafkaConfig{Topic: "t"}, zerolog.Nop())
	assert.Error(t, err)

	_, err = NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}}, zerolog.Nop())
	assert.Error(t, err)

	p, err := NewKafkaPublisher(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "activity"}, zerolog.Nop())
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}

func TestKafkaPublisher_Publish(t *testing.T) {
	w := &fakeWriter{}
	p := newKafkaPublisher(w, "activity", zerolog.Nop())

	event, err := domain.NewActivityEvent(domain.EventTypeSearchCompleted, "user-1", domain.SearchCompletedPayload{Query: "crispr", Total: 3})
	require.NoError(t, err)

	require.NoError(t, p.Publish(context.Background(), event))
	require.Len(t, w.messages, 1)

	msg := w.messages[0]
	assert.Equal(t, []byte("user-1"), msg.Key)
	assert.Equal(t, "event_type", msg.Headers[0].Key)
	assert.Equal(t, []byte(domain.EventTypeSearchCompleted), msg.Headers[0].Value)

	var decoded domain.ActivityEvent
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.Equal(t, event.EventID, decoded.EventID)
	assert.JSONEq(t, `{"query":"crispr","sources":null,"total":3,"returned":0,"cache_hit":false}`, string(decoded.Payload))

	t.Run("nil event is ignored", func(t *testing.T) {
		require.NoError(t, p.Publish(context.Background(), nil))
		assert.Len(t, w.messages, 1)
	})

	t.Run("writer errors are wrapped", func(t *testing.T) {
		w.err = errors.New("broker down")
		err := p.Publish(context.Background(), event)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "broker down")
	})

	require.NoError(t, p.Close())
	assert.True(t, w.closed)
}

func TestEmitter(t *testing.T) {
	t.Run("publishes typed events", func(t *testing.T) {
		w := &fakeWriter{}
		e := NewEmitter(newKafkaPublisher(w, "activity", zerolog.Nop()), zerolog.Nop())

		e.SummaryGenerated(context.Background(), "u", domain.SummaryGeneratedPayload{PaperID: "arxiv:1", WordCount: 10})
		e.PreferencesSaved(context.Background(), "u", domain.PreferencesSavedPayload{DefaultLimit: 5})
		e.SearchCompleted(context.Background(), "u", domain.SearchCompletedPayload{Query: "q"})

		require.Len(t, w.messages, 3)
		types := make([]string, 0, 3)
		for _, m := range w.messages {
			types = append(types, string(m.Headers[0].Value))
		}
		assert.Equal(t, []string{
			domain.EventTypeSummaryGenerated,
			domain.EventTypePreferencesSaved,
			domain.EventTypeSearchCompleted,
		}, types)
	})

	t.Run("publish failures are logged not returned", func(t *testing.T) {
		var buf bytes.Buffer
		w := &fakeWriter{err: errors.New("broker down")}
		e := NewEmitter(newKafkaPublisher(w, "activity", zerolog.Nop()), zerolog.New(&buf))

		e.Emit(context.Background(), domain.EventTypeSearchCompleted, "u", map[string]string{})
		assert.Contains(t, buf.String(), "failed to publish activity event")
	})

	t.Run("cancelled request context still publishes", func(t *testing.T) {
		w := &fakeWriter{}
		e := NewEmitter(&ctxCheckingPublisher{inner: newKafkaPublisher(w, "activity", zerolog.Nop())}, zerolog.Nop())

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		e.Emit(ctx, domain.EventTypeSearchCompleted, "u", nil)
		assert.Len(t, w.messages, 1)
	})

	t.Run("nil emitter and nil publisher are safe", func(t *testing.T) {
		var e *Emitter
		e.Emit(context.Background(), "x", "u", nil)

		NewEmitter(nil, zerolog.Nop()).Emit(context.Background(), "x", "u", nil)
	})
}

type ctxCheckingPublisher struct {
	inner Publisher
}

func (p *ctxCheckingPublisher) Publish(ctx context.Context, event *domain.ActivityEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.inner.Publish(ctx, event)
}

func (p *ctxCheckingPublisher) Close() error { return p.inner.Close() }
