package observability

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestRequestID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, RequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-123")
	assert.Equal(t, "req-123", RequestIDFromContext(ctx))
}

func TestUserID(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, UserIDFromContext(ctx))

	ctx = WithUserID(ctx, "u-1")
	assert.Equal(t, "u-1", UserIDFromContext(ctx))
	assert.Empty(t, RequestIDFromContext(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	t.Run("adds present fields", func(t *testing.T) {
		var buf bytes.Buffer
		ctx := WithUserID(WithRequestID(context.Background(), "req-1"), "u-1")

		LoggerFromContext(ctx, zerolog.New(&buf)).Info().Msg("x")

		assert.Contains(t, buf.String(), `"request_id":"req-1"`)
		assert.Contains(t, buf.String(), `"user_id":"u-1"`)
	})

	t.Run("omits absent fields", func(t *testing.T) {
		var buf bytes.Buffer
		LoggerFromContext(context.Background(), zerolog.New(&buf)).Info().Msg("x")

		assert.NotContains(t, buf.String(), "request_id")
		assert.NotContains(t, buf.String(), "user_id")
	})
}
