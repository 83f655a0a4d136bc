package papersources

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-integrator/internal/domain"
)

func TestNewHTTPClient(t *testing.T) {
	t.Run("creates client with custom config", func(t *testing.T) {
		cfg := HTTPClientConfig{
			Source:       domain.SourceTypePubMed,
			Timeout:      15 * time.Second,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "test-key",
			APIKeyHeader: "X-API-Key",
		}

		client := NewHTTPClient(cfg)

		require.NotNil(t, client)
		assert.Equal(t, 15*time.Second, client.client.Timeout)
		assert.Equal(t, cfg.UserAgent, client.config.UserAgent)
		assert.Equal(t, cfg.APIKey, client.config.APIKey)
	})

	t.Run("applies default values", func(t *testing.T) {
		client := NewHTTPClient(HTTPClientConfig{})

		assert.Equal(t, 30*time.Second, client.client.Timeout)
		assert.Equal(t, "Helixir-ResearchIntegrator/1.0", client.config.UserAgent)
	})
}

func TestHTTPClient_Get(t *testing.T) {
	t.Run("returns body and sets headers", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "TestAgent/1.0", r.Header.Get("User-Agent"))
			assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("<ok/>"))
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{
			Source:       domain.SourceTypeArXiv,
			UserAgent:    "TestAgent/1.0",
			APIKey:       "secret",
			APIKeyHeader: "X-API-Key",
		})

		body, err := client.Get(context.Background(), server.URL)
		require.NoError(t, err)
		assert.Equal(t, "<ok/>", string(body))
	})

	t.Run("translates status codes without retrying", func(t *testing.T) {
		tests := []struct {
			status int
			kind   error
		}{
			{http.StatusTooManyRequests, domain.ErrSourceRateLimited},
			{http.StatusBadRequest, domain.ErrSourceInvalidQuery},
			{http.StatusRequestURITooLong, domain.ErrSourceInvalidQuery},
			{http.StatusUnprocessableEntity, domain.ErrSourceInvalidQuery},
			{http.StatusInternalServerError, domain.ErrSourceUnavailable},
			{http.StatusBadGateway, domain.ErrSourceUnavailable},
			{http.StatusForbidden, domain.ErrSourceUnavailable},
		}

		for _, tt := range tests {
			t.Run(http.StatusText(tt.status), func(t *testing.T) {
				var calls atomic.Int32
				server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					calls.Add(1)
					w.WriteHeader(tt.status)
					_, _ = w.Write([]byte("upstream said no"))
				}))
				defer server.Close()

				client := NewHTTPClient(HTTPClientConfig{Source: domain.SourceTypePubMed})
				_, err := client.Get(context.Background(), server.URL)

				require.Error(t, err)
				assert.ErrorIs(t, err, tt.kind)
				var srcErr *domain.SourceError
				require.ErrorAs(t, err, &srcErr)
				assert.Equal(t, tt.status, srcErr.StatusCode)
				assert.Equal(t, domain.SourceTypePubMed, srcErr.Source)
				assert.Equal(t, "upstream said no", srcErr.Message)
				assert.Equal(t, int32(1), calls.Load())
			})
		}
	})

	t.Run("captures retry-after on 429", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		client := NewHTTPClient(HTTPClientConfig{Source: domain.SourceTypeArXiv})
		_, err := client.Get(context.Background(), server.URL)

		var srcErr *domain.SourceError
		require.ErrorAs(t, err, &srcErr)
		assert.Equal(t, 2*time.Second, srcErr.RetryAfter)
	})

	t.Run("transport failure is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := server.URL
		server.Close()

		client := NewHTTPClient(HTTPClientConfig{Source: domain.SourceTypeArXiv})
		_, err := client.Get(context.Background(), url)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	})

	t.Run("deadline is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		client := NewHTTPClient(HTTPClientConfig{Source: domain.SourceTypePubMed})
		_, err := client.Get(ctx, server.URL)

		require.Error(t, err)
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller cancellation is passed through", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		client := NewHTTPClient(HTTPClientConfig{Source: domain.SourceTypePubMed})
		_, err := client.Get(ctx, "http://127.0.0.1:1")

		require.Error(t, err)
		assert.True(t, errors.Is(err, context.Canceled))
		assert.False(t, errors.Is(err, domain.ErrSourceUnavailable))
	})
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("0"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))

	future := time.Now().Add(90 * time.Second).UTC().Format(http.TimeFormat)
	d := parseRetryAfter(future)
	assert.Greater(t, d, 60*time.Second)
	assert.LessOrEqual(t, d, 90*time.Second)
}
