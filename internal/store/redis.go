package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/domain"
)

var _ SessionStore = (*RedisSessionStore)(nil)

const (
	// DefaultRedisKeyPrefix namespaces session keys.
	DefaultRedisKeyPrefix = "resint:session:"

	// maxUpdateAttempts bounds optimistic-lock retries in Update.
	maxUpdateAttempts = 10
)

// RedisConfig configures a RedisSessionStore.
type RedisConfig struct {
	KeyPrefix string
	TTL       time.Duration
}

// redisSession is the stored JSON form of a session context.
type redisSession struct {
	Data      map[string]any `json:"data"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// RedisSessionStore keeps session contexts in Redis, one key per session,
// expiring TTL after the last write.
type RedisSessionStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
	logger zerolog.Logger
}

// NewRedisClient parses url and verifies the server answers.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = 10
	opts.MinIdleConns = 2
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// NewRedisSessionStore creates a RedisSessionStore on client.
func NewRedisSessionStore(client redis.UniversalClient, cfg RedisConfig, logger zerolog.Logger) *RedisSessionStore {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultRedisKeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	return &RedisSessionStore{
		client: client,
		prefix: cfg.KeyPrefix,
		ttl:    cfg.TTL,
		now:    time.Now,
		logger: logger.With().Str("component", "redis_session_store").Logger(),
	}
}

func (s *RedisSessionStore) key(sessionID string) string {
	return s.prefix + sessionID
}

// Get implements SessionStore.
func (s *RedisSessionStore) Get(ctx context.Context, sessionID string) (*domain.SessionContext, error) {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	raw, err := s.client.Get(ctx, s.key(sessionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, contextNotFound(sessionID)
		}
		return nil, fmt.Errorf("failed to get session context: %w", err)
	}
	return decodeSession(sessionID, raw)
}

// Store implements SessionStore.
func (s *RedisSessionStore) Store(ctx context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error) {
	sc := &domain.SessionContext{
		SessionID: sessionIDOrNew(sessionID),
		Data:      cloneData(data),
		UpdatedAt: s.now().UTC(),
	}
	raw, err := encodeSession(sc)
	if err != nil {
		return nil, err
	}
	if err := s.client.Set(ctx, s.key(sc.SessionID), raw, s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to store session context: %w", err)
	}
	return sc, nil
}

// Update implements SessionStore. Concurrent updates of the same session are
// serialized with WATCH; a lost race is retried.
func (s *RedisSessionStore) Update(ctx context.Context, sessionID string, data map[string]any) (*domain.SessionContext, error) {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	key := s.key(sessionID)

	var updated *domain.SessionContext
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return contextNotFound(sessionID)
			}
			return err
		}
		current, err := decodeSession(sessionID, raw)
		if err != nil {
			return err
		}

		next := &domain.SessionContext{
			SessionID: sessionID,
			Data:      merge(current.Data, data),
			UpdatedAt: s.now().UTC(),
		}
		encoded, err := encodeSession(next)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		if err == nil {
			updated = next
		}
		return err
	}

	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return updated, nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			var notFound *domain.NotFoundError
			if errors.As(err, &notFound) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to update session context: %w", err)
		}
		s.logger.Debug().Str("session_id", sessionID).Int("attempt", attempt).Msg("session update raced, retrying")
	}
	return nil, fmt.Errorf("failed to update session context %s: too much contention", sessionID)
}

// Delete implements SessionStore.
func (s *RedisSessionStore) Delete(ctx context.Context, sessionID string) error {
	sessionID, err := requireSessionID(sessionID)
	if err != nil {
		return err
	}
	n, err := s.client.Del(ctx, s.key(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete session context: %w", err)
	}
	if n == 0 {
		return contextNotFound(sessionID)
	}
	return nil
}

// Ping implements SessionStore.
func (s *RedisSessionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func encodeSession(sc *domain.SessionContext) ([]byte, error) {
	raw, err := json.Marshal(redisSession{Data: sc.Data, UpdatedAt: sc.UpdatedAt})
	if err != nil {
		return nil, fmt.Errorf("failed to encode session context: %w", err)
	}
	return raw, nil
}

func decodeSession(sessionID string, raw []byte) (*domain.SessionContext, error) {
	var stored redisSession
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("failed to decode session context %s: %w", sessionID, err)
	}
	return &domain.SessionContext{
		SessionID: sessionID,
		Data:      cloneData(stored.Data),
		UpdatedAt: stored.UpdatedAt,
	}, nil
}
