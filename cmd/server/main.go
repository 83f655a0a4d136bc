// Package main provides the entry point for the research integrator HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/aggregator"
	"github.com/helixir/research-integrator/internal/config"
	"github.com/helixir/research-integrator/internal/database"
	"github.com/helixir/research-integrator/internal/dedup"
	"github.com/helixir/research-integrator/internal/events"
	"github.com/helixir/research-integrator/internal/fetcher"
	"github.com/helixir/research-integrator/internal/llm"
	"github.com/helixir/research-integrator/internal/observability"
	"github.com/helixir/research-integrator/internal/papersources"
	"github.com/helixir/research-integrator/internal/papersources/arxiv"
	"github.com/helixir/research-integrator/internal/papersources/openalex"
	"github.com/helixir/research-integrator/internal/papersources/pubmed"
	"github.com/helixir/research-integrator/internal/ratelimit"
	"github.com/helixir/research-integrator/internal/resilience"
	httpserver "github.com/helixir/research-integrator/internal/server/http"
	"github.com/helixir/research-integrator/internal/store"
	"github.com/helixir/research-integrator/internal/summarizer"
)

const metricsNamespace = "research_integrator"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Set up structured logging.
	logger := observability.NewLogger(observability.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		AddSource:  cfg.Logging.AddSource,
		TimeFormat: cfg.Logging.TimeFormat,
	})
	logger = logger.With().Str("component", "server").Logger()
	logger.Info().Msg("research-integrator starting")

	// Set up context with graceful shutdown via OS signals.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics are always recorded; they are only exposed when enabled.
	var registerer prometheus.Registerer = prometheus.NewRegistry()
	if cfg.Metrics.Enabled {
		registerer = prometheus.DefaultRegisterer
	}
	metrics := observability.NewMetrics(metricsNamespace, registerer)

	// Storage backends.
	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	// Activity events.
	var publisher events.Publisher = events.NopPublisher{}
	if cfg.Kafka.Enabled {
		kp, err := events.NewKafkaPublisher(events.KafkaConfig{
			Brokers:      cfg.Kafka.Brokers,
			Topic:        cfg.Kafka.Topic,
			BatchTimeout: cfg.Kafka.BatchTimeout,
			Async:        true,
		}, logger)
		if err != nil {
			return fmt.Errorf("create kafka publisher: %w", err)
		}
		publisher = kp
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("kafka publisher configured")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close event publisher")
		}
	}()
	emitter := events.NewEmitter(publisher, logger)

	// Paper sources, each with its own token bucket.
	registry := newRegistry(cfg)
	limiter := ratelimit.New(ratelimit.DefaultProfile)
	for _, src := range registry.Sources() {
		rp := src.RateProfile()
		limiter.Configure(string(src.SourceType()), ratelimit.Profile{RequestsPerSecond: rp.RequestsPerSecond, Burst: rp.Burst})
	}
	limiter.Configure(summarizer.Tag, ratelimit.Profile{RequestsPerSecond: cfg.LLM.RateLimit, Burst: cfg.LLM.Burst})

	sourceExecutor := resilience.NewExecutor(limiter, retryPolicy(cfg.Resilience.Sources),
		resilience.WithRecorder(metrics),
		resilience.WithLogger(logger.With().Str("component", "source-executor").Logger()))
	llmExecutor := resilience.NewExecutor(limiter, retryPolicy(cfg.Resilience.LLM),
		resilience.WithRecorder(metrics),
		resilience.WithLogger(logger.With().Str("component", "llm-executor").Logger()))

	// Search.
	pools, err := aggregator.NewPoolCache(cfg.Search.CacheCapacity, metrics)
	if err != nil {
		return fmt.Errorf("create search cache: %w", err)
	}
	agg := aggregator.New(aggregator.Config{
		Timeout:  cfg.Search.Timeout,
		CacheTTL: cfg.Search.CacheTTL,
		Dedup:    dedup.Config{AuthorThreshold: cfg.Search.AuthorThreshold},
	}, registry, sourceExecutor, pools, logger,
		aggregator.WithPreferences(stores.preferences),
		aggregator.WithSessions(stores.sessions),
		aggregator.WithEmitter(emitter),
		aggregator.WithRecorder(metrics),
	)

	// Fetch.
	papers, err := fetcher.NewPaperCache(cfg.Fetch.CacheCapacity, metrics)
	if err != nil {
		return fmt.Errorf("create paper cache: %w", err)
	}
	fetch := fetcher.New(fetcher.Config{CacheTTL: cfg.Fetch.CacheTTL}, registry, sourceExecutor, papers, logger)

	// Summarization.
	active := cfg.LLM.Active()
	provider, err := llm.NewProvider(llm.FactoryConfig{
		Provider:    cfg.LLM.Provider,
		Model:       active.Model,
		APIKey:      active.APIKey,
		BaseURL:     active.BaseURL,
		Temperature: cfg.LLM.Temperature,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return fmt.Errorf("create llm provider: %w", err)
	}
	if _, disabled := provider.(llm.Disabled); disabled {
		logger.Warn().Str("provider", cfg.LLM.Provider).Msg("no LLM API key configured; summarization is disabled")
	}
	summaries, err := summarizer.NewSummaryCache(cfg.Summary.CacheCapacity, metrics)
	if err != nil {
		return fmt.Errorf("create summary cache: %w", err)
	}
	sum := summarizer.New(summarizer.Config{CacheTTL: cfg.Summary.CacheTTL}, fetch, provider, llmExecutor, summaries, logger,
		summarizer.WithPreferences(stores.preferences),
		summarizer.WithEmitter(emitter),
		summarizer.WithRecorder(metrics),
	)

	// HTTP API.
	httpCfg := httpserver.Config{
		Address:         cfg.Server.HTTPAddress(),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		APIKeys:         cfg.Auth.APIKeys,
		AllowedOrigins:  cfg.Server.CORSAllowedOrigins,
	}
	if len(httpCfg.APIKeys) == 0 {
		logger.Warn().Msg("no API keys configured; any bearer key is accepted")
	}

	httpSrv := httpserver.NewServer(httpCfg, httpserver.Services{
		Search:      agg,
		Fetch:       fetch,
		Summarize:   sum,
		Sessions:    stores.sessions,
		Preferences: stores.preferences,
		Emitter:     emitter,
		Readiness: map[string]httpserver.Pinger{
			"sessions":    stores.sessions,
			"preferences": stores.preferences,
		},
		Recorder: metrics,
	}, logger)

	// Set up Prometheus metrics handler on a separate port if configured.
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsMux := http.NewServeMux()
		metricsMux.Handle(cfg.Metrics.Path, promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress(),
			Handler:      metricsMux,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}
	}

	// Channel to collect server errors.
	errCh := make(chan error, 2)

	go func() {
		if err := httpSrv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if metricsServer != nil {
		go func() {
			logger.Info().
				Str("address", metricsServer.Addr).
				Msg("metrics server starting")
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics server error: %w", err)
			}
		}()
	}

	readyLog := logger.Info().
		Str("http_address", httpCfg.Address).
		Strs("sources", tagNames(registry)).
		Str("sessions", cfg.Storage.Sessions).
		Str("preferences", cfg.Storage.Preferences)
	if metricsServer != nil {
		readyLog = readyLog.Str("metrics_address", metricsServer.Addr)
	}
	readyLog.Msg("research-integrator is ready")

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info().Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	logger.Info().Msg("shutting down research-integrator")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("metrics server shutdown error")
		}
	}

	logger.Info().Msg("research-integrator shutdown complete")
	return nil
}

// newRegistry registers every enabled paper source.
func newRegistry(cfg *config.Config) *papersources.Registry {
	registry := papersources.NewRegistry()

	if c := cfg.PaperSources.PubMed; c.Enabled {
		registry.Register(pubmed.New(pubmed.Config{
			BaseURL:    c.BaseURL,
			APIKey:     c.APIKey,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			BurstSize:  c.Burst,
			MaxResults: c.MaxResults,
		}))
	}
	if c := cfg.PaperSources.ArXiv; c.Enabled {
		registry.Register(arxiv.New(arxiv.Config{
			BaseURL:    c.BaseURL,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			BurstSize:  c.Burst,
			MaxResults: c.MaxResults,
		}))
	}
	if c := cfg.PaperSources.OpenAlex; c.Enabled {
		registry.Register(openalex.New(openalex.Config{
			BaseURL:    c.BaseURL,
			Email:      c.Email,
			Timeout:    c.Timeout,
			RateLimit:  c.RateLimit,
			BurstSize:  c.Burst,
			MaxResults: c.MaxResults,
		}))
	}
	return registry
}

func tagNames(registry *papersources.Registry) []string {
	tags := registry.Tags()
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = string(t)
	}
	return out
}

func retryPolicy(c config.RetryPolicyConfig) resilience.Policy {
	return resilience.Policy{
		MaxAttempts: c.MaxAttempts,
		BaseDelay:   c.BaseDelay,
		MaxDelay:    c.MaxDelay,
		CallTimeout: c.CallTimeout,
	}
}

// storeSet holds the configured storage backends and what must be closed
// on shutdown.
type storeSet struct {
	sessions    store.SessionStore
	preferences store.PreferencesStore
	closers     []func()
}

func (s *storeSet) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*storeSet, error) {
	set := &storeSet{}

	switch cfg.Storage.Sessions {
	case config.BackendRedis:
		client, err := store.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			set.close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		set.closers = append(set.closers, func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("failed to close redis client")
			}
		})
		set.sessions = store.NewRedisSessionStore(client, store.RedisConfig{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Storage.SessionTTL,
		}, logger)
		logger.Info().Msg("redis session store connected")
	default:
		set.sessions = store.NewMemorySessionStore(cfg.Storage.SessionTTL)
	}

	switch cfg.Storage.Preferences {
	case config.BackendPostgres:
		db, err := database.New(ctx, &cfg.Database, logger)
		if err != nil {
			set.close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		set.closers = append(set.closers, db.Close)
		logger.Info().Msg("database connection established")

		if cfg.Database.MigrationAutoRun {
			if err := migrate(db, cfg.Database.MigrationPath, logger); err != nil {
				set.close()
				return nil, err
			}
		}
		set.preferences = store.NewPgPreferencesStore(db)
	default:
		set.preferences = store.NewMemoryPreferencesStore()
	}

	return set, nil
}

func migrate(db *database.DB, path string, logger zerolog.Logger) error {
	migrator, err := database.NewMigrator(db, path, logger)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	defer func() {
		if closeErr := migrator.Close(); closeErr != nil {
			logger.Error().Err(closeErr).Msg("failed to close migrator")
		}
	}()

	if err := migrator.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
