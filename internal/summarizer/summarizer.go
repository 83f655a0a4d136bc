// Package summarizer produces LLM summaries of papers, caching them by paper,
// style and length.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/cache"
	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/events"
	"github.com/helixir/research-integrator/internal/llm"
	"github.com/helixir/research-integrator/internal/resilience"
)

// DefaultCacheTTL is how long a generated summary is reused.
const DefaultCacheTTL = 24 * time.Hour

// Tag is the rate-limit and retry tag for LLM calls.
const Tag = "llm"

// Outcomes passed to Recorder.RecordSummary.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeNotFound    = "not_found"
	OutcomeUnavailable = "unavailable"
)

// Config tunes the summarizer.
type Config struct {
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Request is a summarization request. Zero SummaryType and MaxLength take
// the user's defaults.
type Request struct {
	PaperID     string
	SummaryType domain.SummaryType
	MaxLength   int
	UserID      string
}

// PaperGetter resolves a single paper id.
type PaperGetter interface {
	Get(ctx context.Context, id string) (*domain.Paper, error)
}

// PreferencesReader looks up per-user defaults.
type PreferencesReader interface {
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
}

// Recorder receives summarization telemetry.
type Recorder interface {
	RecordSummary(outcome string, d time.Duration)
	RecordLLMUsage(provider, model string, inputTokens, outputTokens int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSummary(string, time.Duration)     {}
func (nopRecorder) RecordLLMUsage(string, string, int, int) {}

// Summarizer is the summarization pipeline. It is safe for concurrent use.
type Summarizer struct {
	cfg       Config
	papers    PaperGetter
	provider  llm.Provider
	executor  *resilience.Executor
	summaries *cache.Cache[*domain.Summary]
	prefs     PreferencesReader
	emitter   *events.Emitter
	recorder  Recorder
	now       func() time.Time
	logger    zerolog.Logger
}

// Option customizes a Summarizer.
type Option func(*Summarizer)

// WithPreferences sets the source of per-user summary defaults.
func WithPreferences(r PreferencesReader) Option {
	return func(s *Summarizer) { s.prefs = r }
}

// WithEmitter sets the activity event emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(s *Summarizer) { s.emitter = e }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(s *Summarizer) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithClock overrides the clock used for GeneratedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Summarizer) {
		if now != nil {
			s.now = now
		}
	}
}

// NewSummaryCache creates the summary cache.
func NewSummaryCache(capacity int, recorder cache.Recorder) (*cache.Cache[*domain.Summary], error) {
	return cache.New(cache.Options[*domain.Summary]{
		Name:     "summary",
		Capacity: capacity,
		Recorder: recorder,
	})
}

// New creates a Summarizer. The executor should carry the LLM retry policy.
func New(
	cfg Config,
	papers PaperGetter,
	provider llm.Provider,
	executor *resilience.Executor,
	summaries *cache.Cache[*domain.Summary],
	logger zerolog.Logger,
	opts ...Option,
) *Summarizer {
	s := &Summarizer{
		cfg:       cfg.withDefaults(),
		papers:    papers,
		provider:  provider,
		executor:  executor,
		summaries: summaries,
		recorder:  nopRecorder{},
		now:       time.Now,
		logger:    logger.With().Str("component", "summarizer").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Summarize returns the summary for req, generating it on a cache miss.
//
// Validation failures wrap domain.ErrInvalidInput and an unresolvable paper
// wraps domain.ErrPaperNotFound. A backend failure, after retries, wraps
// domain.ErrSummarizationUnavailable.
func (s *Summarizer) Summarize(ctx context.Context, req Request) (*domain.Summary, error) {
	start := time.Now()

	if err := s.resolve(ctx, &req); err != nil {
		s.recorder.RecordSummary(OutcomeRejected, time.Since(start))
		return nil, err
	}

	key := fmt.Sprintf("%s\x1f%s\x1f%d", req.PaperID, req.SummaryType, req.MaxLength)
	summary, err := s.summaries.GetOrCompute(ctx, key, s.cfg.CacheTTL, func(ctx context.Context) (*domain.Summary, error) {
		return s.generate(ctx, req)
	})
	if err != nil {
		s.recorder.RecordSummary(outcomeOf(err), time.Since(start))
		return nil, fmt.Errorf("summarize %s: %w", req.PaperID, err)
	}

	s.recorder.RecordSummary(OutcomeOK, time.Since(start))
	s.emitter.SummaryGenerated(ctx, req.UserID, domain.SummaryGeneratedPayload{
		PaperID:     summary.PaperID,
		SummaryType: summary.SummaryType,
		WordCount:   summary.WordCount,
	})
	return summary, nil
}

func (s *Summarizer) resolve(ctx context.Context, req *Request) error {
	req.PaperID = strings.TrimSpace(req.PaperID)
	if req.PaperID == "" {
		return domain.NewValidationError("paper_id", "must not be empty")
	}
	if id, err := domain.ParsePaperID(req.PaperID); err == nil {
		req.PaperID = id.String()
	}

	var defaults *domain.SummaryPreferences
	if (req.SummaryType == "" || req.MaxLength == 0) && s.prefs != nil && req.UserID != "" {
		prefs, err := s.prefs.Get(ctx, req.UserID)
		if err != nil {
			s.logger.Warn().Err(err).Str("user_id", req.UserID).Msg("failed to load preferences, using defaults")
		} else if prefs != nil {
			defaults = prefs.SummaryPreferences
		}
	}

	if req.SummaryType == "" {
		req.SummaryType = domain.DefaultSummaryType
		if defaults != nil && domain.SummaryType(defaults.DefaultType).IsValid() {
			req.SummaryType = domain.SummaryType(defaults.DefaultType)
		}
	}
	if req.MaxLength == 0 {
		req.MaxLength = domain.DefaultSummaryMaxLength
		if defaults != nil && defaults.MaxLength >= domain.MinSummaryMaxLength && defaults.MaxLength <= domain.MaxSummaryMaxLength {
			req.MaxLength = defaults.MaxLength
		}
	}

	if !req.SummaryType.IsValid() {
		return domain.NewValidationError("summary_type", "must be one of brief, detailed, technical")
	}
	if req.MaxLength < domain.MinSummaryMaxLength || req.MaxLength > domain.MaxSummaryMaxLength {
		return domain.NewValidationError("max_length",
			fmt.Sprintf("must be between %d and %d", domain.MinSummaryMaxLength, domain.MaxSummaryMaxLength))
	}
	return nil
}

func (s *Summarizer) generate(ctx context.Context, req Request) (*domain.Summary, error) {
	paper, err := s.papers.Get(ctx, req.PaperID)
	if err != nil {
		return nil, err
	}

	if _, disabled := s.provider.(llm.Disabled); disabled {
		return nil, fmt.Errorf("%w: %w", domain.ErrSummarizationUnavailable, llm.ErrNotConfigured)
	}

	system, prompt := BuildPrompt(paper, req.SummaryType, req.MaxLength)
	llmReq := llm.Request{
		System:    system,
		Prompt:    prompt,
		MaxTokens: req.MaxLength * 2,
	}

	var text string
	err = s.executor.Do(ctx, Tag, func(ctx context.Context) error {
		resp, err := s.provider.Complete(ctx, llmReq)
		if err != nil {
			return classify(err)
		}
		s.recorder.RecordLLMUsage(s.provider.Provider(), resp.Model, resp.InputTokens, resp.OutputTokens)

		text = strings.TrimSpace(resp.Text)
		if text == "" {
			return domain.NewSourceError(Tag, domain.ErrSourceUnavailable, 0, "empty completion", llm.ErrEmptyResponse)
		}
		return nil
	})
	if err != nil {
		s.logger.Warn().Err(err).
			Str("paper_id", req.PaperID).
			Str("provider", s.provider.Provider()).
			Msg("summarization failed")
		return nil, fmt.Errorf("%w: %w", domain.ErrSummarizationUnavailable, err)
	}

	text = truncateWords(text, req.MaxLength)
	return &domain.Summary{
		PaperID:     paper.ID,
		Text:        text,
		SummaryType: req.SummaryType,
		MaxLength:   req.MaxLength,
		WordCount:   len(strings.Fields(text)),
		GeneratedAt: s.now().UTC(),
	}, nil
}

// classify maps a provider error onto the retry taxonomy: throttling and
// transient failures are retried, anything else is permanent.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) && apiErr.IsRateLimited() {
		return domain.NewSourceError(Tag, domain.ErrSourceRateLimited, apiErr.StatusCode, "", err)
	}
	if llm.IsTransient(err) {
		status := 0
		if apiErr != nil {
			status = apiErr.StatusCode
		}
		return domain.NewSourceError(Tag, domain.ErrSourceUnavailable, status, "", err)
	}
	return resilience.Permanent(err)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return OutcomeRejected
	default:
		return OutcomeUnavailable
	}
}
