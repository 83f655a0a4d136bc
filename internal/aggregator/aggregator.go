// Package aggregator fans a search out to every requested paper source and
// merges the answers into one deduplicated, ranked and paginated result.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/research-integrator/internal/cache"
	"github.com/helixir/research-integrator/internal/dedup"
	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/events"
	"github.com/helixir/research-integrator/internal/papersources"
	"github.com/helixir/research-integrator/internal/resilience"
)

// Defaults for Config.
const (
	DefaultTimeout  = 20 * time.Second
	DefaultCacheTTL = 5 * time.Minute

	// WindowSize is the pagination bucket. Every page whose end falls within
	// the same bucket is cut from one cached, ranked pool.
	WindowSize = 100
)

// Config tunes the aggregator.
type Config struct {
	// Timeout bounds the whole fan-out. Sources still pending when it fires
	// are reported as failed and the rest is returned.
	Timeout time.Duration

	// CacheTTL is how long a ranked pool is reused.
	CacheTTL time.Duration

	Dedup dedup.Config
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// PreferencesReader looks up per-user defaults.
type PreferencesReader interface {
	Get(ctx context.Context, userID string) (*domain.Preferences, error)
}

// SessionReader looks up per-session context.
type SessionReader interface {
	Get(ctx context.Context, sessionID string) (*domain.SessionContext, error)
}

// Recorder receives per-search telemetry. observability.Metrics implements it.
type Recorder interface {
	RecordSearch(outcome string, duration time.Duration)
}

// Search outcomes reported to the Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeDegraded = "degraded"
	OutcomeFailed   = "failed"
	OutcomeRejected = "rejected"
)

type nopRecorder struct{}

func (nopRecorder) RecordSearch(string, time.Duration) {}

// Pool is the ranked, filtered candidate list a page is cut from.
type Pool struct {
	Papers        []*domain.Paper
	FailedSources []domain.SourceFailure
}

// NewPoolCache creates the pool cache. Degraded pools are never stored, so a
// source that recovers is picked up by the next search.
func NewPoolCache(capacity int, recorder cache.Recorder) (*cache.Cache[*Pool], error) {
	return cache.New(cache.Options[*Pool]{
		Name:     "search",
		Capacity: capacity,
		Recorder: recorder,
		Admit: func(p *Pool) bool {
			return p != nil && len(p.FailedSources) == 0
		},
	})
}

// Aggregator runs searches. It is safe for concurrent use.
type Aggregator struct {
	cfg      Config
	registry *papersources.Registry
	executor *resilience.Executor
	pools    *cache.Cache[*Pool]
	prefs    PreferencesReader
	sessions SessionReader
	emitter  *events.Emitter
	recorder Recorder
	logger   zerolog.Logger
}

// Option customizes an Aggregator.
type Option func(*Aggregator)

// WithPreferences sets the source of per-user defaults.
func WithPreferences(r PreferencesReader) Option {
	return func(a *Aggregator) { a.prefs = r }
}

// WithSessions sets the source of per-session defaults.
func WithSessions(r SessionReader) Option {
	return func(a *Aggregator) { a.sessions = r }
}

// WithEmitter sets the activity event emitter.
func WithEmitter(e *events.Emitter) Option {
	return func(a *Aggregator) { a.emitter = e }
}

// WithRecorder sets the telemetry sink.
func WithRecorder(r Recorder) Option {
	return func(a *Aggregator) {
		if r != nil {
			a.recorder = r
		}
	}
}

// New creates an Aggregator.
func New(
	cfg Config,
	registry *papersources.Registry,
	executor *resilience.Executor,
	pools *cache.Cache[*Pool],
	logger zerolog.Logger,
	opts ...Option,
) *Aggregator {
	a := &Aggregator{
		cfg:      cfg.withDefaults(),
		registry: registry,
		executor: executor,
		pools:    pools,
		recorder: nopRecorder{},
		logger:   logger.With().Str("component", "aggregator").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Search resolves defaults, validates q and returns the requested page.
//
// A source that fails is listed in the result's FailedSources; only when every
// source fails is a *domain.AggregationError returned.
func (a *Aggregator) Search(ctx context.Context, q domain.SearchQuery) (*domain.SearchResult, error) {
	start := time.Now()

	if err := a.resolve(ctx, &q); err != nil {
		a.recorder.RecordSearch(OutcomeRejected, time.Since(start))
		return nil, err
	}

	window := fetchWindow(q.Offset, q.Limit)
	key := poolKey(q, window)

	var computed atomic.Bool
	own := make(chan collected, 1)
	pool, err := a.pools.GetOrCompute(ctx, key, a.cfg.CacheTTL, func(computeCtx context.Context) (*Pool, error) {
		computed.Store(true)
		p, err := a.collect(computeCtx, ctx, q, window)
		own <- collected{pool: p, err: err}
		return p, err
	})
	if err != nil && ctx.Err() != nil && computed.Load() {
		// This call started the fan-out, which stops when ctx ends; keep
		// whatever it gathered.
		c := <-own
		pool, err = c.pool, c.err
	}
	if err != nil {
		a.recorder.RecordSearch(OutcomeFailed, time.Since(start))
		return nil, fmt.Errorf("search %q: %w", q.Query, err)
	}

	result := &domain.SearchResult{
		Papers:        page(pool.Papers, q.Offset, q.Limit),
		Total:         len(pool.Papers),
		Query:         q.Query,
		Limit:         q.Limit,
		Offset:        q.Offset,
		Sources:       q.Sources,
		FailedSources: pool.FailedSources,
	}

	outcome := OutcomeOK
	if result.Degraded() {
		outcome = OutcomeDegraded
	}
	a.recorder.RecordSearch(outcome, time.Since(start))

	a.logger.Debug().
		Str("query", q.Query).
		Int("total", result.Total).
		Int("returned", len(result.Papers)).
		Bool("cache_hit", !computed.Load()).
		Msg("search completed")

	a.emitter.SearchCompleted(context.WithoutCancel(ctx), q.UserID, domain.SearchCompletedPayload{
		Query:         q.Query,
		Sources:       q.Sources,
		Total:         result.Total,
		Returned:      len(result.Papers),
		FailedSources: result.FailedSources,
		CacheHit:      !computed.Load(),
	})

	return result, nil
}

// resolve fills q's sources and limit from session context, preferences and
// built-in defaults, then validates it.
func (a *Aggregator) resolve(ctx context.Context, q *domain.SearchQuery) error {
	q.Query = domain.CollapseWhitespace(q.Query)

	var prefs *domain.Preferences
	loadPrefs := func() *domain.Preferences {
		if prefs == nil {
			prefs = a.preferences(ctx, q.UserID)
		}
		return prefs
	}

	requested := make([]string, 0, len(q.Sources))
	for _, s := range q.Sources {
		requested = append(requested, string(s))
	}
	// Stored defaults may name sources that are no longer registered.
	if len(requested) == 0 {
		requested = a.registered(a.sessionSources(ctx, q.SessionID))
	}
	if len(requested) == 0 {
		if p := loadPrefs(); p != nil {
			requested = a.registered(p.DefaultSources)
		}
	}

	sources, err := a.effectiveSources(requested)
	if err != nil {
		return err
	}
	q.Sources = sources

	if q.Limit == 0 {
		q.Limit = domain.DefaultSearchLimit
		if p := loadPrefs(); p != nil && p.DefaultLimit >= 1 && p.DefaultLimit <= domain.MaxSearchLimit {
			q.Limit = p.DefaultLimit
		}
	}

	return q.Validate()
}

// effectiveSources maps requested tags onto registered sources. An empty
// request or "all" selects every registered source. The result is sorted.
func (a *Aggregator) effectiveSources(requested []string) ([]domain.SourceType, error) {
	seen := make(map[domain.SourceType]struct{}, len(requested))
	var out []domain.SourceType

	for _, raw := range requested {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == "" {
			continue
		}
		if tag == domain.SourceAll {
			return a.allSources()
		}
		st := domain.SourceType(tag)
		if !a.registry.Has(st) {
			return nil, domain.NewValidationError("sources", fmt.Sprintf("unknown source %q", raw))
		}
		if _, dup := seen[st]; dup {
			continue
		}
		seen[st] = struct{}{}
		out = append(out, st)
	}

	if len(out) == 0 {
		return a.allSources()
	}
	slices.Sort(out)
	return out, nil
}

func (a *Aggregator) allSources() ([]domain.SourceType, error) {
	tags := a.registry.Tags()
	if len(tags) == 0 {
		return nil, domain.NewValidationError("sources", "no paper sources are configured")
	}
	return tags, nil
}

// registered keeps "all" and the tags of registered sources.
func (a *Aggregator) registered(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, raw := range tags {
		tag := strings.ToLower(strings.TrimSpace(raw))
		if tag == domain.SourceAll || a.registry.Has(domain.SourceType(tag)) {
			out = append(out, tag)
		}
	}
	return out
}

func (a *Aggregator) sessionSources(ctx context.Context, sessionID string) []string {
	if a.sessions == nil || sessionID == "" {
		return nil
	}
	sc, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			a.logger.Warn().Err(err).Str("session_id", sessionID).Msg("failed to load session defaults")
		}
		return nil
	}
	return sc.DefaultSources()
}

func (a *Aggregator) preferences(ctx context.Context, userID string) *domain.Preferences {
	if a.prefs == nil || userID == "" {
		return nil
	}
	p, err := a.prefs.Get(ctx, userID)
	if err != nil {
		a.logger.Warn().Err(err).Str("user_id", userID).Msg("failed to load preferences, using defaults")
		return nil
	}
	return p
}

type sourceOutcome struct {
	papers []*domain.Paper
	err    error
}

type collected struct {
	pool *Pool
	err  error
}

// collect queries every source concurrently, then merges, filters and ranks
// what came back. Results are combined in source-tag order regardless of
// which source answered first.
//
// The fan-out ends at cfg.Timeout or when caller ends, whichever comes
// first. Sources that have not answered by then are reported as timed out.
func (a *Aggregator) collect(ctx, caller context.Context, q domain.SearchQuery, window int) (*Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(caller, cancel)
	defer stop()

	params := papersources.SearchParams{
		Query:      q.Query,
		DateFrom:   q.Filters.DateFrom,
		DateTo:     q.Filters.DateTo,
		MaxResults: window,
	}

	type answer struct {
		i int
		sourceOutcome
	}
	answers := make(chan answer, len(q.Sources))
	for i, tag := range q.Sources {
		src := a.registry.Get(tag)
		go func() {
			var papers []*domain.Paper
			err := a.executor.Do(ctx, string(tag), func(ctx context.Context) error {
				res, err := src.Search(ctx, params)
				if err != nil {
					return err
				}
				papers = res.Papers
				return nil
			})
			answers <- answer{i: i, sourceOutcome: sourceOutcome{papers: papers, err: err}}
		}()
	}

	outcomes := make([]sourceOutcome, len(q.Sources))
	answered := make([]bool, len(q.Sources))
	record := func(ans answer) {
		outcomes[ans.i] = ans.sourceOutcome
		answered[ans.i] = true
	}
wait:
	for range q.Sources {
		select {
		case ans := <-answers:
			record(ans)
		case <-ctx.Done():
			break wait
		}
	}
	// Keep answers that landed together with the deadline.
drain:
	for {
		select {
		case ans := <-answers:
			record(ans)
		default:
			break drain
		}
	}
	for i := range outcomes {
		if !answered[i] {
			outcomes[i].err = fmt.Errorf("no answer before the search deadline: %w", context.DeadlineExceeded)
		}
	}

	var (
		failures []domain.SourceFailure
		errs     []error
		groups   = make([][]*domain.Paper, 0, len(outcomes))
	)
	for i, o := range outcomes {
		tag := q.Sources[i]
		if o.err != nil {
			reason := domain.FailureReason(o.err)
			a.logger.Warn().Err(o.err).
				Str("source", string(tag)).
				Str("reason", reason).
				Msg("source failed, continuing without it")
			failures = append(failures, domain.SourceFailure{Source: tag, Reason: reason})
			errs = append(errs, fmt.Errorf("%s: %w", tag, o.err))
			continue
		}
		groups = append(groups, o.papers)
	}

	if len(failures) == len(q.Sources) {
		return nil, &domain.AggregationError{Failures: failures, Errs: errs}
	}

	merged := dedup.Merge(a.cfg.Dedup, groups...)

	filtered := merged
	if !q.Filters.IsEmpty() {
		filtered = make([]*domain.Paper, 0, len(merged))
		for _, p := range merged {
			if q.Filters.Matches(p) {
				filtered = append(filtered, p)
			}
		}
	}

	Rank(filtered, q.Query)

	return &Pool{Papers: filtered, FailedSources: failures}, nil
}

// fetchWindow rounds offset+limit up to a multiple of WindowSize. Both are
// clamped to their valid ranges first so the window stays bounded.
func fetchWindow(offset, limit int) int {
	offset = min(max(offset, 0), domain.MaxSearchOffset)
	limit = min(max(limit, 1), domain.MaxSearchLimit)
	end := offset + limit
	return ((end + WindowSize - 1) / WindowSize) * WindowSize
}

// poolKey identifies a ranked pool. Limit and offset are left out so pages
// within one window share an entry.
func poolKey(q domain.SearchQuery, window int) string {
	sources := make([]string, len(q.Sources))
	for i, s := range q.Sources {
		sources[i] = string(s)
	}
	return strings.Join([]string{
		domain.NormalizeQuery(q.Query),
		strings.Join(sources, ","),
		q.Filters.String(),
		strconv.Itoa(window),
	}, "\x1f")
}

func page(papers []*domain.Paper, offset, limit int) []*domain.Paper {
	if offset >= len(papers) {
		return []*domain.Paper{}
	}
	end := min(offset+limit, len(papers))
	return papers[offset:end]
}
