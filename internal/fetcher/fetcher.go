// Package fetcher resolves paper ids to full paper records, batching upstream
// lookups per source and serving repeats from cache.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/helixir/research-integrator/internal/cache"
	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/papersources"
	"github.com/helixir/research-integrator/internal/resilience"
)

// Defaults for Config.
const (
	DefaultCacheTTL = time.Hour
	MaxIDs          = 100
)

// fullTextSuffix keeps full-text records apart from abstract-page records in
// the cache, since their URLs differ.
const fullTextSuffix = "#fulltext"

// Config tunes the fetcher.
type Config struct {
	// CacheTTL is how long a fetched paper is reused.
	CacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	return c
}

// Result holds the resolved papers in request order and the ids that could
// not be resolved.
type Result struct {
	Papers  []*domain.Paper
	Missing []domain.MissingPaper
}

// Fetcher is the fetch coordinator. It is safe for concurrent use.
type Fetcher struct {
	cfg      Config
	registry *papersources.Registry
	executor *resilience.Executor
	papers   *cache.Cache[*domain.Paper]
	logger   zerolog.Logger

	// flight collapses identical in-flight batches from concurrent callers.
	flight singleflight.Group
}

// NewPaperCache creates the per-paper cache.
func NewPaperCache(capacity int, recorder cache.Recorder) (*cache.Cache[*domain.Paper], error) {
	return cache.New(cache.Options[*domain.Paper]{
		Name:     "paper",
		Capacity: capacity,
		Recorder: recorder,
	})
}

// New creates a Fetcher.
func New(cfg Config, registry *papersources.Registry, executor *resilience.Executor, papers *cache.Cache[*domain.Paper], logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		cfg:      cfg.withDefaults(),
		registry: registry,
		executor: executor,
		papers:   papers,
		logger:   logger.With().Str("component", "fetcher").Logger(),
	}
}

// request is one distinct, parsed id from the caller's list.
type request struct {
	raw   string
	id    domain.PaperID
	paper *domain.Paper
	miss  string
}

// Fetch resolves ids, preserving their order and collapsing duplicates.
//
// A malformed id rejects the whole request. Ids naming a source that is not
// registered, ids the source does not know and ids whose source could not be
// reached are reported in Result.Missing. When nothing resolves the error is
// a *domain.FetchError. If ctx ends first, ids still pending are reported as
// unavailable and whatever resolved is returned.
func (f *Fetcher) Fetch(ctx context.Context, ids []string, includeFullText bool) (*Result, error) {
	reqs, err := f.parse(ids)
	if err != nil {
		return nil, err
	}

	// Cache first; group the rest per source.
	pending := make(map[domain.SourceType][]*request)
	for _, r := range reqs {
		if r.miss != "" {
			continue
		}
		if p, ok := f.papers.Get(cacheKey(r.id, includeFullText)); ok {
			r.paper = p
			continue
		}
		if !f.registry.Has(r.id.Source) {
			r.miss = domain.MissingReasonUnknownSource
			continue
		}
		pending[r.id.Source] = append(pending[r.id.Source], r)
	}

	var wg sync.WaitGroup
	for tag, group := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.fetchGroup(ctx, tag, group, includeFullText)
		}()
	}
	wg.Wait()

	result := &Result{Papers: make([]*domain.Paper, 0, len(reqs))}
	for _, r := range reqs {
		if r.paper != nil {
			result.Papers = append(result.Papers, r.paper)
			continue
		}
		result.Missing = append(result.Missing, domain.MissingPaper{ID: r.raw, Reason: r.miss})
	}

	if len(result.Papers) == 0 {
		return nil, &domain.FetchError{Missing: result.Missing}
	}
	return result, nil
}

// Get resolves a single id. An id that does not resolve is reported as a
// *domain.NotFoundError for a paper; an unreachable source keeps its
// *domain.FetchError.
func (f *Fetcher) Get(ctx context.Context, id string) (*domain.Paper, error) {
	res, err := f.Fetch(ctx, []string{id}, false)
	if err != nil {
		var fetchErr *domain.FetchError
		if errors.As(err, &fetchErr) && len(fetchErr.Missing) == 1 &&
			fetchErr.Missing[0].Reason != domain.MissingReasonUnavailable {
			return nil, domain.NewNotFoundError("paper", id)
		}
		return nil, err
	}
	return res.Papers[0], nil
}

func (f *Fetcher) parse(ids []string) ([]*request, error) {
	if len(ids) == 0 {
		return nil, domain.NewValidationError("paper_ids", "must not be empty")
	}
	if len(ids) > MaxIDs {
		return nil, domain.NewValidationError("paper_ids", fmt.Sprintf("at most %d ids per request", MaxIDs))
	}

	seen := make(map[string]struct{}, len(ids))
	reqs := make([]*request, 0, len(ids))
	for _, raw := range ids {
		raw = strings.TrimSpace(raw)
		id, err := domain.ParsePaperID(raw)
		if err != nil {
			// Well-formed ids with a prefix we have never heard of are not the
			// caller's fault; they are simply unresolvable.
			prefix, native, ok := strings.Cut(raw, ":")
			if !ok || strings.TrimSpace(prefix) == "" || strings.TrimSpace(native) == "" {
				return nil, err
			}
			if _, dup := seen[raw]; !dup {
				seen[raw] = struct{}{}
				reqs = append(reqs, &request{raw: raw, miss: domain.MissingReasonUnknownSource})
			}
			continue
		}

		canonical := id.String()
		if _, dup := seen[canonical]; dup {
			continue
		}
		seen[canonical] = struct{}{}
		reqs = append(reqs, &request{raw: canonical, id: id})
	}
	return reqs, nil
}

// fetchGroup resolves every pending id of one source with a single batched
// call and records each id's outcome on its request.
func (f *Fetcher) fetchGroup(ctx context.Context, tag domain.SourceType, group []*request, includeFullText bool) {
	src := f.registry.Get(tag)
	natives := make([]string, len(group))
	for i, r := range group {
		natives[i] = r.id.NativeID
	}

	v, err, _ := f.flight.Do(batchKey(tag, natives, includeFullText), func() (any, error) {
		var found map[string]*domain.Paper
		err := f.executor.Do(ctx, string(tag), func(ctx context.Context) error {
			var err error
			found, err = src.FetchByIDs(ctx, natives, papersources.FetchOptions{IncludeFullText: includeFullText})
			return err
		})
		return found, err
	})
	if err != nil {
		reason := domain.MissingReasonUnavailable
		if errors.Is(err, domain.ErrNotFound) && ctx.Err() == nil {
			reason = domain.MissingReasonNotFound
		}
		f.logger.Warn().Err(err).
			Str("source", string(tag)).
			Int("ids", len(group)).
			Msg("batched fetch failed")
		for _, r := range group {
			r.miss = reason
		}
		return
	}

	found := v.(map[string]*domain.Paper)
	for _, r := range group {
		p, ok := found[r.id.NativeID]
		if !ok || p == nil {
			r.miss = domain.MissingReasonNotFound
			continue
		}
		r.paper = p
		f.papers.Set(cacheKey(r.id, includeFullText), p, f.cfg.CacheTTL)
	}
}

// batchKey identifies a batch regardless of the order its ids were asked in.
func batchKey(tag domain.SourceType, natives []string, fullText bool) string {
	sorted := slices.Clone(natives)
	slices.Sort(sorted)
	return fmt.Sprintf("%s|%t|%s", tag, fullText, strings.Join(sorted, "\x00"))
}

func cacheKey(id domain.PaperID, fullText bool) string {
	if fullText {
		return id.String() + fullTextSuffix
	}
	return id.String()
}
