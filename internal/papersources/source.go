// Package papersources provides interfaces and types for academic paper source adapters.
//
// Each upstream database (PubMed, arXiv) implements the PaperSource interface,
// translating provider responses into domain.Paper values and provider failures
// into the domain source error taxonomy. Adapters never retry and never rate
// limit on their own; the resilience package wraps every call with both.
//
// Example usage:
//
//	source := pubmed.New(cfg)
//	params := papersources.SearchParams{
//		Query:      "CRISPR gene editing",
//		MaxResults: 100,
//	}
//	result, err := source.Search(ctx, params)
package papersources

import (
	"context"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
)

// SearchParams defines the parameters for searching academic papers.
// All fields except Query are optional.
type SearchParams struct {
	// Query is the search query string (required).
	Query string

	// DateFrom filters papers published on or after this date.
	// If nil, no lower date bound is applied.
	DateFrom *time.Time

	// DateTo filters papers published on or before this date.
	// If nil, no upper date bound is applied.
	DateTo *time.Time

	// MaxResults limits the number of papers returned in a single request.
	// A value of 0 uses the source's default limit.
	MaxResults int

	// Offset specifies the starting position for paginated results.
	Offset int
}

// FetchOptions controls how FetchByIDs resolves papers.
type FetchOptions struct {
	// IncludeFullText asks the source to point URL at full text (PDF or
	// full-text page) instead of the abstract landing page where possible.
	IncludeFullText bool
}

// RateProfile is the upstream request budget a source is allowed to consume.
type RateProfile struct {
	RequestsPerSecond float64
	Burst             int
}

// SearchResult contains the results from a paper source search operation.
type SearchResult struct {
	// Papers contains the papers returned by the search, in source order.
	Papers []*domain.Paper

	// TotalResults is the total number of papers matching the query as
	// reported by the source. It may be an estimate.
	TotalResults int

	// Source identifies which paper source provided these results.
	Source domain.SourceType

	// SearchDuration is the time taken to execute the search,
	// including network latency and response parsing.
	SearchDuration time.Duration
}

// PaperSource defines the interface that all paper source adapters must implement.
type PaperSource interface {
	// Search queries the source for papers matching params.
	//
	// Failures are reported as *domain.SourceError wrapping one of
	// domain.ErrSourceUnavailable, domain.ErrSourceRateLimited or
	// domain.ErrSourceInvalidQuery.
	Search(ctx context.Context, params SearchParams) (*SearchResult, error)

	// FetchByIDs resolves native ids in a single batched request. The
	// returned map is keyed by native id; ids unknown to the source are
	// simply absent. Transport failures are domain.ErrSourceUnavailable.
	FetchByIDs(ctx context.Context, nativeIDs []string, opts FetchOptions) (map[string]*domain.Paper, error)

	// SourceType returns the tag this source registers under.
	SourceType() domain.SourceType

	// Name returns a human-readable name for logging and metrics.
	Name() string

	// RateProfile returns the request budget for this source.
	RateProfile() RateProfile
}
