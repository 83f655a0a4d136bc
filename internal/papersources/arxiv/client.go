package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/papersources"
)

const (
	// DefaultBaseURL is the default arXiv API base URL.
	DefaultBaseURL = "https://export.arxiv.org/api"

	// DefaultRateLimit follows arXiv's guidance of one request every three seconds.
	DefaultRateLimit = 1.0 / 3.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 1

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per request.
	DefaultMaxResults = 100

	// MaxResultsLimit is the largest slice the API returns per request.
	MaxResultsLimit = 2000

	sourceName = "arXiv"
)

// arxivIDRegex extracts the arXiv ID from the full URL.
// Matches patterns like "http://arxiv.org/abs/2301.12345v1" or "http://arxiv.org/abs/hep-th/9901001v1".
var arxivIDRegex = regexp.MustCompile(`arxiv\.org/abs/(.+?)(?:v\d+)?$`)

// versionSuffixRegex strips a trailing version from a requested id.
var versionSuffixRegex = regexp.MustCompile(`v\d+$`)

// Config holds configuration for the arXiv client.
type Config struct {
	// BaseURL is the arXiv API base URL.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the maximum results to return per search request.
	MaxResults int

	// UserAgent identifies this service to arXiv.
	UserAgent string
}

// applyDefaults sets default values for unset configuration fields.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
	}
	if c.BurstSize == 0 {
		c.BurstSize = DefaultBurstSize
	}
	if c.MaxResults == 0 {
		c.MaxResults = DefaultMaxResults
	}
	if c.UserAgent == "" {
		c.UserAgent = "Helixir-ResearchIntegrator/1.0"
	}
}

// Client implements the papersources.PaperSource interface for arXiv.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Ensure Client implements PaperSource interface.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a new arXiv client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    domain.SourceTypeArXiv,
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}),
	}
}

// NewWithHTTPClient creates a new arXiv client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()

	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries arXiv for papers matching the given parameters, ordered by relevance.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewSourceError(domain.SourceTypeArXiv, domain.ErrSourceInvalidQuery, 0, "empty query", nil)
	}

	searchURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, fmt.Errorf("building search URL: %w", err)
	}

	f, err := c.query(ctx, searchURL)
	if err != nil {
		return nil, err
	}

	papers := make([]*domain.Paper, 0, len(f.Entries))
	for i := range f.Entries {
		if paper := entryToPaper(&f.Entries[i], false); paper != nil {
			papers = append(papers, paper)
		}
	}

	return &papersources.SearchResult{
		Papers:         papers,
		TotalResults:   f.TotalResults,
		Source:         domain.SourceTypeArXiv,
		SearchDuration: time.Since(startTime),
	}, nil
}

// FetchByIDs resolves arXiv ids through one id_list query. Requested ids may
// carry a version suffix; results are keyed by the id as requested.
func (c *Client) FetchByIDs(ctx context.Context, ids []string, opts papersources.FetchOptions) (map[string]*domain.Paper, error) {
	out := make(map[string]*domain.Paper, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base URL: %w", err)
	}
	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"
	query := url.Values{}
	query.Set("id_list", strings.Join(ids, ","))
	query.Set("max_results", strconv.Itoa(len(ids)))
	baseURL.RawQuery = query.Encode()

	f, err := c.query(ctx, baseURL.String())
	if err != nil {
		return nil, err
	}

	// Map each unversioned id back to the id the caller asked for.
	requested := make(map[string]string, len(ids))
	for _, id := range ids {
		requested[versionSuffixRegex.ReplaceAllString(id, "")] = id
	}

	for i := range f.Entries {
		paper := entryToPaper(&f.Entries[i], opts.IncludeFullText)
		if paper == nil {
			continue
		}
		if asked, ok := requested[paper.NativeID()]; ok {
			if asked != paper.NativeID() {
				rekeyed, err := domain.NewPaper(domain.SourceTypeArXiv, asked, *paper)
				if err == nil {
					paper = rekeyed
				}
			}
			out[asked] = paper
		}
	}
	return out, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeArXiv
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// RateProfile returns the configured request budget.
func (c *Client) RateProfile() papersources.RateProfile {
	return papersources.RateProfile{RequestsPerSecond: c.config.RateLimit, Burst: c.config.BurstSize}
}

func (c *Client) query(ctx context.Context, rawURL string) (*feed, error) {
	body, err := c.httpClient.Get(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, domain.NewSourceError(domain.SourceTypeArXiv, domain.ErrSourceUnavailable, 0, "malformed Atom feed", err)
	}
	return &f, nil
}

// buildSearchURL constructs the arXiv search API URL.
func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	baseURL, err := url.Parse(c.config.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}

	baseURL.Path = strings.TrimRight(baseURL.Path, "/") + "/query"

	searchQuery := "all:" + params.Query
	if params.DateFrom != nil || params.DateTo != nil {
		searchQuery = searchQuery + " AND " + buildDateFilter(params.DateFrom, params.DateTo)
	}

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	maxResults = min(maxResults, MaxResultsLimit)

	query := url.Values{}
	query.Set("search_query", searchQuery)
	query.Set("max_results", strconv.Itoa(maxResults))
	if params.Offset > 0 {
		query.Set("start", strconv.Itoa(params.Offset))
	}
	query.Set("sortBy", "relevance")
	query.Set("sortOrder", "descending")

	baseURL.RawQuery = query.Encode()
	return baseURL.String(), nil
}

// buildDateFilter constructs the arXiv submittedDate range filter.
func buildDateFilter(from, to *time.Time) string {
	fromStr, toStr := "*", "*"
	if from != nil {
		fromStr = from.Format("20060102") + "0000"
	}
	if to != nil {
		toStr = to.Format("20060102") + "2359"
	}
	return fmt.Sprintf("submittedDate:[%s TO %s]", fromStr, toStr)
}

// entryToPaper converts an arXiv Atom entry to a domain Paper.
func entryToPaper(e *entry, fullText bool) *domain.Paper {
	if e == nil {
		return nil
	}

	arxivID := extractArXivID(e.ID)
	if arxivID == "" || strings.TrimSpace(e.Title) == "" {
		return nil
	}

	var pubDate *time.Time
	if t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published)); err == nil {
		pubDate = &t
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		authors = append(authors, a.Name)
	}

	keywords := make([]string, 0, len(e.Categories))
	for _, cat := range e.Categories {
		keywords = append(keywords, cat.Term)
	}

	landing := "https://arxiv.org/abs/" + arxivID
	pdfURL := ""
	for _, l := range e.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			pdfURL = l.Href
		}
		if l.Rel == "alternate" && l.Href != "" {
			landing = l.Href
		}
	}
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + arxivID
	}

	link := landing
	if fullText {
		link = pdfURL
	}

	paper, err := domain.NewPaper(domain.SourceTypeArXiv, arxivID, domain.Paper{
		Title:           e.Title,
		Authors:         authors,
		Abstract:        e.Summary,
		PublicationDate: pubDate,
		Journal:         e.JournalRef,
		DOI:             e.DOI,
		URL:             link,
		Keywords:        keywords,
	})
	if err != nil {
		return nil
	}
	return paper
}

// extractArXivID extracts the arXiv ID from the full entry URL.
// Input: "http://arxiv.org/abs/2301.12345v1" -> "2301.12345"
func extractArXivID(entryURL string) string {
	matches := arxivIDRegex.FindStringSubmatch(strings.TrimSpace(entryURL))
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}
