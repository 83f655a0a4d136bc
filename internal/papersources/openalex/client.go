package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for the OpenAlex API.
	DefaultBaseURL = "https://api.openalex.org"

	// DefaultRateLimit is the polite-pool request budget (10 requests/second).
	DefaultRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 5

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// MaxPerPage is the largest page the works endpoint serves.
	MaxPerPage = 200

	sourceName = "OpenAlex"

	idURLPrefix = "https://openalex.org/"

	// maxAbstractWords bounds abstract reconstruction on hostile payloads.
	maxAbstractWords = 100_000
)

var workIDPattern = regexp.MustCompile(`^W[0-9]+$`)

// Config holds the configuration for the OpenAlex client.
type Config struct {
	// BaseURL is the base URL for the OpenAlex API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Email is sent as the mailto parameter to join the polite pool.
	Email string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the default maximum results per search.
	MaxResults int

	// UserAgent identifies this service to OpenAlex.
	UserAgent string
}

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
		if c.Email != "" {
			c.UserAgent += " (mailto:" + c.Email + ")"
		}
	}
}

// Client implements papersources.PaperSource on top of OpenAlex and registers
// under the "other" tag.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

var _ papersources.PaperSource = (*Client)(nil)

// New creates a new OpenAlex client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    domain.SourceTypeOther,
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}),
	}
}

// NewWithHTTPClient creates a new OpenAlex client with a custom HTTP client.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries the works endpoint. Results keep OpenAlex relevance order.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewSourceError(domain.SourceTypeOther, domain.ErrSourceInvalidQuery, 0, "empty query", nil)
	}

	reqURL, err := c.buildSearchURL(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.getWorks(ctx, reqURL)
	if err != nil {
		return nil, fmt.Errorf("search works: %w", err)
	}

	result := &papersources.SearchResult{
		Papers:       make([]*domain.Paper, 0, len(resp.Results)),
		TotalResults: resp.Meta.Count,
		Source:       domain.SourceTypeOther,
	}
	for i := range resp.Results {
		if paper := workToPaper(&resp.Results[i], false); paper != nil {
			result.Papers = append(result.Papers, paper)
		}
	}

	result.SearchDuration = time.Since(startTime)
	return result, nil
}

// FetchByIDs resolves work ids with a single OR-filtered list request.
// Ids that are not OpenAlex work ids are treated as unknown.
func (c *Client) FetchByIDs(ctx context.Context, ids []string, opts papersources.FetchOptions) (map[string]*domain.Paper, error) {
	out := make(map[string]*domain.Paper, len(ids))

	valid := make([]string, 0, len(ids))
	for _, id := range ids {
		if id = normalizeWorkID(id); workIDPattern.MatchString(id) {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		return out, nil
	}

	u, err := url.Parse(c.config.BaseURL + "/works")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	q := u.Query()
	q.Set("filter", "openalex:"+strings.Join(valid, "|"))
	q.Set("per_page", strconv.Itoa(min(len(valid), MaxPerPage)))
	c.setMailto(q)
	u.RawQuery = q.Encode()

	resp, err := c.getWorks(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("fetch works: %w", err)
	}

	for i := range resp.Results {
		if paper := workToPaper(&resp.Results[i], opts.IncludeFullText); paper != nil {
			out[paper.NativeID()] = paper
		}
	}
	return out, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypeOther
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// RateProfile returns the configured request budget.
func (c *Client) RateProfile() papersources.RateProfile {
	return papersources.RateProfile{RequestsPerSecond: c.config.RateLimit, Burst: c.config.BurstSize}
}

func (c *Client) getWorks(ctx context.Context, reqURL string) (*worksResponse, error) {
	body, err := c.httpClient.Get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp worksResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, domain.NewSourceError(domain.SourceTypeOther, domain.ErrSourceUnavailable, 0, "malformed works response", err)
	}
	return &resp, nil
}

func (c *Client) buildSearchURL(params papersources.SearchParams) (string, error) {
	u, err := url.Parse(c.config.BaseURL + "/works")
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	perPage := params.MaxResults
	if perPage <= 0 {
		perPage = c.config.MaxResults
	}
	perPage = min(perPage, MaxPerPage)

	q := u.Query()
	q.Set("search", params.Query)
	q.Set("per_page", strconv.Itoa(perPage))
	if params.Offset > 0 {
		q.Set("page", strconv.Itoa(params.Offset/perPage+1))
	}
	if filters := buildFilters(params); len(filters) > 0 {
		q.Set("filter", strings.Join(filters, ","))
	}
	c.setMailto(q)
	u.RawQuery = q.Encode()

	return u.String(), nil
}

func (c *Client) setMailto(q url.Values) {
	if c.config.Email != "" {
		q.Set("mailto", c.config.Email)
	}
}

func buildFilters(params papersources.SearchParams) []string {
	var filters []string
	if params.DateFrom != nil {
		filters = append(filters, "from_publication_date:"+params.DateFrom.Format(time.DateOnly))
	}
	if params.DateTo != nil {
		filters = append(filters, "to_publication_date:"+params.DateTo.Format(time.DateOnly))
	}
	return filters
}

// workToPaper converts an OpenAlex work into a domain.Paper. It returns nil
// for records without a usable id or title.
func workToPaper(w *work, fullText bool) *domain.Paper {
	id := normalizeWorkID(w.ID)
	title := w.Title
	if title == "" {
		title = w.DisplayName
	}
	if !workIDPattern.MatchString(id) || strings.TrimSpace(title) == "" {
		return nil
	}

	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if name := strings.TrimSpace(a.Author.DisplayName); name != "" {
			authors = append(authors, name)
		}
	}

	var keywords []string
	for _, k := range w.Keywords {
		if k.DisplayName != "" {
			keywords = append(keywords, k.DisplayName)
		}
	}

	var journal string
	link := idURLPrefix + id
	if loc := w.PrimaryLocation; loc != nil {
		if loc.Source != nil {
			journal = loc.Source.DisplayName
		}
		if loc.LandingPageURL != "" {
			link = loc.LandingPageURL
		}
	}
	if fullText {
		if full := fullTextURL(w); full != "" {
			link = full
		}
	}

	paper, err := domain.NewPaper(domain.SourceTypeOther, id, domain.Paper{
		Title:           title,
		Authors:         authors,
		Abstract:        reconstructAbstract(w.AbstractInvertedIndex),
		PublicationDate: publicationDate(w),
		Journal:         journal,
		DOI:             w.DOI,
		URL:             link,
		Keywords:        keywords,
	})
	if err != nil {
		return nil
	}
	return paper
}

func fullTextURL(w *work) string {
	if w.PrimaryLocation != nil && w.PrimaryLocation.PDFURL != "" {
		return w.PrimaryLocation.PDFURL
	}
	if w.OpenAccess != nil && w.OpenAccess.IsOA {
		return w.OpenAccess.OAURL
	}
	return ""
}

func publicationDate(w *work) *time.Time {
	if t, err := time.Parse(time.DateOnly, w.PublicationDate); err == nil {
		return &t
	}
	if w.PublicationYear > 0 {
		t := time.Date(w.PublicationYear, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

// normalizeWorkID strips the URL prefix from an OpenAlex id and upper-cases
// the entity letter.
func normalizeWorkID(id string) string {
	id = strings.TrimSpace(id)
	id = strings.TrimPrefix(id, idURLPrefix)
	if len(id) > 0 && id[0] == 'w' {
		id = "W" + id[1:]
	}
	return id
}

// reconstructAbstract rebuilds plain text from an inverted index.
func reconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	type posWord struct {
		pos  int
		word string
	}
	total := 0
	for _, positions := range invertedIndex {
		total += len(positions)
	}
	if total > maxAbstractWords {
		return ""
	}

	pairs := make([]posWord, 0, total)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			pairs = append(pairs, posWord{pos: pos, word: word})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		return pairs[i].pos < pairs[j].pos
	})

	var b strings.Builder
	b.Grow(total * 7)
	for i, p := range pairs {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(p.word)
	}
	return b.String()
}
