package pubmed

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/papersources"
)

const (
	// DefaultBaseURL is the base URL for NCBI E-utilities API.
	DefaultBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// DefaultRateLimit is the rate limit without an API key (3 requests/second).
	// With an API key, the limit increases to 10 requests/second.
	DefaultRateLimit = 3.0

	// KeyedRateLimit is the rate limit granted to requests carrying an API key.
	KeyedRateLimit = 10.0

	// DefaultBurstSize is the default burst size for rate limiting.
	DefaultBurstSize = 3

	// DefaultTimeout is the default request timeout.
	DefaultTimeout = 30 * time.Second

	// DefaultMaxResults is the default maximum results per search.
	DefaultMaxResults = 100

	// MaxResultsLimit is the maximum results allowed per request by the API.
	MaxResultsLimit = 10000

	sourceName = "PubMed"

	abstractURL = "https://pubmed.ncbi.nlm.nih.gov/%s/"
	pmcURL      = "https://www.ncbi.nlm.nih.gov/pmc/articles/%s/"
)

// Config holds the configuration for the PubMed client.
type Config struct {
	// BaseURL is the base URL for the E-utilities API.
	// Defaults to DefaultBaseURL if empty.
	BaseURL string

	// APIKey is the NCBI API key for higher rate limits.
	APIKey string

	// Timeout is the request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second. Defaults to
	// DefaultRateLimit, or KeyedRateLimit when an API key is set.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// MaxResults is the default maximum results per search.
	MaxResults int

	// UserAgent identifies this service to NCBI.
	UserAgent string
}

// applyDefaults applies default values to the config.
func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RateLimit == 0 {
		c.RateLimit = DefaultRateLimit
		if c.APIKey != "" {
			c.RateLimit = KeyedRateLimit
		}
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

// Client implements the papersources.PaperSource interface for PubMed.
type Client struct {
	config     Config
	httpClient *papersources.HTTPClient
}

// Compile-time check that Client implements PaperSource.
var _ papersources.PaperSource = (*Client)(nil)

// New creates a new PubMed client with the given configuration.
func New(cfg Config) *Client {
	cfg.applyDefaults()

	return &Client{
		config: cfg,
		httpClient: papersources.NewHTTPClient(papersources.HTTPClientConfig{
			Source:    domain.SourceTypePubMed,
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		}),
	}
}

// NewWithHTTPClient creates a new PubMed client with a custom HTTP client.
// This is useful for testing with mock servers.
func NewWithHTTPClient(cfg Config, httpClient *papersources.HTTPClient) *Client {
	cfg.applyDefaults()
	return &Client{
		config:     cfg,
		httpClient: httpClient,
	}
}

// Search queries PubMed for papers matching the given parameters.
// It performs a two-step search:
// 1. esearch.fcgi - retrieves PMIDs matching the query
// 2. efetch.fcgi - retrieves full article metadata for the PMIDs
//
// Papers are returned in esearch relevance order.
func (c *Client) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	startTime := time.Now()

	if strings.TrimSpace(params.Query) == "" {
		return nil, domain.NewSourceError(domain.SourceTypePubMed, domain.ErrSourceInvalidQuery, 0, "empty query", nil)
	}

	searchResult, err := c.esearch(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("esearch: %w", err)
	}

	result := &papersources.SearchResult{
		Papers:       []*domain.Paper{},
		TotalResults: searchResult.Count,
		Source:       domain.SourceTypePubMed,
	}

	// A phrase that matches nothing is an empty result, not an error.
	if searchResult.ErrorList != nil && len(searchResult.ErrorList.PhraseNotFound) > 0 && len(searchResult.IDList.IDs) == 0 {
		result.TotalResults = 0
		result.SearchDuration = time.Since(startTime)
		return result, nil
	}

	if len(searchResult.IDList.IDs) == 0 {
		result.SearchDuration = time.Since(startTime)
		return result, nil
	}

	articles, err := c.efetch(ctx, searchResult.IDList.IDs)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}

	byPMID := make(map[string]*domain.Paper, len(articles.Articles))
	for _, a := range articles.Articles {
		if paper := articleToPaper(a, false); paper != nil {
			byPMID[paper.NativeID()] = paper
		}
	}
	for _, pmid := range searchResult.IDList.IDs {
		if paper, ok := byPMID[pmid]; ok {
			result.Papers = append(result.Papers, paper)
		}
	}

	result.SearchDuration = time.Since(startTime)
	return result, nil
}

// FetchByIDs retrieves articles for the given PMIDs in one efetch call.
func (c *Client) FetchByIDs(ctx context.Context, pmids []string, opts papersources.FetchOptions) (map[string]*domain.Paper, error) {
	out := make(map[string]*domain.Paper, len(pmids))
	if len(pmids) == 0 {
		return out, nil
	}

	articles, err := c.efetch(ctx, pmids)
	if err != nil {
		return nil, fmt.Errorf("efetch: %w", err)
	}

	for _, a := range articles.Articles {
		if paper := articleToPaper(a, opts.IncludeFullText); paper != nil {
			out[paper.NativeID()] = paper
		}
	}
	return out, nil
}

// SourceType returns the source type identifier.
func (c *Client) SourceType() domain.SourceType {
	return domain.SourceTypePubMed
}

// Name returns the human-readable name for this source.
func (c *Client) Name() string {
	return sourceName
}

// RateProfile returns the configured request budget.
func (c *Client) RateProfile() papersources.RateProfile {
	return papersources.RateProfile{RequestsPerSecond: c.config.RateLimit, Burst: c.config.BurstSize}
}

// esearch performs a search query and returns matching PMIDs.
func (c *Client) esearch(ctx context.Context, params papersources.SearchParams) (*eSearchResult, error) {
	u, err := url.Parse(c.config.BaseURL + "/esearch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("term", params.Query)
	q.Set("retmode", "xml")
	q.Set("sort", "relevance")

	maxResults := params.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}
	if maxResults > MaxResultsLimit {
		maxResults = MaxResultsLimit
	}
	q.Set("retmax", strconv.Itoa(maxResults))

	if params.Offset > 0 {
		q.Set("retstart", strconv.Itoa(params.Offset))
	}

	if params.DateFrom != nil || params.DateTo != nil {
		q.Set("datetype", "pdat")
		// E-utilities requires both bounds when either is given.
		minDate, maxDate := "1800/01/01", "3000/12/31"
		if params.DateFrom != nil {
			minDate = params.DateFrom.Format("2006/01/02")
		}
		if params.DateTo != nil {
			maxDate = params.DateTo.Format("2006/01/02")
		}
		q.Set("mindate", minDate)
		q.Set("maxdate", maxDate)
	}

	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.httpClient.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result eSearchResult
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, domain.NewSourceError(domain.SourceTypePubMed, domain.ErrSourceUnavailable, 0, "malformed esearch response", err)
	}
	if result.Error != "" {
		return nil, domain.NewSourceError(domain.SourceTypePubMed, domain.ErrSourceInvalidQuery, 0, result.Error, nil)
	}

	return &result, nil
}

// efetch retrieves full article metadata for the given PMIDs.
func (c *Client) efetch(ctx context.Context, pmids []string) (*articleSet, error) {
	u, err := url.Parse(c.config.BaseURL + "/efetch.fcgi")
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}

	q := u.Query()
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(pmids, ","))
	q.Set("retmode", "xml")
	q.Set("rettype", "abstract")
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u.RawQuery = q.Encode()

	body, err := c.httpClient.Get(ctx, u.String())
	if err != nil {
		return nil, err
	}

	var result articleSet
	if err := xml.Unmarshal(body, &result); err != nil {
		return nil, domain.NewSourceError(domain.SourceTypePubMed, domain.ErrSourceUnavailable, 0, "malformed efetch response", err)
	}

	return &result, nil
}

// articleToPaper converts a PubMed article into a domain.Paper. It returns
// nil for records without a PMID or title.
func articleToPaper(a pubmedArticle, fullText bool) *domain.Paper {
	citation := a.Citation
	pmid := strings.TrimSpace(citation.PMID)
	if pmid == "" || strings.TrimSpace(citation.Article.Title) == "" {
		return nil
	}

	var pmcid string
	for _, aid := range a.Data.ArticleIDs.IDs {
		if aid.IDType == "pmc" {
			pmcid = strings.TrimSpace(aid.Value)
			break
		}
	}

	link := fmt.Sprintf(abstractURL, pmid)
	if fullText && pmcid != "" {
		link = fmt.Sprintf(pmcURL, pmcid)
	}

	journalTitle := citation.Article.Journal.Title
	if journalTitle == "" {
		journalTitle = citation.Article.Journal.ISOAbbreviation
	}

	var keywords []string
	if citation.KeywordList != nil {
		keywords = append(keywords, citation.KeywordList.Keywords...)
	}
	if citation.MeshList != nil {
		for _, h := range citation.MeshList.Headings {
			keywords = append(keywords, h.Descriptor)
		}
	}

	paper, err := domain.NewPaper(domain.SourceTypePubMed, pmid, domain.Paper{
		Title:           citation.Article.Title,
		Authors:         extractAuthors(citation.Article.AuthorList),
		Abstract:        extractAbstract(citation.Article.Abstract),
		PublicationDate: extractPublicationDate(citation.Article),
		Journal:         journalTitle,
		DOI:             extractDOI(citation.Article, a.Data),
		URL:             link,
		Keywords:        keywords,
	})
	if err != nil {
		return nil
	}
	return paper
}

// extractDOI extracts the DOI from article metadata.
// It checks ELocationID first (more reliable), then ArticleIdList.
func extractDOI(a article, data pubmedData) string {
	for _, eloc := range a.ELocationID {
		if eloc.EIdType == "doi" && (eloc.Valid == "" || eloc.Valid == "Y") {
			return eloc.Value
		}
	}
	for _, aid := range data.ArticleIDs.IDs {
		if aid.IDType == "doi" {
			return aid.Value
		}
	}
	return ""
}

// extractPublicationDate prefers the electronic ArticleDate and falls back to
// the journal issue PubDate, including MedlineDate ranges.
func extractPublicationDate(a article) *time.Time {
	for _, ad := range a.ArticleDate {
		if ad.DateType == "Electronic" || ad.DateType == "epublish" || ad.DateType == "" {
			if t := parseDate(ad.Year, ad.Month, ad.Day); t != nil {
				return t
			}
		}
	}

	pd := a.Journal.Issue.PubDate
	if pd.Year != "" {
		return parseDate(pd.Year, pd.Month, pd.Day)
	}
	if pd.MedlineDate != "" {
		if fields := strings.Fields(pd.MedlineDate); len(fields) > 0 {
			year, _, _ := strings.Cut(fields[0], "-")
			return parseDate(year, "", "")
		}
	}
	return nil
}

// parseDate parses year, month, day strings into a time.Time.
func parseDate(year, month, day string) *time.Time {
	y, err := strconv.Atoi(strings.TrimSpace(year))
	if err != nil || y <= 0 {
		return nil
	}

	d := 1
	if day != "" {
		if parsed, err := strconv.Atoi(day); err == nil && parsed >= 1 && parsed <= 31 {
			d = parsed
		}
	}

	t := time.Date(y, parseMonth(month), d, 0, 0, 0, 0, time.UTC)
	return &t
}

// monthNames maps lowercase month abbreviations to time.Month.
var monthNames = map[string]time.Month{
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "may": time.May, "jun": time.June,
	"jul": time.July, "aug": time.August, "sep": time.September,
	"oct": time.October, "nov": time.November, "dec": time.December,
}

// parseMonth parses a month string (numeric, abbreviated or full name).
func parseMonth(month string) time.Month {
	month = strings.TrimSpace(month)
	if m, err := strconv.Atoi(month); err == nil && m >= 1 && m <= 12 {
		return time.Month(m)
	}
	if len(month) >= 3 {
		if m, ok := monthNames[strings.ToLower(month[:3])]; ok {
			return m
		}
	}
	return time.January
}

// extractAbstract concatenates abstract sections, keeping section labels.
func extractAbstract(abs *abstract) string {
	if abs == nil || len(abs.Texts) == 0 {
		return ""
	}

	parts := make([]string, 0, len(abs.Texts))
	for _, at := range abs.Texts {
		text := strings.TrimSpace(at.Value)
		if text == "" {
			continue
		}
		if at.Label != "" && len(abs.Texts) > 1 {
			text = at.Label + ": " + text
		}
		parts = append(parts, text)
	}
	return strings.Join(parts, " ")
}

// extractAuthors returns display names in list order, skipping invalid entries.
func extractAuthors(list *authorList) []string {
	if list == nil {
		return nil
	}

	names := make([]string, 0, len(list.Authors))
	for _, a := range list.Authors {
		if a.ValidYN == "N" {
			continue
		}
		name := a.CollectiveName
		if name == "" {
			name = strings.TrimSpace(a.ForeName + " " + a.LastName)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}
