// Package domain provides domain models and business logic for the Research Integrator service.
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// SourceType represents the upstream source that provided paper data.
// The set is closed: adapters register under one of these tags.
type SourceType string

const (
	SourceTypePubMed SourceType = "pubmed"
	SourceTypeArXiv  SourceType = "arxiv"
	SourceTypeOther  SourceType = "other"
)

// SourceAll is the request token meaning "every registered source".
const SourceAll = "all"

// ParseSourceType converts a request string into a SourceType.
func ParseSourceType(s string) (SourceType, error) {
	switch st := SourceType(strings.ToLower(strings.TrimSpace(s))); st {
	case SourceTypePubMed, SourceTypeArXiv, SourceTypeOther:
		return st, nil
	default:
		return "", NewValidationError("sources", fmt.Sprintf("unknown source %q", s))
	}
}

// SummaryType selects the style of a generated summary.
type SummaryType string

const (
	SummaryTypeBrief     SummaryType = "brief"
	SummaryTypeDetailed  SummaryType = "detailed"
	SummaryTypeTechnical SummaryType = "technical"
)

// IsValid reports whether t is one of the supported summary types.
func (t SummaryType) IsValid() bool {
	switch t {
	case SummaryTypeBrief, SummaryTypeDetailed, SummaryTypeTechnical:
		return true
	default:
		return false
	}
}

// Search and summary bounds.
const (
	DefaultSearchLimit = 20
	MaxSearchLimit     = 100
	MaxSearchOffset    = 10000

	DefaultSummaryType      = SummaryTypeBrief
	DefaultSummaryMaxLength = 200
	MinSummaryMaxLength     = 50
	MaxSummaryMaxLength     = 1000
)

// SearchFilters narrows a search by publication date and journal.
type SearchFilters struct {
	DateFrom *time.Time
	DateTo   *time.Time
	Journal  string
}

// IsEmpty returns true when no filter is set.
func (f SearchFilters) IsEmpty() bool {
	return f.DateFrom == nil && f.DateTo == nil && f.Journal == ""
}

// Matches reports whether a paper passes the filters. Papers without a
// publication date are excluded once a date bound is set.
func (f SearchFilters) Matches(p *Paper) bool {
	if f.DateFrom != nil || f.DateTo != nil {
		if p.PublicationDate == nil {
			return false
		}
		if f.DateFrom != nil && p.PublicationDate.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && p.PublicationDate.After(*f.DateTo) {
			return false
		}
	}
	if f.Journal != "" {
		if !strings.Contains(strings.ToLower(p.Journal), strings.ToLower(f.Journal)) {
			return false
		}
	}
	return true
}

// String renders the filters in a stable form suitable for cache keys.
func (f SearchFilters) String() string {
	var from, to string
	if f.DateFrom != nil {
		from = f.DateFrom.Format(time.DateOnly)
	}
	if f.DateTo != nil {
		to = f.DateTo.Format(time.DateOnly)
	}
	return from + ".." + to + "|" + strings.ToLower(strings.TrimSpace(f.Journal))
}

// SearchQuery is a normalized search request.
type SearchQuery struct {
	// Query is the free-text query as supplied by the caller.
	Query string

	// Sources lists the requested sources. Empty means "resolve defaults".
	Sources []SourceType

	// Limit is the page size (1..MaxSearchLimit). Zero means "resolve defaults".
	Limit int

	// Offset is the zero-based index of the first result on the page.
	Offset int

	Filters SearchFilters

	// UserID and SessionID are used to resolve defaults only; they never
	// take part in result caching.
	UserID    string
	SessionID string
}

// Validate checks the query bounds after defaults have been applied.
func (q *SearchQuery) Validate() error {
	if strings.TrimSpace(q.Query) == "" {
		return NewValidationError("query", "must not be empty")
	}
	if q.Limit < 1 || q.Limit > MaxSearchLimit {
		return NewValidationError("limit", fmt.Sprintf("must be between 1 and %d", MaxSearchLimit))
	}
	if q.Offset < 0 || q.Offset > MaxSearchOffset {
		return NewValidationError("offset", fmt.Sprintf("must be between 0 and %d", MaxSearchOffset))
	}
	if q.Filters.DateFrom != nil && q.Filters.DateTo != nil && q.Filters.DateFrom.After(*q.Filters.DateTo) {
		return NewValidationError("filters", "date_from must not be after date_to")
	}
	return nil
}

// SortedSources returns a sorted copy of the requested sources.
func (q *SearchQuery) SortedSources() []SourceType {
	out := slices.Clone(q.Sources)
	slices.Sort(out)
	return out
}

// SourceFailure records a source that did not contribute to a result.
type SourceFailure struct {
	Source SourceType `json:"source"`
	Reason string     `json:"reason"`
}

// SearchResult is an ordered, deduplicated and ranked page of papers.
type SearchResult struct {
	Papers []*Paper
	Total  int
	Query  string
	Limit  int
	Offset int

	// Sources is the effective source set that was queried.
	Sources []SourceType

	// FailedSources is non-empty when the result is degraded.
	FailedSources []SourceFailure
}

// Degraded reports whether one or more sources failed to contribute.
func (r *SearchResult) Degraded() bool {
	return len(r.FailedSources) > 0
}

// Summary is an LLM-generated summary of one paper.
type Summary struct {
	PaperID     string
	Text        string
	SummaryType SummaryType
	MaxLength   int
	WordCount   int
	GeneratedAt time.Time
}

// SummaryPreferences holds a user's summarization defaults.
type SummaryPreferences struct {
	DefaultType string `json:"default_type,omitempty"`
	MaxLength   int    `json:"max_length,omitempty"`
}

// NotificationSettings holds a user's notification toggles.
type NotificationSettings struct {
	EmailNotifications bool `json:"email_notifications"`
	SearchAlerts       bool `json:"search_alerts"`
}

// Preferences are per-user defaults applied to searches and summaries.
type Preferences struct {
	UserID               string                `json:"-"`
	DefaultSources       []string              `json:"default_sources,omitempty"`
	DefaultLimit         int                   `json:"default_limit,omitempty"`
	SummaryPreferences   *SummaryPreferences   `json:"summary_preferences,omitempty"`
	NotificationSettings *NotificationSettings `json:"notification_settings,omitempty"`
	UpdatedAt            time.Time             `json:"-"`
}

// DefaultPreferences returns the preferences used for a user with none stored.
func DefaultPreferences(userID string) *Preferences {
	return &Preferences{
		UserID:         userID,
		DefaultSources: []string{SourceAll},
		DefaultLimit:   DefaultSearchLimit,
		SummaryPreferences: &SummaryPreferences{
			DefaultType: string(DefaultSummaryType),
			MaxLength:   DefaultSummaryMaxLength,
		},
		NotificationSettings: &NotificationSettings{},
	}
}

// SessionContext is the opaque per-session state stored for a caller.
type SessionContext struct {
	SessionID string
	Data      map[string]any
	UpdatedAt time.Time
}

// DefaultSources extracts the "default_sources" entry from the session data,
// accepting either a list of strings or a comma-separated string.
func (s *SessionContext) DefaultSources() []string {
	if s == nil || s.Data == nil {
		return nil
	}
	switch v := s.Data["default_sources"].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	case string:
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}
