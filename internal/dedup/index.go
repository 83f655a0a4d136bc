package dedup

import (
	"github.com/helixir/research-integrator/internal/domain"
)

// DefaultAuthorThreshold is the minimum AuthorOverlap for two same-title
// papers with known authors to be treated as one.
const DefaultAuthorThreshold = 0.5

// Config tunes the near-duplicate heuristics.
type Config struct {
	// AuthorThreshold applies when both papers list authors.
	AuthorThreshold float64
}

func (c Config) withDefaults() Config {
	if c.AuthorThreshold <= 0 {
		c.AuthorThreshold = DefaultAuthorThreshold
	}
	return c
}

// Match explains why a paper was folded into an earlier one.
type Match string

// Match kinds, in the order they are tried.
const (
	MatchNone  Match = ""
	MatchID    Match = "id"
	MatchDOI   Match = "doi"
	MatchTitle Match = "title"
)

// Index accumulates papers and drops the ones that duplicate a paper already
// added. The first paper seen wins, so callers control precedence by insertion
// order. An Index is not safe for concurrent use.
type Index struct {
	cfg     Config
	kept    []*domain.Paper
	byID    map[string]int
	byDOI   map[string]int
	byTitle map[string][]int
}

// NewIndex creates an empty Index.
func NewIndex(cfg Config) *Index {
	return &Index{
		cfg:     cfg.withDefaults(),
		byID:    make(map[string]int),
		byDOI:   make(map[string]int),
		byTitle: make(map[string][]int),
	}
}

// Add inserts p unless it duplicates a kept paper. It returns the id of the
// kept paper and how it matched when p was dropped.
func (x *Index) Add(p *domain.Paper) (string, Match) {
	if p == nil {
		return "", MatchNone
	}
	if i, ok := x.find(p); ok {
		return x.kept[i].ID, x.matchKind(x.kept[i], p)
	}

	i := len(x.kept)
	x.kept = append(x.kept, p)
	x.byID[p.ID] = i
	if doi := domain.NormalizeDOI(p.DOI); doi != "" {
		x.byDOI[doi] = i
	}
	if title := domain.NormalizeTitle(p.Title); title != "" {
		x.byTitle[title] = append(x.byTitle[title], i)
	}
	return "", MatchNone
}

// Papers returns the kept papers in insertion order.
func (x *Index) Papers() []*domain.Paper {
	out := make([]*domain.Paper, len(x.kept))
	copy(out, x.kept)
	return out
}

// Len returns the number of kept papers.
func (x *Index) Len() int {
	return len(x.kept)
}

func (x *Index) find(p *domain.Paper) (int, bool) {
	if i, ok := x.byID[p.ID]; ok {
		return i, true
	}
	if doi := domain.NormalizeDOI(p.DOI); doi != "" {
		if i, ok := x.byDOI[doi]; ok {
			return i, true
		}
	}
	if title := domain.NormalizeTitle(p.Title); title != "" {
		for _, i := range x.byTitle[title] {
			if x.cfg.sameWork(x.kept[i], p) {
				return i, true
			}
		}
	}
	return 0, false
}

func (x *Index) matchKind(kept, p *domain.Paper) Match {
	switch {
	case kept.ID == p.ID:
		return MatchID
	case domain.NormalizeDOI(p.DOI) != "" && domain.NormalizeDOI(kept.DOI) == domain.NormalizeDOI(p.DOI):
		return MatchDOI
	default:
		return MatchTitle
	}
}

// IsDuplicate reports whether b describes the same work as a.
func (c Config) IsDuplicate(a, b *domain.Paper) bool {
	if a == nil || b == nil {
		return false
	}
	if a.ID == b.ID {
		return true
	}
	if doi := domain.NormalizeDOI(a.DOI); doi != "" && doi == domain.NormalizeDOI(b.DOI) {
		return true
	}
	title := domain.NormalizeTitle(a.Title)
	if title == "" || title != domain.NormalizeTitle(b.Title) {
		return false
	}
	return c.withDefaults().sameWork(a, b)
}

// sameWork decides between two papers whose normalized titles already match.
// Years must agree when both are known; author lists, when both present, must
// overlap enough.
func (c Config) sameWork(a, b *domain.Paper) bool {
	ya, yb := a.PublicationYear(), b.PublicationYear()
	if ya != 0 && yb != 0 && ya != yb {
		return false
	}
	if len(a.Authors) > 0 && len(b.Authors) > 0 {
		return AuthorOverlap(a.Authors, b.Authors) >= c.AuthorThreshold
	}
	return true
}

// Merge concatenates groups in order and drops duplicates, keeping the first
// occurrence of each work.
func Merge(cfg Config, groups ...[]*domain.Paper) []*domain.Paper {
	x := NewIndex(cfg)
	for _, g := range groups {
		for _, p := range g {
			x.Add(p)
		}
	}
	return x.Papers()
}
