package aggregator

import (
	"slices"
	"strings"

	"github.com/helixir/research-integrator/internal/domain"
)

// Relevance counts the distinct query tokens that occur in the paper's title
// or abstract.
func Relevance(p *domain.Paper, queryTokens []string) int {
	if p == nil || len(queryTokens) == 0 {
		return 0
	}
	words := make(map[string]struct{})
	for _, w := range domain.Tokenize(p.Title + " " + p.Abstract) {
		words[w] = struct{}{}
	}
	score := 0
	for _, t := range queryTokens {
		if _, ok := words[t]; ok {
			score++
		}
	}
	return score
}

// Rank sorts papers in place: relevance descending, then publication date
// descending with undated papers last, then source tag, then id. The order is
// total, so equal inputs always rank identically.
func Rank(papers []*domain.Paper, query string) {
	tokens := domain.Tokenize(query)
	scores := make(map[string]int, len(papers))
	for _, p := range papers {
		scores[p.ID] = Relevance(p, tokens)
	}

	slices.SortStableFunc(papers, func(a, b *domain.Paper) int {
		if sa, sb := scores[a.ID], scores[b.ID]; sa != sb {
			return sb - sa
		}
		if c := compareDates(a, b); c != 0 {
			return c
		}
		if c := strings.Compare(string(a.Source), string(b.Source)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// compareDates orders newer papers first and undated papers last.
func compareDates(a, b *domain.Paper) int {
	switch {
	case a.PublicationDate == nil && b.PublicationDate == nil:
		return 0
	case a.PublicationDate == nil:
		return 1
	case b.PublicationDate == nil:
		return -1
	default:
		return b.PublicationDate.Compare(*a.PublicationDate)
	}
}
