package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/helixir/research-integrator/internal/domain"
)

func TestRelevance(t *testing.T) {
	p := &domain.Paper{Title: "Deep learning for protein folding", Abstract: "We fold proteins. Learning is deep."}

	assert.Equal(t, 2, Relevance(p, domain.Tokenize("deep learning")))
	assert.Equal(t, 2, Relevance(p, domain.Tokenize("deep deep learning")), "tokens count once")
	assert.Equal(t, 1, Relevance(p, domain.Tokenize("Protein structure")))
	assert.Equal(t, 0, Relevance(p, nil))
	assert.Equal(t, 0, Relevance(nil, domain.Tokenize("deep")))
}

func TestRank(t *testing.T) {
	d := func(y int) *time.Time {
		v := time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
		return &v
	}
	papers := []*domain.Paper{
		{ID: "pubmed:2", Source: domain.SourceTypePubMed, Title: "neural nets", PublicationDate: d(2020)},
		{ID: "arxiv:9", Source: domain.SourceTypeArXiv, Title: "neural nets", PublicationDate: d(2020)},
		{ID: "arxiv:1", Source: domain.SourceTypeArXiv, Title: "neural nets", PublicationDate: d(2020)},
		{ID: "pubmed:3", Source: domain.SourceTypePubMed, Title: "neural", PublicationDate: d(2023)},
		{ID: "arxiv:5", Source: domain.SourceTypeArXiv, Title: "neural nets"},
		{ID: "pubmed:4", Source: domain.SourceTypePubMed, Title: "neural nets", PublicationDate: d(2021)},
	}

	Rank(papers, "neural nets")

	got := make([]string, len(papers))
	for i, p := range papers {
		got[i] = p.ID
	}
	assert.Equal(t, []string{
		"pubmed:4", // score 2, newest
		"arxiv:1",  // score 2, 2020, arxiv before pubmed, id ascending
		"arxiv:9",
		"pubmed:2",
		"arxiv:5",  // score 2, undated last
		"pubmed:3", // score 1
	}, got)
}
