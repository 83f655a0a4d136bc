package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/papersources"
)

const worksResponseJSON = `{
	"meta": {"count": 1234, "page": 1, "per_page": 2},
	"results": [
		{
			"id": "https://openalex.org/W2741809807",
			"doi": "https://doi.org/10.7717/PEERJ.4375",
			"title": "The state of OA",
			"publication_date": "2018-02-13",
			"open_access": {"is_oa": true, "oa_url": "https://peerj.com/articles/4375.pdf"},
			"authorships": [
				{"author": {"display_name": "Heather Piwowar"}},
				{"author": {"display_name": "Jason Priem"}},
				{"author": {"display_name": "  "}}
			],
			"primary_location": {
				"landing_page_url": "https://peerj.com/articles/4375",
				"source": {"display_name": "PeerJ"}
			},
			"keywords": [{"display_name": "Open access"}],
			"abstract_inverted_index": {"Despite": [0], "growing": [1], "interest": [2]}
		},
		{
			"id": "https://openalex.org/W100",
			"display_name": "Fallback title only",
			"publication_year": 2020
		},
		{
			"id": "https://openalex.org/W200",
			"title": ""
		}
	]
}`

func newTestClient(serverURL string) *Client {
	return NewWithHTTPClient(Config{BaseURL: serverURL, Email: "ops@example.org"}, papersources.NewHTTPClient(papersources.HTTPClientConfig{
		Source:  domain.SourceTypeOther,
		Timeout: 5 * time.Second,
	}))
}

func TestNewClient(t *testing.T) {
	client := New(Config{})

	assert.Equal(t, DefaultBaseURL, client.config.BaseURL)
	assert.Equal(t, DefaultTimeout, client.config.Timeout)
	assert.Equal(t, papersources.RateProfile{RequestsPerSecond: DefaultRateLimit, Burst: DefaultBurstSize}, client.RateProfile())
	assert.Equal(t, domain.SourceTypeOther, client.SourceType())
	assert.Equal(t, "OpenAlex", client.Name())

	withEmail := New(Config{Email: "ops@example.org"})
	assert.Contains(t, withEmail.config.UserAgent, "mailto:ops@example.org")
}

func TestClient_Search(t *testing.T) {
	t.Run("maps works and sends filters", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/works", r.URL.Path)
			q := r.URL.Query()
			assert.Equal(t, "crispr", q.Get("search"))
			assert.Equal(t, "50", q.Get("per_page"))
			assert.Equal(t, "from_publication_date:2018-01-01,to_publication_date:2019-12-31", q.Get("filter"))
			assert.Equal(t, "ops@example.org", q.Get("mailto"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(worksResponseJSON))
		}))
		defer server.Close()

		from := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
		to := time.Date(2019, 12, 31, 0, 0, 0, 0, time.UTC)
		result, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{
			Query:      "crispr",
			DateFrom:   &from,
			DateTo:     &to,
			MaxResults: 50,
		})
		require.NoError(t, err)

		assert.Equal(t, 1234, result.TotalResults)
		assert.Equal(t, domain.SourceTypeOther, result.Source)
		require.Len(t, result.Papers, 2)

		p := result.Papers[0]
		assert.Equal(t, "other:W2741809807", p.ID)
		assert.Equal(t, "The state of OA", p.Title)
		assert.Equal(t, []string{"Heather Piwowar", "Jason Priem"}, p.Authors)
		assert.Equal(t, "Despite growing interest", p.Abstract)
		assert.Equal(t, "PeerJ", p.Journal)
		assert.Equal(t, "10.7717/peerj.4375", p.DOI)
		assert.Equal(t, "https://peerj.com/articles/4375", p.URL)
		assert.Equal(t, []string{"Open access"}, p.Keywords)
		require.NotNil(t, p.PublicationDate)
		assert.Equal(t, "2018-02-13", p.PublicationDate.Format(time.DateOnly))

		fallback := result.Papers[1]
		assert.Equal(t, "Fallback title only", fallback.Title)
		assert.Equal(t, "https://openalex.org/W100", fallback.URL)
		require.NotNil(t, fallback.PublicationDate)
		assert.Equal(t, 2020, fallback.PublicationDate.Year())
	})

	t.Run("offset selects page", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "3", r.URL.Query().Get("page"))
			_, _ = w.Write([]byte(`{"meta":{"count":0},"results":[]}`))
		}))
		defer server.Close()

		result, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{
			Query: "q", MaxResults: 20, Offset: 40,
		})
		require.NoError(t, err)
		assert.Empty(t, result.Papers)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := New(Config{}).Search(context.Background(), papersources.SearchParams{Query: "  "})
		assert.ErrorIs(t, err, domain.ErrSourceInvalidQuery)
	})

	t.Run("rate limited response", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{Query: "q"})
		assert.ErrorIs(t, err, domain.ErrSourceRateLimited)
	})

	t.Run("malformed body", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{not json`))
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Search(context.Background(), papersources.SearchParams{Query: "q"})
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	})
}

func TestClient_FetchByIDs(t *testing.T) {
	t.Run("batches ids into one filtered request", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.Equal(t, "openalex:W2741809807|W100|W999", r.URL.Query().Get("filter"))
			assert.Equal(t, "3", r.URL.Query().Get("per_page"))
			_, _ = w.Write([]byte(worksResponseJSON))
		}))
		defer server.Close()

		papers, err := newTestClient(server.URL).FetchByIDs(context.Background(),
			[]string{"W2741809807", "w100", "W999", "not-a-work"},
			papersources.FetchOptions{IncludeFullText: true})
		require.NoError(t, err)

		assert.Equal(t, int32(1), calls.Load())
		require.Len(t, papers, 2)
		assert.Equal(t, "https://peerj.com/articles/4375.pdf", papers["W2741809807"].URL)
		assert.Contains(t, papers, "W100")
		assert.NotContains(t, papers, "W999")
	})

	t.Run("no valid ids skips the request", func(t *testing.T) {
		papers, err := New(Config{BaseURL: "http://127.0.0.1:1"}).FetchByIDs(context.Background(),
			[]string{"10.1234/x"}, papersources.FetchOptions{})
		require.NoError(t, err)
		assert.Empty(t, papers)
	})

	t.Run("server error is unavailable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).FetchByIDs(context.Background(), []string{"W1"}, papersources.FetchOptions{})
		assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	})
}

func TestReconstructAbstract(t *testing.T) {
	assert.Empty(t, reconstructAbstract(nil))
	assert.Equal(t, "a rose is a rose", reconstructAbstract(map[string][]int{
		"a": {0, 3}, "rose": {1, 4}, "is": {2},
	}))
}

func TestNormalizeWorkID(t *testing.T) {
	assert.Equal(t, "W123", normalizeWorkID("https://openalex.org/W123"))
	assert.Equal(t, "W123", normalizeWorkID(" w123 "))
	assert.Equal(t, "A5", normalizeWorkID("A5"))
}
