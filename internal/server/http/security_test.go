package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/fetcher"
)

// ---------------------------------------------------------------------------
// TestSQLInjection_QueryField
// ---------------------------------------------------------------------------

// TestSQLInjection_QueryField verifies that SQL injection payloads in the
// query field are passed through as opaque data and never produce a 500.
func TestSQLInjection_QueryField(t *testing.T) {
	payloads := []struct {
		name  string
		query string
	}{
		{"drop table", "'; DROP TABLE user_preferences; --"},
		{"boolean tautology", "1 OR 1=1"},
		{"union select", "' UNION SELECT * FROM users --"},
		{"bobby tables", "Robert'); DROP TABLE students;--"},
		{"nested quotes", "'' OR ''='"},
		{"comment injection", "query/* comment */"},
		{"stacked queries", "'; EXEC xp_cmdshell('dir'); --"},
		{"batch separator", "query\nGO\nDROP TABLE papers"},
		{"entrez field tags", "cancer[Title] AND (\"2020\"[PDAT])"},
		{"arxiv boolean", "ti:transformer ANDNOT abs:vision"},
	}

	for _, tc := range payloads {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &mockSearcher{}
			srv := newTestHTTPServer(Services{Search: searcher})

			bodyBytes, err := json.Marshal(map[string]string{"query": tc.query})
			if err != nil {
				t.Fatalf("failed to marshal request body: %v", err)
			}

			rr := doRequest(srv, http.MethodPost, "/search", string(bodyBytes))

			if rr.Code == http.StatusInternalServerError {
				t.Errorf("payload %q caused a 500 response: %s", tc.query, rr.Body.String())
			}
			if rr.Code == http.StatusOK && searcher.last.Query != tc.query {
				t.Errorf("expected query passed verbatim as %q, got %q", tc.query, searcher.last.Query)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestResponseSanitization
// ---------------------------------------------------------------------------

// TestResponseSanitization verifies that internal error details from
// dependencies are never leaked to the HTTP client.
func TestResponseSanitization(t *testing.T) {
	sensitiveErrors := []struct {
		name      string
		err       error
		forbidden []string
	}{
		{
			name:      "postgres connection refused",
			err:       fmt.Errorf("pgx: connection refused to 10.0.0.5:5432"),
			forbidden: []string{"pgx", "connection refused", "10.0.0.5", "5432"},
		},
		{
			name:      "authentication failure",
			err:       fmt.Errorf("password authentication failed for user \"resint\""),
			forbidden: []string{"password", "resint", "authentication"},
		},
		{
			name:      "stack trace leak",
			err:       fmt.Errorf("goroutine 42 [running]: runtime/debug.Stack()"),
			forbidden: []string{"goroutine", "runtime/debug", "Stack()"},
		},
		{
			name:      "redis dial",
			err:       fmt.Errorf("dial tcp 10.0.1.20:6379: i/o timeout"),
			forbidden: []string{"10.0.1.20", "6379", "dial tcp"},
		},
		{
			name: "upstream body",
			err: domain.NewSourceError(domain.SourceTypePubMed, domain.ErrSourceUnavailable, 502,
				"<html>nginx upstream api_key=abc123</html>", nil),
			forbidden: []string{"nginx", "api_key", "abc123"},
		},
		{
			name: "llm provider error",
			err: fmt.Errorf("%w: openai: 401 invalid key sk-live-xyz",
				domain.ErrSummarizationUnavailable),
			forbidden: []string{"openai", "sk-live-xyz"},
		},
	}

	for _, tc := range sensitiveErrors {
		t.Run(tc.name, func(t *testing.T) {
			searcher := &mockSearcher{
				searchFn: func(context.Context, domain.SearchQuery) (*domain.SearchResult, error) {
					return nil, tc.err
				},
			}
			srv := newTestHTTPServer(Services{Search: searcher})

			rr := doRequest(srv, http.MethodPost, "/search", `{"query":"test query for sanitization"}`)
			responseBody := rr.Body.String()

			for _, fragment := range tc.forbidden {
				if strings.Contains(responseBody, fragment) {
					t.Errorf("response body contains sensitive fragment %q: %s", fragment, responseBody)
				}
			}

			var resp errorResponse
			if err := json.NewDecoder(strings.NewReader(responseBody)).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp.Code == "" || resp.Message == "" {
				t.Errorf("expected an error envelope, got %s", responseBody)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestMaxQueryLength_Security
// ---------------------------------------------------------------------------

// TestMaxQueryLength_Security verifies the query length boundary at 2000
// characters.
func TestMaxQueryLength_Security(t *testing.T) {
	const maxQueryLength = 2000

	tests := []struct {
		name   string
		length int
		status int
	}{
		{"exactly the limit succeeds", maxQueryLength, http.StatusOK},
		{"one below succeeds", maxQueryLength - 1, http.StatusOK},
		{"one above is rejected", maxQueryLength + 1, http.StatusBadRequest},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestHTTPServer(Services{})
			bodyBytes, _ := json.Marshal(map[string]string{"query": strings.Repeat("a", tc.length)})

			rr := doRequest(srv, http.MethodPost, "/search", string(bodyBytes))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d: %s", tc.status, rr.Code, rr.Body.String())
			}
			if tc.status == http.StatusBadRequest {
				var resp errorResponse
				decodeJSON(t, rr, &resp)
				if !strings.Contains(resp.Message, "at most") {
					t.Errorf("expected error message about length limit, got %q", resp.Message)
				}
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestOversizedBody
// ---------------------------------------------------------------------------

// TestOversizedBody verifies that bodies beyond the request limit are
// rejected without reaching the services.
func TestOversizedBody(t *testing.T) {
	called := false
	f := &mockFetcher{
		fetchFn: func(context.Context, []string, bool) (*fetcher.Result, error) {
			called = true
			return &fetcher.Result{}, nil
		},
	}
	srv := newTestHTTPServer(Services{Fetch: f})

	body := `{"paper_ids":["pubmed:1"],"pad":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rr := doRequest(srv, http.MethodPost, "/fetch", body)

	expectError(t, rr, http.StatusBadRequest, codeInvalidRequest)
	if called {
		t.Error("fetcher must not be called for an oversized body")
	}
}

// ---------------------------------------------------------------------------
// TestXSSPayload_QueryField
// ---------------------------------------------------------------------------

// TestXSSPayload_QueryField verifies that HTML in the echoed query is
// escaped by the JSON encoder.
func TestXSSPayload_QueryField(t *testing.T) {
	xssPayloads := []struct {
		name    string
		query   string
		mustNot []string
	}{
		{"script tag", "<script>alert('xss')</script>", []string{"<script>", "</script>"}},
		{"img onerror", `<img src=x onerror=alert('xss')>`, []string{"<img"}},
		{"svg tag", `<svg/onload=alert('xss')>`, []string{"<svg"}},
		{"iframe injection", `<iframe src="javascript:alert('xss')">`, []string{"<iframe"}},
	}

	for _, tc := range xssPayloads {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestHTTPServer(Services{})

			bodyBytes, err := json.Marshal(map[string]string{"query": tc.query})
			if err != nil {
				t.Fatalf("failed to marshal request body: %v", err)
			}

			rr := doRequest(srv, http.MethodPost, "/search", string(bodyBytes))
			if rr.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
			}

			responseBody := rr.Body.String()
			for _, forbidden := range tc.mustNot {
				if strings.Contains(responseBody, forbidden) {
					t.Errorf("response contains unescaped HTML %q in body: %s", forbidden, responseBody)
				}
			}
			if ct := rr.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
				t.Errorf("expected Content-Type application/json, got %q", ct)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// TestUnauthenticatedAccess
// ---------------------------------------------------------------------------

// TestUnauthenticatedAccess verifies that every API route requires a key.
func TestUnauthenticatedAccess(t *testing.T) {
	srv := newTestHTTPServer(Services{})

	routes := []struct{ method, path string }{
		{http.MethodPost, "/search"},
		{http.MethodPost, "/fetch"},
		{http.MethodPost, "/summarize"},
		{http.MethodGet, "/prefs"},
		{http.MethodPut, "/prefs"},
		{http.MethodPost, "/context"},
		{http.MethodGet, "/context?session_id=x"},
	}

	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			req := httptest.NewRequest(route.method, route.path, strings.NewReader(`{}`))
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			expectError(t, rr, http.StatusUnauthorized, codeUnauthorized)
		})
	}
}

// ---------------------------------------------------------------------------
// TestWriteDomainError_NeverLeaksInternalDetails
// ---------------------------------------------------------------------------

func TestWriteDomainError_NeverLeaksInternalDetails(t *testing.T) {
	srv := newTestHTTPServer(Services{})

	for _, err := range []error{
		fmt.Errorf("FATAL: password authentication failed for user \"admin\""),
		fmt.Errorf("store: %w", fmt.Errorf("ERROR: relation \"user_preferences\" does not exist (SQLSTATE 42P01)")),
	} {
		rr := httptest.NewRecorder()
		srv.writeDomainError(rr, httptest.NewRequest(http.MethodGet, "/prefs", nil), err)

		resp := expectError(t, rr, http.StatusInternalServerError, codeInternal)
		if resp.Message != msgInternal {
			t.Errorf("expected generic message, got %q", resp.Message)
		}
		if strings.Contains(rr.Body.String(), err.Error()) {
			t.Errorf("response body contains raw error message: %s", rr.Body.String())
		}
	}
}
