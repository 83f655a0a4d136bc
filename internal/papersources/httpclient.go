package papersources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 10 << 20

// maxErrorBodyBytes caps how much of an error body is kept in the error message.
const maxErrorBodyBytes = 512

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// Source is the tag used when translating failures into domain errors.
	Source domain.SourceType

	// Timeout is the transport-level timeout. Per-call deadlines set by the
	// caller's context take precedence when shorter.
	Timeout time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// APIKey is an optional API key for authentication.
	APIKey string

	// APIKeyHeader is the header name for the API key (e.g., "X-API-Key", "Authorization").
	APIKeyHeader string
}

// HTTPClient wraps http.Client and translates transport and status failures
// into *domain.SourceError values. It performs exactly one request per call.
// It is safe for concurrent use.
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

// NewHTTPClient creates a new HTTP client.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-ResearchIntegrator/1.0"
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		config: cfg,
	}
}

// Get issues a GET request and returns the response body of a 2xx answer.
//
// Status codes are translated as follows:
//   - 429 -> domain.ErrSourceRateLimited (Retry-After honoured in SourceError.RetryAfter)
//   - 400, 414, 422 -> domain.ErrSourceInvalidQuery
//   - any other non-2xx, transport errors and timeouts -> domain.ErrSourceUnavailable
func (c *HTTPClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, domain.NewSourceError(c.config.Source, domain.ErrSourceUnavailable, resp.StatusCode, "failed to read response", err)
	}
	return body, nil
}

// Do executes an HTTP request once. On a non-2xx status the body is drained
// and closed and a translated error is returned; on success the caller owns
// the response body.
func (c *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.APIKey != "" && c.config.APIKeyHeader != "" {
		req.Header.Set(c.config.APIKeyHeader, c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// The caller's own cancellation is not a source failure.
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, domain.NewSourceError(c.config.Source, domain.ErrSourceUnavailable, 0, "request failed", err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	defer resp.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	_, _ = io.Copy(io.Discard, resp.Body)

	srcErr := domain.NewSourceError(c.config.Source, classifyStatus(resp.StatusCode), resp.StatusCode,
		strings.TrimSpace(string(snippet)), nil)
	if resp.StatusCode == http.StatusTooManyRequests {
		srcErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
	}
	return nil, srcErr
}

// classifyStatus maps a non-2xx status code onto the source error taxonomy.
func classifyStatus(statusCode int) error {
	switch statusCode {
	case http.StatusTooManyRequests:
		return domain.ErrSourceRateLimited
	case http.StatusBadRequest, http.StatusRequestURITooLong, http.StatusUnprocessableEntity:
		return domain.ErrSourceInvalidQuery
	default:
		return domain.ErrSourceUnavailable
	}
}

// parseRetryAfter parses a Retry-After header given either in seconds or as
// an HTTP date. It returns 0 when the header is absent or unusable.
func parseRetryAfter(retryAfter string) time.Duration {
	if retryAfter == "" {
		return 0
	}

	if seconds, err := strconv.ParseInt(retryAfter, 10, 64); err == nil {
		if seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
		return 0
	}

	if t, err := http.ParseTime(retryAfter); err == nil {
		if delay := time.Until(t); delay > 0 {
			return delay
		}
	}

	return 0
}
