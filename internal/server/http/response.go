package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/research-integrator/internal/domain"
)

// Error codes of the error envelope.
const (
	codeInvalidRequest      = "INVALID_REQUEST"
	codeUnauthorized        = "UNAUTHORIZED"
	codeNotFound            = "NOT_FOUND"
	codeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	codeRateLimited         = "RATE_LIMITED"
	codeInternal            = "INTERNAL_ERROR"

	msgInternal = "internal server error"
)

// Response headers carrying partial-result metadata.
const (
	headerDegradedSources = "X-Degraded-Sources"
	headerMissingPaperIDs = "X-Missing-Paper-Ids"
	headerSessionID       = "X-Session-ID"
)

type errorResponse struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

type paperResponse struct {
	ID              string   `json:"id"`
	Title           string   `json:"title"`
	Authors         []string `json:"authors,omitempty"`
	Abstract        string   `json:"abstract,omitempty"`
	Source          string   `json:"source"`
	PublicationDate string   `json:"publication_date,omitempty"`
	Journal         string   `json:"journal,omitempty"`
	DOI             string   `json:"doi,omitempty"`
	URL             string   `json:"url,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

type searchResponse struct {
	Papers []paperResponse `json:"papers"`
	Total  int             `json:"total"`
	Query  string          `json:"query"`
	Offset int             `json:"offset"`
	Limit  int             `json:"limit"`
}

type fetchResponse struct {
	Papers []paperResponse `json:"papers"`
}

type summarizeResponse struct {
	PaperID     string    `json:"paper_id"`
	Summary     string    `json:"summary"`
	SummaryType string    `json:"summary_type"`
	WordCount   int       `json:"word_count"`
	GeneratedAt time.Time `json:"generated_at"`
}

type preferencesResponse struct {
	UserID      string              `json:"user_id"`
	Preferences *domain.Preferences `json:"preferences"`
	UpdatedAt   time.Time           `json:"updated_at"`
}

type contextResponse struct {
	SessionID   string         `json:"session_id"`
	Action      string         `json:"action"`
	ContextData map[string]any `json:"context_data"`
	Timestamp   time.Time      `json:"timestamp"`
}

func domainPaperToResponse(p *domain.Paper) paperResponse {
	resp := paperResponse{
		ID:       p.ID,
		Title:    p.Title,
		Authors:  p.Authors,
		Abstract: p.Abstract,
		Source:   string(p.Source),
		Journal:  p.Journal,
		DOI:      p.DOI,
		URL:      p.URL,
		Keywords: p.Keywords,
	}
	if p.PublicationDate != nil {
		resp.PublicationDate = p.PublicationDate.Format(time.DateOnly)
	}
	return resp
}

func domainPapersToResponse(papers []*domain.Paper) []paperResponse {
	out := make([]paperResponse, len(papers))
	for i, p := range papers {
		out[i] = domainPaperToResponse(p)
	}
	return out
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	// Headers are already sent; nothing useful can be done with an encode error.
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, statusCode int, code, message string, details map[string]any) {
	writeJSON(w, statusCode, errorResponse{Code: code, Message: message, Details: details})
}

// writeDomainError maps err onto the error envelope. Messages are fixed per
// class so upstream and internal details never reach the client; validation
// messages are the exception since they describe the caller's own input.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := classifyError(err)

	logger := s.logger.With().Str("code", code).Logger()
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
	}

	writeErrorBody(w, status, code, message, details)
}

// classifyError applies the status mapping in order; the first match wins.
func classifyError(err error) (int, string, string, map[string]any) {
	var (
		validationErr *domain.ValidationError
		notFoundErr   *domain.NotFoundError
		fetchErr      *domain.FetchError
		aggErr        *domain.AggregationError
	)

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, codeInvalidRequest, validationErr.Error(),
			map[string]any{"field": validationErr.Field}
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrSourceInvalidQuery):
		return http.StatusBadRequest, codeInvalidRequest, "invalid request", nil

	case errors.Is(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized, codeUnauthorized, "invalid API key", nil

	case errors.As(err, &fetchErr) && onlyUnresolvable(fetchErr):
		return http.StatusNotFound, codeNotFound, "paper not found",
			map[string]any{"missing": fetchErr.Missing}
	case errors.Is(err, domain.ErrPaperNotFound):
		return http.StatusNotFound, codeNotFound, "paper not found", nil
	case errors.As(err, &notFoundErr):
		return http.StatusNotFound, codeNotFound, notFoundErr.Entity + " not found", nil
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, codeNotFound, "resource not found", nil

	case errors.As(err, &aggErr):
		return http.StatusServiceUnavailable, codeUpstreamUnavailable, "no paper source could be reached",
			map[string]any{"failed_sources": aggErr.Failures}
	case errors.As(err, &fetchErr):
		return http.StatusServiceUnavailable, codeUpstreamUnavailable, "no paper source could be reached",
			map[string]any{"missing": fetchErr.Missing}
	case errors.Is(err, domain.ErrSummarizationUnavailable):
		return http.StatusServiceUnavailable, codeUpstreamUnavailable, "summarization is temporarily unavailable", nil

	case errors.Is(err, domain.ErrSourceRateLimited), errors.Is(err, domain.ErrRateLimitTimeout):
		return http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded, retry later", nil

	case errors.Is(err, domain.ErrSourceUnavailable), errors.Is(err, domain.ErrUpstreamExhausted),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, codeUpstreamUnavailable, "upstream service unavailable", nil

	default:
		return http.StatusInternalServerError, codeInternal, msgInternal, nil
	}
}

// onlyUnresolvable reports whether every missing id is absent upstream or
// names an unknown source, as opposed to a source that could not be reached.
func onlyUnresolvable(e *domain.FetchError) bool {
	if len(e.Missing) == 0 {
		return false
	}
	for _, m := range e.Missing {
		if m.Reason != domain.MissingReasonNotFound && m.Reason != domain.MissingReasonUnknownSource {
			return false
		}
	}
	return true
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validationError converts the first validator failure into a domain
// validation error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return domain.NewValidationError("body", "invalid request")
	}

	fe := verrs[0]
	// Namespace is "<struct>.<json path>"; drop the struct name.
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = "is required"
	case "min":
		msg = "must be at least " + fe.Param()
	case "max":
		msg = "must be at most " + fe.Param()
	case "oneof":
		msg = "must be one of: " + fe.Param()
	case "datetime":
		msg = "must be a date in YYYY-MM-DD form"
	default:
		msg = "is invalid"
	}
	return domain.NewValidationError(field, msg)
}
