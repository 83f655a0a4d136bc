package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/helixir/research-integrator/internal/domain"
	"github.com/helixir/research-integrator/internal/observability"
	"github.com/helixir/research-integrator/internal/summarizer"
)

// maxRequestBodySize limits request bodies to 1 MB.
const maxRequestBodySize = 1 << 20

// Context actions.
const (
	actionStore    = "store"
	actionUpdate   = "update"
	actionDelete   = "delete"
	actionRetrieve = "retrieve"
)

type searchFiltersRequest struct {
	DateFrom string `json:"date_from" validate:"omitempty,datetime=2006-01-02"`
	DateTo   string `json:"date_to" validate:"omitempty,datetime=2006-01-02"`
	Journal  string `json:"journal" validate:"max=500"`
}

type searchRequest struct {
	Query     string                `json:"query" validate:"required,max=2000"`
	Sources   []string              `json:"sources" validate:"max=10,dive,required"`
	Limit     *int                  `json:"limit" validate:"omitnil,min=1,max=100"`
	Offset    *int                  `json:"offset" validate:"omitnil,min=0,max=10000"`
	Filters   *searchFiltersRequest `json:"filters"`
	SessionID string                `json:"session_id" validate:"max=128"`
}

type fetchRequest struct {
	PaperIDs        []string `json:"paper_ids" validate:"required,min=1,max=100,dive,required,max=256"`
	IncludeFullText bool     `json:"include_full_text"`
}

type summarizeRequest struct {
	PaperID     string `json:"paper_id" validate:"required,max=256"`
	SummaryType string `json:"summary_type" validate:"omitempty,oneof=brief detailed technical"`
	MaxLength   *int   `json:"max_length" validate:"omitnil,min=50,max=1000"`
}

type summaryPreferencesRequest struct {
	DefaultType string `json:"default_type" validate:"omitempty,oneof=brief detailed technical"`
	MaxLength   int    `json:"max_length" validate:"omitempty,min=50,max=1000"`
}

type preferencesRequest struct {
	DefaultSources       []string                     `json:"default_sources" validate:"omitempty,max=10,dive,oneof=all pubmed arxiv other"`
	DefaultLimit         *int                         `json:"default_limit" validate:"omitnil,min=1,max=100"`
	SummaryPreferences   *summaryPreferencesRequest   `json:"summary_preferences"`
	NotificationSettings *domain.NotificationSettings `json:"notification_settings"`
}

type contextRequest struct {
	Action      string         `json:"action" validate:"required,oneof=store update delete retrieve"`
	SessionID   string         `json:"session_id" validate:"max=128"`
	ContextData map[string]any `json:"context_data"`
}

// decode reads a JSON body into dst and validates it. On failure it writes
// the error response and returns false.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize+1))
	if err := dec.Decode(dst); err != nil {
		msg := "invalid JSON request body"
		if errors.Is(err, io.EOF) {
			msg = "request body is required"
		}
		writeErrorBody(w, http.StatusBadRequest, codeInvalidRequest, msg, nil)
		return false
	}
	if dec.More() {
		writeErrorBody(w, http.StatusBadRequest, codeInvalidRequest, "invalid JSON request body", nil)
		return false
	}

	if err := s.validate.Struct(dst); err != nil {
		s.writeDomainError(w, r, validationError(err))
		return false
	}
	return true
}

// searchPapers handles POST /search.
func (s *Server) searchPapers(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !s.decode(w, r, &req) {
		return
	}

	q := domain.SearchQuery{
		Query:     req.Query,
		UserID:    observability.UserIDFromContext(r.Context()),
		SessionID: req.SessionID,
	}
	if q.SessionID == "" {
		q.SessionID = r.Header.Get(headerSessionID)
	}
	for _, src := range req.Sources {
		q.Sources = append(q.Sources, domain.SourceType(strings.ToLower(strings.TrimSpace(src))))
	}
	if req.Limit != nil {
		q.Limit = *req.Limit
	}
	if req.Offset != nil {
		q.Offset = *req.Offset
	}
	if f := req.Filters; f != nil {
		q.Filters.Journal = strings.TrimSpace(f.Journal)
		q.Filters.DateFrom = parseDate(f.DateFrom)
		q.Filters.DateTo = parseDate(f.DateTo)
	}

	result, err := s.services.Search.Search(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if result.Degraded() {
		parts := make([]string, len(result.FailedSources))
		for i, f := range result.FailedSources {
			parts[i] = string(f.Source) + "=" + f.Reason
		}
		w.Header().Set(headerDegradedSources, strings.Join(parts, ","))
	}

	writeJSON(w, http.StatusOK, searchResponse{
		Papers: domainPapersToResponse(result.Papers),
		Total:  result.Total,
		Query:  result.Query,
		Offset: result.Offset,
		Limit:  result.Limit,
	})
}

// parseDate parses a YYYY-MM-DD date already checked by the validator.
func parseDate(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return nil
	}
	return &t
}

// fetchPapers handles POST /fetch.
func (s *Server) fetchPapers(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if !s.decode(w, r, &req) {
		return
	}

	result, err := s.services.Fetch.Fetch(r.Context(), req.PaperIDs, req.IncludeFullText)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	if len(result.Missing) > 0 {
		ids := make([]string, len(result.Missing))
		for i, m := range result.Missing {
			ids[i] = m.ID
		}
		w.Header().Set(headerMissingPaperIDs, strings.Join(ids, ","))
	}

	writeJSON(w, http.StatusOK, fetchResponse{Papers: domainPapersToResponse(result.Papers)})
}

// summarizePaper handles POST /summarize.
func (s *Server) summarizePaper(w http.ResponseWriter, r *http.Request) {
	var req summarizeRequest
	if !s.decode(w, r, &req) {
		return
	}

	sreq := summarizer.Request{
		PaperID:     req.PaperID,
		SummaryType: domain.SummaryType(req.SummaryType),
		UserID:      observability.UserIDFromContext(r.Context()),
	}
	if req.MaxLength != nil {
		sreq.MaxLength = *req.MaxLength
	}

	summary, err := s.services.Summarize.Summarize(r.Context(), sreq)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, summarizeResponse{
		PaperID:     summary.PaperID,
		Summary:     summary.Text,
		SummaryType: string(summary.SummaryType),
		WordCount:   summary.WordCount,
		GeneratedAt: summary.GeneratedAt,
	})
}

// getPreferences handles GET /prefs.
func (s *Server) getPreferences(w http.ResponseWriter, r *http.Request) {
	userID := observability.UserIDFromContext(r.Context())

	prefs, err := s.services.Preferences.Get(r.Context(), userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.preferencesResponse(userID, prefs))
}

// updatePreferences handles PUT /prefs. Fields absent from the body keep
// their current values.
func (s *Server) updatePreferences(w http.ResponseWriter, r *http.Request) {
	var req preferencesRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	userID := observability.UserIDFromContext(ctx)

	current, err := s.services.Preferences.Get(ctx, userID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	next := *current
	next.UserID = userID
	if req.DefaultSources != nil {
		next.DefaultSources = req.DefaultSources
	}
	if req.DefaultLimit != nil {
		next.DefaultLimit = *req.DefaultLimit
	}
	if sp := req.SummaryPreferences; sp != nil {
		merged := domain.SummaryPreferences{}
		if next.SummaryPreferences != nil {
			merged = *next.SummaryPreferences
		}
		if sp.DefaultType != "" {
			merged.DefaultType = sp.DefaultType
		}
		if sp.MaxLength != 0 {
			merged.MaxLength = sp.MaxLength
		}
		next.SummaryPreferences = &merged
	}
	if req.NotificationSettings != nil {
		ns := *req.NotificationSettings
		next.NotificationSettings = &ns
	}

	saved, err := s.services.Preferences.Put(ctx, &next)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	s.services.Emitter.PreferencesSaved(ctx, userID, domain.PreferencesSavedPayload{
		DefaultSources: saved.DefaultSources,
		DefaultLimit:   saved.DefaultLimit,
	})

	writeJSON(w, http.StatusOK, s.preferencesResponse(userID, saved))
}

func (s *Server) preferencesResponse(userID string, prefs *domain.Preferences) preferencesResponse {
	updated := prefs.UpdatedAt
	if updated.IsZero() {
		updated = s.now()
	}
	return preferencesResponse{UserID: userID, Preferences: prefs, UpdatedAt: updated.UTC()}
}

// manageContext handles POST /context.
func (s *Server) manageContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}

	ctx := r.Context()
	sessionID := strings.TrimSpace(req.SessionID)
	if req.Action != actionStore && sessionID == "" {
		s.writeDomainError(w, r, domain.NewValidationError("session_id", "is required for "+req.Action))
		return
	}

	var (
		session *domain.SessionContext
		err     error
	)
	switch req.Action {
	case actionStore:
		session, err = s.services.Sessions.Store(ctx, sessionID, req.ContextData)
	case actionUpdate:
		session, err = s.services.Sessions.Update(ctx, sessionID, req.ContextData)
	case actionDelete:
		err = s.services.Sessions.Delete(ctx, sessionID)
		session = &domain.SessionContext{SessionID: sessionID, UpdatedAt: s.now()}
	case actionRetrieve:
		session, err = s.services.Sessions.Get(ctx, sessionID)
	}
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, s.contextResponse(req.Action, session))
}

// getContext handles GET /context?session_id=.
func (s *Server) getContext(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		s.writeDomainError(w, r, domain.NewValidationError("session_id", "is required"))
		return
	}

	session, err := s.services.Sessions.Get(r.Context(), sessionID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.contextResponse(actionRetrieve, session))
}

func (s *Server) contextResponse(action string, session *domain.SessionContext) contextResponse {
	ts := session.UpdatedAt
	if action == actionRetrieve || ts.IsZero() {
		ts = s.now()
	}
	return contextResponse{
		SessionID:   session.SessionID,
		Action:      action,
		ContextData: session.Data,
		Timestamp:   ts.UTC(),
	}
}
