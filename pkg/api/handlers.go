package api

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ssargent/userdots/pkg/query"
	"github.com/ssargent/userdots/pkg/store"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.metrics.RecordHealthCheck()
	sendSuccess(w, map[string]string{"status": "healthy"})
}

// handleUsers resolves a comma-separated list of selector groups.
// An optional ?limit= lowers the configured result cap.
func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	text, groups, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			sendError(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	settings := s.config.Settings(limit)

	key := text + "|" + strconv.Itoa(settings.Limit)
	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.search(r.Context(), groups, settings)
	})
	if shared {
		s.metrics.RecordCoalesced()
	}
	if err != nil {
		s.sendQueryError(w, r, err)
		return
	}

	result := v.(*UsersResponse)
	empty := true
	for _, g := range result.Groups {
		if len(g.Users) > 0 {
			empty = false
			break
		}
	}
	if empty {
		sendError(w, "no users matched", http.StatusNotFound)
		return
	}

	response := *result
	response.QueryID = requestID(r.Context())
	sendSuccess(w, &response)
}

// search runs one batch with exclusive use of the backend. A busy backend
// is reported, not waited for.
func (s *Server) search(ctx context.Context, groups [][]query.Selector, settings query.Settings) (*UsersResponse, error) {
	plan, err := s.engine.Plan(groups, settings)
	if err != nil {
		s.metrics.RecordQuery(string(query.StrategyNone), outcomeInvalid, 0)
		return nil, err
	}
	strategy := string(plan.Strategy)

	if !s.mutex.TryLock() {
		s.metrics.RecordLockContention()
		s.metrics.RecordQuery(strategy, outcomeBusy, 0)
		return nil, store.ErrLockUnavailable
	}
	defer s.mutex.Unlock()

	// Coalesced callers share this run, so it outlives any one request
	ctx = context.WithoutCancel(ctx)
	if s.config.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.config.QueryTimeout)
		defer cancel()
	}

	start := time.Now()
	results, err := s.engine.Find(ctx, groups, settings)
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordQuery(strategy, outcomeFor(err), duration)
		return nil, err
	}

	response := &UsersResponse{
		Strategy: strategy,
		Groups:   make([]GroupResult, len(groups)),
	}
	outcome := outcomeEmpty
	for i, group := range groups {
		if len(results[i]) > 0 {
			outcome = outcomeFound
		}
		response.Groups[i] = GroupResult{
			Name:     query.GroupName(group),
			Users:    results[i],
			Timeline: query.MergeTimeline(results[i]),
		}
	}
	s.metrics.RecordQuery(strategy, outcome, duration)
	s.metrics.UpdateCacheStats(s.engine.Backend().Stats())
	return response, nil
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	_, groups, ok := s.parseQuery(w, r)
	if !ok {
		return
	}

	plan, err := s.engine.Plan(groups, s.config.Settings(0))
	if err != nil {
		s.sendQueryError(w, r, err)
		return
	}
	sendSuccess(w, plan)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := s.engine.Backend().Stats()
	s.metrics.UpdateCacheStats(stats)
	sendSuccess(w, stats)
}

func (s *Server) parseQuery(w http.ResponseWriter, r *http.Request) (string, [][]query.Selector, bool) {
	text, err := url.PathUnescape(chi.URLParam(r, "query"))
	if err != nil {
		sendError(w, "query is not valid path text", http.StatusBadRequest)
		return "", nil, false
	}
	groups, err := query.ParseQuery(text)
	if err != nil {
		sendError(w, err.Error(), http.StatusBadRequest)
		return "", nil, false
	}
	return text, groups, true
}

// sendQueryError maps engine errors to status codes
func (s *Server) sendQueryError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, query.ErrInvalidSelector), errors.Is(err, query.ErrPatternCompile):
		sendError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, query.ErrLimitExceeded):
		sendError(w, "too many matches, narrow the selectors or lower the limit", http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrLockUnavailable):
		w.Header().Set("Retry-After", strconv.Itoa(s.config.RetryAfter))
		sendError(w, "backend is busy, retry shortly", http.StatusServiceUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		sendError(w, "query timed out", http.StatusGatewayTimeout)
	default:
		s.logger.Error("query failed",
			zap.String("request_id", requestID(r.Context())),
			zap.Error(err),
		)
		sendError(w, "error searching users", http.StatusInternalServerError)
	}
}

func outcomeFor(err error) string {
	switch {
	case errors.Is(err, query.ErrInvalidSelector), errors.Is(err, query.ErrPatternCompile):
		return outcomeInvalid
	case errors.Is(err, query.ErrLimitExceeded):
		return outcomeLimit
	case errors.Is(err, store.ErrLockUnavailable):
		return outcomeBusy
	case errors.Is(err, context.DeadlineExceeded):
		return outcomeTimeout
	default:
		return outcomeError
	}
}
