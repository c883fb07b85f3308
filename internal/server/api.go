package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/limiquantix/consolidator/internal/domain"
	"github.com/limiquantix/consolidator/internal/repository/redis"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// listMigrationsResponse is the response for GET /api/v1/migrations.
type listMigrationsResponse struct {
	Migrations []*domain.MigrationRecord `json:"migrations"`
	Count      int                       `json:"count"`
}

// listMigrations handles GET /api/v1/migrations?environment=&vm_id=&since_cycle=&limit=
func (s *Server) listMigrations(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	filter := domain.MigrationFilter{Environment: query.Get("environment")}
	if v := query.Get("vm_id"); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			s.writeError(w, badRequest("vm_id must be an integer"))
			return
		}
		filter.VMID = &id
	}
	if v := query.Get("since_cycle"); v != "" {
		cycle, err := strconv.ParseInt(v, 10, 64)
		if err != nil || cycle < 0 {
			s.writeError(w, badRequest("since_cycle must be a non-negative integer"))
			return
		}
		filter.SinceCycle = cycle
	}

	limit := defaultListLimit
	if v := query.Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= maxListLimit {
			limit = l
		}
	}

	recs, err := s.records.List(r.Context(), filter, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if recs == nil {
		recs = []*domain.MigrationRecord{}
	}

	writeJSON(w, http.StatusOK, listMigrationsResponse{Migrations: recs, Count: len(recs)})
}

// getMigration handles GET /api/v1/migrations/{id}
func (s *Server) getMigration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.records.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// listHosts handles GET /api/v1/hosts
func (s *Server) listHosts(w http.ResponseWriter, r *http.Request) {
	if s.hosts == nil {
		s.writeError(w, unavailable("no environment is attached to this instance"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": s.hosts.HostStatuses()})
}

// getSummary handles GET /api/v1/summary. A replica that does not run the
// loop answers from the summary the leader cached in Redis.
func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.lastSummary(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) lastSummary(ctx context.Context) (*domain.CycleSummary, error) {
	if s.engine != nil {
		if summary := s.engine.LastSummary(); summary != nil {
			return summary, nil
		}
	}
	if s.cache != nil {
		summary, err := s.cache.GetCycleSummary(ctx, s.config.DRS.Environment)
		if err == nil {
			return summary, nil
		}
		if !errors.Is(err, redis.ErrCacheMiss) {
			s.logger.Warn("Failed to read cached cycle summary", zap.Error(err))
		}
	}
	return nil, notFound("no consolidation cycle has completed yet")
}

// runCycle handles POST /api/v1/cycles: advance the environment one
// interval and consolidate.
func (s *Server) runCycle(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		s.writeError(w, unavailable("no consolidation loop is attached to this instance"))
		return
	}
	summary, err := s.engine.Step(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if summary == nil {
		// Not the leader.
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "skipped"})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type apiError struct {
	kind error
	msg  string
}

func (e *apiError) Error() string { return e.msg }
func (e *apiError) Unwrap() error { return e.kind }

func badRequest(msg string) error  { return &apiError{domain.ErrInvalidArgument, msg} }
func notFound(msg string) error    { return &apiError{domain.ErrNotFound, msg} }
func unavailable(msg string) error { return &apiError{domain.ErrUnavailable, msg} }

// httpStatus maps domain errors onto HTTP status codes.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrResourceExhausted):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
