// Package server exposes the match engine and the sync scheduler over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/spigell/jobmatch/internal/jobs"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 200
	maxBodyBytes     = 1 << 20
)

type Matcher interface {
	Match(ctx context.Context, q jobs.MatchQuery) (jobs.MatchResult, error)
}

type Syncer interface {
	TriggerAsync(ctx context.Context, trigger jobs.Trigger) error
	Running() bool
}

type RunLister interface {
	ListRuns(ctx context.Context, limit int) ([]jobs.SyncRun, error)
}

type Reindexer interface {
	Reindex(ctx context.Context, all bool) (jobs.ReindexResult, error)
}

type RecordCounter interface {
	Count(ctx context.Context) (jobs.Counts, error)
}

type CacheAdmin interface {
	Count(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

type Deps struct {
	Engine  Matcher
	Sync    Syncer
	Runs    RunLister
	Reindex Reindexer
	Records RecordCounter
	Cache   CacheAdmin
}

// Server is a chi router behind a stdlib http.Server.
type Server struct {
	deps   Deps
	logger *zap.Logger
	mux    *chi.Mux
	srv    *http.Server
}

func New(addr string, deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{deps: deps, logger: log, mux: chi.NewRouter()}

	s.mux.Use(chimw.RequestID)
	s.mux.Use(chimw.Recoverer)
	s.mux.Use(s.logRequests)

	s.mux.Get("/health", s.health)
	s.mux.Post("/match", s.match)
	s.mux.Route("/sync", func(r chi.Router) {
		r.Post("/", s.triggerSync)
		r.Get("/runs", s.listRuns)
	})
	s.mux.Route("/admin", func(r chi.Router) {
		r.Post("/reindex", s.reindex)
		r.Post("/clear-cache", s.clearCache)
		r.Get("/stats", s.stats)
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http listening", zap.String("addr", s.srv.Addr))
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	running := false
	if s.deps.Sync != nil {
		running = s.deps.Sync.Running()
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "syncRunning": running})
}

func (s *Server) match(w http.ResponseWriter, r *http.Request) {
	var q jobs.MatchQuery
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "decoding request: "+err.Error())
		return
	}

	res, err := s.deps.Engine.Match(r.Context(), q)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("match failed", zap.String("request_id", chimw.GetReqID(r.Context())), zap.Error(err))
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) triggerSync(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "sync is not configured")
		return
	}
	err := s.deps.Sync.TriggerAsync(r.Context(), jobs.TriggerManual)
	switch {
	case errors.Is(err, jobs.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("manual sync rejected", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	}
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit := defaultRunsLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxRunsLimit)
	}

	runs, err := s.deps.Runs.ListRuns(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing sync runs", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// reindex uploads unindexed active records, or all of them with ?all=true.
func (s *Server) reindex(w http.ResponseWriter, r *http.Request) {
	if s.deps.Reindex == nil {
		writeError(w, http.StatusServiceUnavailable, "reindex is not configured")
		return
	}
	all := false
	if raw := r.URL.Query().Get("all"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "all must be a boolean")
			return
		}
		all = v
	}

	res, err := s.deps.Reindex.Reindex(r.Context(), all)
	switch {
	case errors.Is(err, jobs.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		s.logger.Error("reindex failed", zap.Bool("all", all), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (s *Server) clearCache(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "cache is not configured")
		return
	}
	removed, err := s.deps.Cache.Clear(r.Context())
	if err != nil {
		s.logger.Error("clearing match cache", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

// stats reports record counts. A cache that cannot be counted is reported as
// null rather than failing the request.
func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Records == nil {
		writeError(w, http.StatusServiceUnavailable, "job store is not configured")
		return
	}
	counts, err := s.deps.Records.Count(r.Context())
	if err != nil {
		s.logger.Error("counting records", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	var cached *int
	if s.deps.Cache != nil {
		if n, err := s.deps.Cache.Count(r.Context()); err != nil {
			s.logger.Warn("counting match cache entries", zap.Error(err))
		} else {
			cached = &n
		}
	}

	running := false
	if s.deps.Sync != nil {
		running = s.deps.Sync.Running()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"records":     counts,
		"cached":      cached,
		"syncRunning": running,
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
		)
	})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, jobs.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
