// Package server implements the HTTP API of the corpus engine: ingestion
// requests, job status polling, multi-tier queries, and the source catalogue.
// The server is started by the `corpus serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/corpus-go/internal/jobs"
	"github.com/54b3r/corpus-go/internal/logging"
	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/retriever"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// New constructs a Server from the job manager, the retriever and the
// source catalogue.
func New(jm jobService, q querier, cat catalogue, cfg *Config) (*Server, error) {
	if jm == nil || q == nil || cat == nil {
		return nil, errors.New("server: job manager, querier and catalogue must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		jobs:      jm,
		querier:   q,
		catalogue: cat,
		cfg:       cfg,
		log:       log,
		pingers:   cfg.Pingers,
		metrics:   newServerMetrics(cfg.MetricsRegistry),
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, log)
	s.stopRL = stop

	if cfg.APIKey == "" {
		log.Warn("server: CORPUS_API_KEY not set, API authentication disabled")
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.routes(rl),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s, nil
}

// routes builds the request mux. Health, readiness and metrics are public;
// every other /api route requires the API key when one is configured.
func (s *Server) routes(rl *rateLimiter) http.Handler {
	protect := func(name string, h http.HandlerFunc, limited bool) http.Handler {
		var next http.Handler = h
		if limited {
			next = rl.middleware(next)
		}
		return s.instrument(name, authMiddleware(s.cfg.APIKey, next))
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	mux.Handle("POST /api/ingest", protect("ingest", s.handleIngest, true))
	mux.Handle("GET /api/jobs", protect("jobs_list", s.handleListJobs, false))
	mux.Handle("GET /api/jobs/{job_id}", protect("job_get", s.handleGetJob, false))
	mux.Handle("POST /api/jobs/{job_id}/retry", protect("job_retry", s.handleRetryJob, true))
	mux.Handle("POST /api/query", protect("query", s.handleQuery, true))
	mux.Handle("GET /api/sources", protect("sources", s.handleSources, false))

	return requestLogger(s.log, mux)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleIngest handles POST /api/ingest. Unknown sources are rejected with
// 400 before any job is created.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.SourceIDs) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "source_ids is required"})
		return
	}

	job, err := s.jobs.Submit(r.Context(), req.SourceIDs)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status})
}

// handleGetJob handles GET /api/jobs/{job_id}.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusOK, job)
}

// handleRetryJob handles POST /api/jobs/{job_id}/retry.
func (s *Server) handleRetryJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Retry(r.Context(), r.PathValue("job_id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(r.Context(), w, http.StatusAccepted, jobAccepted{JobID: job.ID, Status: job.Status, RetryOf: job.RetryOf})
}

// handleListJobs handles GET /api/jobs?limit=N.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "limit must be an integer in [1, 500]"})
			return
		}
		limit = n
	}
	list, err := s.jobs.List(r.Context(), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	writeJSON(r.Context(), w, http.StatusOK, jobsResponse{Jobs: list})
}

// handleQuery handles POST /api/query.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	merge, err := retriever.ParseMergeStrategy(req.Merge)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	results, err := s.querier.Query(r.Context(), retriever.Request{
		Text:           req.Text,
		KPerTier:       req.KPerTier,
		ScoreThreshold: req.ScoreThreshold,
		ActiveTiers:    req.ActiveTiers,
		Filter:         req.Filter,
		Merge:          merge,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if results == nil {
		results = []rag.QueryResult{}
	}
	writeJSON(r.Context(), w, http.StatusOK, queryResponse{Results: results})
}

// handleSources handles GET /api/sources.
func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	writeJSON(r.Context(), w, http.StatusOK, sourcesResponse{
		Tiers:   s.catalogue.Tiers(),
		Sources: s.catalogue.Sources(),
	})
}

// writeServiceError maps the error taxonomy onto HTTP status codes.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	var (
		unknown *rag.UnknownSourceError
		partial *rag.QueryPartialTierFailure
		timeout *rag.QueryTimeoutError
	)
	switch {
	case errors.As(err, &unknown):
		writeError(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error(), SourceID: unknown.SourceID})
	case errors.Is(err, rag.ErrJobNotFound):
		writeError(ctx, w, http.StatusNotFound, errorResponse{Error: "job not found"})
	case errors.Is(err, rag.ErrUnknownTier),
		errors.Is(err, retriever.ErrEmptyQuery),
		errors.Is(err, retriever.ErrInvalidRequest),
		errors.Is(err, jobs.ErrNoSources):
		writeError(ctx, w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrNothingToRetry),
		errors.Is(err, jobs.ErrJobNotTerminal):
		writeError(ctx, w, http.StatusConflict, errorResponse{Error: err.Error()})
	case errors.Is(err, jobs.ErrShuttingDown):
		writeError(ctx, w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
	case errors.As(err, &timeout):
		writeError(ctx, w, http.StatusGatewayTimeout, errorResponse{Error: err.Error(), Tier: timeout.Tier})
	case errors.As(err, &partial):
		writeError(ctx, w, http.StatusBadGateway, errorResponse{Error: err.Error(), Tier: partial.Tier})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful can be written.
		logging.FromContext(ctx).Info("request cancelled by client")
	default:
		logging.FromContext(ctx).Error("request failed", slog.String("error", err.Error()))
		writeError(ctx, w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// decodeBody decodes a JSON body into v, writing 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeError(ctx context.Context, w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(ctx, w, status, body)
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.FromContext(ctx).Error("response encode error", slog.Any("error", err))
	}
}
