package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/corpus-go/internal/rag"
	"github.com/54b3r/corpus-go/internal/retriever"
	"github.com/54b3r/corpus-go/internal/store"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on all protected /api/* routes.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MetricsRegistry receives the server's HTTP metrics.
	// Defaults to prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is served on GET /metrics.
	// Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// jobService is the job manager surface used by the ingest and job handlers.
// *jobs.Manager satisfies it; tests inject a fake.
type jobService interface {
	Submit(ctx context.Context, sourceIDs []string) (*store.Job, error)
	Get(ctx context.Context, jobID string) (*store.Job, error)
	Retry(ctx context.Context, jobID string) (*store.Job, error)
	List(ctx context.Context, limit int) ([]*store.Job, error)
}

// querier answers multi-tier queries. *retriever.Retriever satisfies it.
type querier interface {
	Query(ctx context.Context, req retriever.Request) ([]rag.QueryResult, error)
}

// catalogue lists configured tiers and sources. *registry.Registry satisfies it.
type catalogue interface {
	Tiers() []rag.Tier
	Sources() []rag.Source
}

// Server is the HTTP server exposing ingestion, job status and query.
type Server struct {
	// jobs submits and reports ingestion jobs.
	jobs jobService
	// querier serves POST /api/query.
	querier querier
	// catalogue serves GET /api/sources.
	catalogue catalogue
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestRequest is the JSON body for POST /api/ingest.
type ingestRequest struct {
	// SourceIDs are the registry ids of the sources to ingest.
	SourceIDs []string `json:"source_ids"`
}

// jobAccepted is the JSON response for an accepted ingestion or retry.
type jobAccepted struct {
	JobID   string          `json:"job_id"`
	Status  store.JobStatus `json:"status"`
	RetryOf string          `json:"retry_of,omitempty"`
}

// jobsResponse is the JSON response for GET /api/jobs.
type jobsResponse struct {
	Jobs []*store.Job `json:"jobs"`
}

// queryRequest is the JSON body for POST /api/query.
type queryRequest struct {
	Text           string            `json:"text"`
	KPerTier       int               `json:"k_per_tier"`
	ScoreThreshold float32           `json:"score_threshold"`
	ActiveTiers    []string          `json:"active_tiers,omitempty"`
	Filter         map[string]string `json:"filter,omitempty"`
	Merge          string            `json:"merge,omitempty"`
}

// queryResponse is the JSON response for POST /api/query.
type queryResponse struct {
	Results []rag.QueryResult `json:"results"`
}

// sourcesResponse is the JSON response for GET /api/sources.
type sourcesResponse struct {
	Tiers   []rag.Tier   `json:"tiers"`
	Sources []rag.Source `json:"sources"`
}

// errorResponse is the JSON body of every error response.
type errorResponse struct {
	Error string `json:"error"`
	// Tier names the failing tier of a partial query failure.
	Tier string `json:"tier,omitempty"`
	// SourceID names the unknown source of a rejected ingestion.
	SourceID string `json:"source_id,omitempty"`
}
