package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Runtime is the resolved scalar configuration, read from env vars after
// Load has mirrored the YAML file into them.
type Runtime struct {
	VectorStore  string
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool
	PostgresDSN  string

	RedisAddr     string
	RedisPassword string

	JobsDB       string
	Workers      int
	JobTimeout   time.Duration
	Reconcile    bool
	JobRetention time.Duration

	QueryTimeout time.Duration

	Host   string
	Port   int
	APIKey string
}

// FromEnv resolves Runtime from the environment. Malformed numbers and
// durations are reported together.
func FromEnv() (Runtime, error) {
	p := &parser{}
	rt := Runtime{
		VectorStore:   envOr("VECTOR_STORE", "qdrant"),
		QdrantHost:    envOr("QDRANT_HOST", "localhost"),
		QdrantPort:    p.integer("QDRANT_PORT", 6334),
		QdrantAPIKey:  os.Getenv("QDRANT_API_KEY"),
		QdrantTLS:     p.boolean("QDRANT_TLS", false),
		PostgresDSN:   os.Getenv("PGVECTOR_DSN"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		JobsDB:        os.Getenv("CORPUS_JOBS_DB"),
		Workers:       p.integer("INGEST_WORKERS", 4),
		JobTimeout:    p.duration("INGEST_JOB_TIMEOUT", 30*time.Minute),
		Reconcile:     p.boolean("INGEST_RECONCILE", true),
		JobRetention:  p.duration("JOB_RETENTION", 7*24*time.Hour),
		QueryTimeout:  p.duration("QUERY_TIMEOUT", 10*time.Second),
		Host:          envOr("CORPUS_HOST", "127.0.0.1"),
		Port:          p.integer("CORPUS_PORT", 8080),
		APIKey:        os.Getenv("CORPUS_API_KEY"),
	}
	if err := errors.Join(p.errs...); err != nil {
		return Runtime{}, fmt.Errorf("config: %w", err)
	}
	return rt, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// parser collects conversion errors so every bad variable is reported.
type parser struct {
	errs []error
}

func (p *parser) integer(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (p *parser) boolean(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}
