package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_NoFile(t *testing.T) {
	t.Parallel()

	cfg, path, err := Load("/nonexistent/path/config.yaml", slog.Default())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != "" {
		t.Errorf("expected empty path, got %q", path)
	}
	if cfg == nil || len(cfg.Tiers) != 0 || len(cfg.Sources) != 0 {
		t.Errorf("expected empty config, got %+v", cfg)
	}
}

func TestLoad_ValidFile(t *testing.T) {
	cfgPath := writeConfig(t, `
embedding:
  provider: ollama
  ollama_host: http://ollama.internal:11434
  batch_size: 16
  qps: 2.5
vector_store:
  backend: qdrant
  qdrant:
    host: qdrant.internal
    port: 6334
    tls: true
jobs:
  workers: 8
  timeout: 10m
  reconcile: false
logging:
  level: debug
  format: text
`)

	clearEnv(t,
		"EMBEDDING_PROVIDER", "OLLAMA_HOST", "EMBEDDING_BATCH_SIZE", "EMBEDDING_QPS",
		"VECTOR_STORE", "QDRANT_HOST", "QDRANT_PORT", "QDRANT_TLS",
		"INGEST_WORKERS", "INGEST_JOB_TIMEOUT", "INGEST_RECONCILE",
		"LOG_LEVEL", "LOG_FORMAT",
	)

	_, loaded, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != cfgPath {
		t.Errorf("loaded path: got %q, want %q", loaded, cfgPath)
	}

	checks := map[string]string{
		"EMBEDDING_PROVIDER":   "ollama",
		"OLLAMA_HOST":          "http://ollama.internal:11434",
		"EMBEDDING_BATCH_SIZE": "16",
		"EMBEDDING_QPS":        "2.5",
		"VECTOR_STORE":         "qdrant",
		"QDRANT_HOST":          "qdrant.internal",
		"QDRANT_PORT":          "6334",
		"QDRANT_TLS":           "true",
		"INGEST_WORKERS":       "8",
		"INGEST_JOB_TIMEOUT":   "10m",
		"INGEST_RECONCILE":     "false",
		"LOG_LEVEL":            "debug",
		"LOG_FORMAT":           "text",
	}
	for k, want := range checks {
		if got := os.Getenv(k); got != want {
			t.Errorf("env %s: got %q, want %q", k, got, want)
		}
	}
}

func TestLoad_TiersAndSources(t *testing.T) {
	cfgPath := writeConfig(t, `
tiers:
  - name: STANDARD
    model: nomic-embed-text
    collection: docs
    dimension: 768
  - name: HIGH
    model: text-embedding-3-large
    provider: openai
    collection: code
    dimension: 4096
sources:
  - id: k8s_docs
    tier: STANDARD
    fetch_kind: http
    base_config:
      url: https://kubernetes.io/docs/concepts/
    chunk_size: 800
    chunk_overlap: 100
    metadata:
      team: platform
`)

	cfg, _, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Tiers) != 2 {
		t.Fatalf("tiers: got %d, want 2", len(cfg.Tiers))
	}
	if cfg.Tiers[1].Provider != "openai" || cfg.Tiers[1].Dimension != 4096 {
		t.Errorf("HIGH tier: got %+v", cfg.Tiers[1])
	}
	if len(cfg.Sources) != 1 {
		t.Fatalf("sources: got %d, want 1", len(cfg.Sources))
	}
	src := cfg.Sources[0]
	if src.BaseConfig["url"] != "https://kubernetes.io/docs/concepts/" {
		t.Errorf("base_config url: got %q", src.BaseConfig["url"])
	}
	if src.ChunkSize != 800 || src.ChunkOverlap != 100 || src.Metadata["team"] != "platform" {
		t.Errorf("source: got %+v", src)
	}
}

func TestLoad_ChunkOverlapDefaultsOnlyWhenAbsent(t *testing.T) {
	cfgPath := writeConfig(t, `
sources:
  - id: implicit
    tier: STANDARD
    fetch_kind: inline
  - id: explicit_zero
    tier: STANDARD
    fetch_kind: inline
    chunk_size: 500
    chunk_overlap: 0
  - id: small
    tier: STANDARD
    fetch_kind: inline
    chunk_size: 50
`)

	cfg, _, err := Load(cfgPath, slog.Default())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := map[string]int{"implicit": 100, "explicit_zero": 0, "small": 0}
	for _, src := range cfg.Sources {
		if src.ChunkOverlap != want[src.ID] {
			t.Errorf("%s: chunk_overlap got %d, want %d", src.ID, src.ChunkOverlap, want[src.ID])
		}
	}
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	cfgPath := writeConfig(t, `
embedding:
  provider: openai
`)

	t.Setenv("EMBEDDING_PROVIDER", "ollama")

	if _, _, err := Load(cfgPath, slog.Default()); err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := os.Getenv("EMBEDDING_PROVIDER"); got != "ollama" {
		t.Errorf("EMBEDDING_PROVIDER: got %q, want %q (env should override YAML)", got, "ollama")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	t.Parallel()

	cfgPath := writeConfig(t, "{{invalid yaml")
	if _, _, err := Load(cfgPath, slog.Default()); err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t,
		"VECTOR_STORE", "QDRANT_PORT", "INGEST_WORKERS", "INGEST_JOB_TIMEOUT",
		"INGEST_RECONCILE", "JOB_RETENTION", "QUERY_TIMEOUT", "CORPUS_PORT",
	)

	rt, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if rt.VectorStore != "qdrant" || rt.QdrantPort != 6334 {
		t.Errorf("vector store defaults: got %q:%d", rt.VectorStore, rt.QdrantPort)
	}
	if rt.Workers != 4 || rt.JobTimeout != 30*time.Minute {
		t.Errorf("job defaults: workers=%d timeout=%s", rt.Workers, rt.JobTimeout)
	}
	if !rt.Reconcile {
		t.Error("reconcile should default to true")
	}
	if rt.QueryTimeout != 10*time.Second {
		t.Errorf("query timeout: got %s", rt.QueryTimeout)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("INGEST_WORKERS", "2")
	t.Setenv("INGEST_RECONCILE", "false")
	t.Setenv("QUERY_TIMEOUT", "250ms")

	rt, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if rt.Workers != 2 || rt.Reconcile || rt.QueryTimeout != 250*time.Millisecond {
		t.Errorf("got workers=%d reconcile=%v query_timeout=%s", rt.Workers, rt.Reconcile, rt.QueryTimeout)
	}
}

func TestFromEnv_ReportsEveryBadValue(t *testing.T) {
	t.Setenv("INGEST_WORKERS", "many")
	t.Setenv("QUERY_TIMEOUT", "soon")

	_, err := FromEnv()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"INGEST_WORKERS", "QUERY_TIMEOUT"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q does not mention %s", err, key)
		}
	}
}

func TestFloatStr(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want string
	}{
		{0, ""},
		{2.5, "2.5"},
		{10, "10"},
		{0.125, "0.125"},
	}
	for _, tt := range tests {
		if got := floatStr(tt.in); got != tt.want {
			t.Errorf("floatStr(%v): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
