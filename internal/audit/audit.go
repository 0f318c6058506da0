// Package audit logs every CLI command invocation together with the
// configuration it will run with. Secret values are reduced to "set" or
// "unset" before they reach the log.
package audit

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// auditedVar is one environment variable included in the audit record.
type auditedVar struct {
	key    string
	secret bool
}

// auditedVars is logged, in this order, on every command start.
var auditedVars = []auditedVar{
	{"EMBEDDING_PROVIDER", false},
	{"EMBEDDING_ENDPOINT", false},
	{"EMBEDDING_API_KEY", true},
	{"OLLAMA_HOST", false},
	{"OPENAI_API_KEY", true},
	{"AZURE_OPENAI_API_KEY", true},
	{"AZURE_OPENAI_ENDPOINT", false},
	{"GOOGLE_API_KEY", true},
	{"ARK_API_KEY", true},
	{"VECTOR_STORE", false},
	{"QDRANT_HOST", false},
	{"QDRANT_PORT", false},
	{"QDRANT_API_KEY", true},
	{"PGVECTOR_DSN", true},
	{"REDIS_ADDR", false},
	{"REDIS_PASSWORD", true},
	{"CORPUS_JOBS_DB", false},
	{"INGEST_WORKERS", false},
	{"INGEST_JOB_TIMEOUT", false},
	{"INGEST_RECONCILE", false},
	{"QUERY_TIMEOUT", false},
	{"CORPUS_API_KEY", true},
	{"LOG_LEVEL", false},
	{"LOG_FORMAT", false},
}

// secretKeys indexes the secret entries of auditedVars.
var secretKeys = func() map[string]bool {
	m := make(map[string]bool)
	for _, v := range auditedVars {
		if v.secret {
			m[v.key] = true
		}
	}
	return m
}()

// LogCommandStart records the command name, the config file it loaded and
// a sanitised snapshot of auditedVars.
func LogCommandStart(log *slog.Logger, command, configPath string) {
	attrs := make([]slog.Attr, 0, len(auditedVars)+2)
	attrs = append(attrs,
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	)
	for _, v := range auditedVars {
		attrs = append(attrs, slog.String(v.key, SanitiseKey(v.key, os.Getenv(v.key))))
	}
	log.LogAttrs(context.Background(), slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey returns "set"/"unset" for secret keys and the value (or
// "unset") for everything else.
func SanitiseKey(key, value string) string {
	switch {
	case value == "":
		return "unset"
	case secretKeys[key]:
		return "set"
	default:
		return value
	}
}

// displayPath shortens the home directory to "~"; empty means "none".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
