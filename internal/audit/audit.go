// Package audit records which command ran and with what configuration, so an
// operator can reconstruct a run from its logs. Secret values never reach the
// log: keys are reported as set or unset, and connection URLs lose their
// credentials.
package audit

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"
)

// kind says how a variable's value is rendered.
type kind int

const (
	plain  kind = iota // logged as is
	secret             // logged as "set" or "unset"
	dsn                // logged with the password removed
)

type variable struct {
	key  string
	kind kind
}

// groups lists the audited variables per concern, in log order.
var groups = []struct {
	name string
	vars []variable
}{
	{"chat", []variable{
		{"MODEL_PROVIDER", plain},
		{"OLLAMA_HOST", plain},
		{"OLLAMA_MODEL", plain},
		{"OPENAI_API_KEY", secret},
		{"OPENAI_MODEL", plain},
		{"AZURE_OPENAI_API_KEY", secret},
		{"AZURE_OPENAI_ENDPOINT", plain},
		{"AZURE_OPENAI_DEPLOYMENT", plain},
		{"AZURE_OPENAI_API_VERSION", plain},
		{"GOOGLE_API_KEY", secret},
		{"GEMINI_MODEL", plain},
		{"AWS_REGION", plain},
		{"BEDROCK_MODEL_ID", plain},
		{"AWS_SECRET_ACCESS_KEY", secret},
		{"AWS_SESSION_TOKEN", secret},
		{"MODEL_MAX_TOKENS", plain},
		{"MODEL_TEMPERATURE", plain},
	}},
	{"embedding", []variable{
		{"EMBEDDING_PROVIDER", plain},
		{"EMBEDDING_MODEL", plain},
		{"EMBEDDING_ENDPOINT", plain},
		{"EMBEDDING_API_KEY", secret},
		{"EMBEDDING_DIMENSIONS", plain},
		{"EMBEDDING_PREFIX_MODE", plain},
		{"HF_TOKEN", secret},
	}},
	{"index", []variable{
		{"QDRANT_HOST", plain},
		{"QDRANT_PORT", plain},
		{"QDRANT_COLLECTION", plain},
		{"QDRANT_API_KEY", secret},
		{"QDRANT_TLS", plain},
		{"VECTOR_METRIC", plain},
		{"TENANT_KEY", plain},
		{"RAGCORE_DB", plain},
	}},
	{"cache", []variable{
		{"REDIS_URL", dsn},
		{"CACHE_EXPIRATION_HOURS", plain},
	}},
	{"images", []variable{
		{"IMAGE_MODEL", plain},
		{"GOOGLE_CLOUD_PROJECT", plain},
		{"IMAGE_API_KEY", secret},
		{"VERTEX_AI_LOCATION", plain},
		{"IMAGE_DIR", plain},
		{"IMAGE_BASE_URL", plain},
	}},
	{"server", []variable{
		{"RAGCORE_HOST", plain},
		{"RAGCORE_PORT", plain},
		{"RAGCORE_API_KEY", secret},
		{"RAGCORE_TRUST_PROXY", plain},
		{"LOG_LEVEL", plain},
		{"LOG_FORMAT", plain},
		{"LANGFUSE_HOST", plain},
		{"LANGFUSE_PUBLIC_KEY", secret},
		{"LANGFUSE_SECRET_KEY", secret},
	}},
}

// LogCommandStart logs one "audit: command start" entry carrying the command
// name, the config file in use and the audited environment grouped by concern.
func LogCommandStart(ctx context.Context, log *slog.Logger, command, configPath string) {
	attrs := []slog.Attr{
		slog.String("command", command),
		slog.String("config_file", displayPath(configPath)),
	}
	for _, g := range groups {
		vals := make([]any, 0, len(g.vars))
		for _, v := range g.vars {
			vals = append(vals, slog.String(v.key, render(v.kind, os.Getenv(v.key))))
		}
		attrs = append(attrs, slog.Group(g.name, vals...))
	}
	log.LogAttrs(ctx, slog.LevelInfo, "audit: command start", attrs...)
}

// SanitiseKey renders value the way LogCommandStart would for key. Unknown
// keys are treated as plain.
func SanitiseKey(key, value string) string {
	for _, g := range groups {
		for _, v := range g.vars {
			if v.key == key {
				return render(v.kind, value)
			}
		}
	}
	return render(plain, value)
}

func render(k kind, value string) string {
	if value == "" {
		return "unset"
	}
	switch k {
	case secret:
		return "set"
	case dsn:
		return redactURL(value)
	default:
		return value
	}
}

// redactURL strips the password from a connection URL. Values that do not
// parse are reduced to "set" so nothing unparsed leaks.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "set"
	}
	return u.Redacted()
}

// displayPath shortens paths under the home directory to "~".
func displayPath(p string) string {
	if p == "" {
		return "none"
	}
	home, err := os.UserHomeDir()
	if err == nil && strings.HasPrefix(p, home) {
		return "~" + p[len(home):]
	}
	return p
}
