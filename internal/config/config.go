package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the conductor service.
// Built once by Load and passed explicitly to every component.
type Config struct {
	Port      int
	Version   string
	Store     StoreConfig
	Models    ModelConfig
	Agents    AgentConfig
	Query     QueryConfig
	Tools     ToolConfig
	Retention RetentionConfig
	Notify    NotifyConfig
	Telemetry TelemetryConfig
}

type StoreConfig struct {
	Driver     string // "memory" or "sqlite"
	DataDir    string
	SQLitePath string
}

type ModelConfig struct {
	DefaultModel   string
	OpenAIKey      string
	AnthropicKey   string
	LocalAIBaseURL string
	LocalAIKey     string
	Timeout        time.Duration
	MaxRetries     int
	EmbeddingModel string
}

type AgentConfig struct {
	File          string // optional agents.yaml
	MaxIterations int
	ToolTimeout   time.Duration
	StepTimeout   time.Duration // per plan step
}

type QueryConfig struct {
	TopK             int
	SQLMaxIterations int
	Timeout          time.Duration
	PgvectorDSN      string
	SQLDriver        string // "sqlite" or "postgres"
	SQLDSN           string
}

type ToolConfig struct {
	SMTPAddr      string
	SMTPUser      string
	SMTPPassword  string
	SMTPFrom      string
	SearchResults int
}

type RetentionConfig struct {
	Schedule     string
	ArchiveAfter time.Duration
	ArchiveDir   string // optional JSONL export of archived plans
	Compress     bool
}

type NotifyConfig struct {
	WebhookURLs   []string // plan lifecycle webhooks; empty disables
	WebhookSecret string   // HMAC-SHA256 signing key
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Insecure     bool
	SampleRatio  float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("PORT", 8080),
		Version: envStr("CONDUCTOR_VERSION", "0.1.0"),
		Store: StoreConfig{
			Driver:     envStr("CONDUCTOR_STORE", "memory"),
			DataDir:    envStr("CONDUCTOR_DATA_DIR", ""),
			SQLitePath: envStr("CONDUCTOR_SQLITE_PATH", "conductor.db"),
		},
		Models: ModelConfig{
			DefaultModel:   envStr("CONDUCTOR_DEFAULT_MODEL", "gpt-4o-mini"),
			OpenAIKey:      envStr("OPENAI_API_KEY", ""),
			AnthropicKey:   envStr("ANTHROPIC_API_KEY", ""),
			LocalAIBaseURL: envStr("LOCALAI_BASE_URL", ""),
			LocalAIKey:     envStr("LOCALAI_API_KEY", ""),
			Timeout:        envDuration("CONDUCTOR_MODEL_TIMEOUT", 60*time.Second),
			MaxRetries:     envInt("CONDUCTOR_MODEL_RETRIES", 2),
			EmbeddingModel: envStr("CONDUCTOR_EMBEDDING_MODEL", "text-embedding-3-small"),
		},
		Agents: AgentConfig{
			File:          envStr("CONDUCTOR_AGENTS_FILE", ""),
			MaxIterations: envInt("CONDUCTOR_MAX_ITERATIONS", 10),
			ToolTimeout:   envDuration("CONDUCTOR_TOOL_TIMEOUT", 30*time.Second),
			StepTimeout:   envDuration("CONDUCTOR_PLAN_STEP_TIMEOUT", 2*time.Minute),
		},
		Query: QueryConfig{
			TopK:             envInt("CONDUCTOR_TOP_K", 5),
			SQLMaxIterations: envInt("CONDUCTOR_SQL_MAX_ITERATIONS", 15),
			Timeout:          envDuration("CONDUCTOR_QUERY_TIMEOUT", 30*time.Second),
			PgvectorDSN:      envStr("CONDUCTOR_PGVECTOR_DSN", ""),
			SQLDriver:        envStr("CONDUCTOR_SQL_DRIVER", "sqlite"),
			SQLDSN:           envStr("CONDUCTOR_SQL_DSN", ""),
		},
		Tools: ToolConfig{
			SMTPAddr:      envStr("SMTP_ADDR", ""),
			SMTPUser:      envStr("SMTP_USER", ""),
			SMTPPassword:  envStr("SMTP_PASSWORD", ""),
			SMTPFrom:      envStr("SMTP_FROM", ""),
			SearchResults: envInt("CONDUCTOR_SEARCH_RESULTS", 3),
		},
		Retention: RetentionConfig{
			Schedule:     envStr("CONDUCTOR_ARCHIVE_SCHEDULE", "@daily"),
			ArchiveAfter: envDuration("CONDUCTOR_ARCHIVE_AFTER", 30*24*time.Hour),
			ArchiveDir:   envStr("CONDUCTOR_ARCHIVE_DIR", ""),
			Compress:     envBool("CONDUCTOR_ARCHIVE_COMPRESS", true),
		},
		Notify: NotifyConfig{
			WebhookURLs:   envList("CONDUCTOR_WEBHOOK_URLS"),
			WebhookSecret: envStr("CONDUCTOR_WEBHOOK_SECRET", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "conductor"),
			Insecure:     envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// envList splits a comma-separated variable, dropping blanks.
func envList(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
