package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the SmartStress agent server.
type Config struct {
	Port       int
	Version    string
	Checkpoint CheckpointConfig
	Gemini     GeminiConfig
	Monitor    MonitorConfig
	RAG        RAGConfig
	Telemetry  TelemetryConfig
}

type CheckpointConfig struct {
	// Backend selects the checkpoint store: "memory" or "sqlite".
	Backend string
	// Path is the SQLite file (sqlite backend) or an optional JSON
	// snapshot file (memory backend; empty disables snapshots).
	Path string
	// UnknownThreadPolicy controls what a continue call does when no
	// checkpoint exists for the thread: "fresh" starts a blank session,
	// "reject" fails the request.
	UnknownThreadPolicy string
}

type GeminiConfig struct {
	APIKey          string
	GenerationModel string
	EmbeddingModel  string
	Endpoint        string
	Timeout         time.Duration
}

type MonitorConfig struct {
	// HRBaseline and HRScale parametrize the heart-rate heuristic:
	// probability = clamp((hr - baseline) / scale, 0, 1).
	HRBaseline float64
	HRScale    float64
	// HighStressThreshold gates the proactive stressor probe.
	HighStressThreshold float64
}

type RAGConfig struct {
	// CorpusDir is an optional folder of markdown advisory documents
	// ingested at startup. Empty skips seeding.
	CorpusDir string
	// IndexPath is the SQLite file for the persistent vector index.
	// Empty selects the in-memory index.
	IndexPath string
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("SMARTSTRESS_PORT", 8080),
		Version: envStr("SMARTSTRESS_VERSION", "0.2.0"),
		Checkpoint: CheckpointConfig{
			Backend:             envStr("SMARTSTRESS_CHECKPOINT_BACKEND", "memory"),
			Path:                envStr("SMARTSTRESS_CHECKPOINT_PATH", ""),
			UnknownThreadPolicy: envStr("SMARTSTRESS_UNKNOWN_THREAD_POLICY", "fresh"),
		},
		Gemini: GeminiConfig{
			APIKey:          envStr("GEMINI_API_KEY", ""),
			GenerationModel: envStr("GEMINI_GENERATION_MODEL", ""),
			EmbeddingModel:  envStr("GEMINI_EMBEDDING_MODEL", ""),
			Endpoint:        envStr("GEMINI_ENDPOINT", ""),
			Timeout:         envDuration("GEMINI_TIMEOUT", 30*time.Second),
		},
		Monitor: MonitorConfig{
			HRBaseline:          envFloat("SMARTSTRESS_HR_BASELINE", 60),
			HRScale:             envFloat("SMARTSTRESS_HR_SCALE", 60),
			HighStressThreshold: envFloat("SMARTSTRESS_HIGH_STRESS_THRESHOLD", 0.9),
		},
		RAG: RAGConfig{
			CorpusDir: envStr("SMARTSTRESS_RAG_CORPUS_DIR", ""),
			IndexPath: envStr("SMARTSTRESS_RAG_INDEX_PATH", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "smartstress-agent"),
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

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
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

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
