// Package profile holds the runtime configuration of a chatloom instance.
package profile

import (
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the configuration used to start the pipeline.
type Profile struct {
	// Mode is "prod", "dev" or "demo".
	Mode string
	// Version is the service version at startup.
	Version string

	// FeedURL is the upstream websocket feed (WS_SOCK). Required.
	FeedURL string
	// ResultsDir is where archived conversations are written (RESULTS_DIR).
	ResultsDir string
	// OpsAddr is the listen address of the ops HTTP server (healthz,
	// metrics, live conversation snapshot). Empty disables the server.
	OpsAddr string

	// SuspendAfterSecs is the inactivity threshold before a conversation
	// is suspended (SUSPEND_AFTER_SECS).
	SuspendAfterSecs int
	// CompleteGraceSecs is the grace period after suspension before a
	// conversation without a usable event datetime is completed.
	CompleteGraceSecs int
	// ArchiveEvery triggers a lifecycle evaluation pass every N state
	// events (ARCHIVE_EVERY).
	ArchiveEvery int
	// ChannelCapacity bounds every pipeline channel.
	ChannelCapacity int
	// ExternalTimeoutSecs bounds every external service call.
	ExternalTimeoutSecs int
	// ConfidenceGate, when > 0, drops messages before disentanglement
	// unless they are labelled positive with at least this score.
	// Zero means every classified message is disentangled.
	ConfidenceGate float64

	// Continuation / datetime-extraction LLM (OpenAI-compatible protocol).
	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string

	// Embedding model for the semantic-similarity rule.
	EmbeddingAPIKey  string
	EmbeddingBaseURL string
	EmbeddingModel   string

	// Calendar text-classifier endpoint.
	ClassifierBaseURL string
}

// Provider default configurations for the LLM.
// Used when CHATLOOM_AI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "qwq:32b",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	if p.FeedURL == "" {
		p.FeedURL = os.Getenv("WS_SOCK")
	}
	if p.ResultsDir == "" {
		p.ResultsDir = getEnvOrDefault("RESULTS_DIR", "results")
	}
	if p.OpsAddr == "" {
		p.OpsAddr = getEnvOrDefault("CHATLOOM_OPS_ADDR", ":28090")
	}

	p.SuspendAfterSecs = getEnvOrDefaultInt("SUSPEND_AFTER_SECS", 30)
	p.CompleteGraceSecs = getEnvOrDefaultInt("CHATLOOM_COMPLETE_GRACE_SECS", 30)
	p.ArchiveEvery = getEnvOrDefaultInt("ARCHIVE_EVERY", 10)
	p.ChannelCapacity = getEnvOrDefaultInt("CHATLOOM_CHANNEL_CAPACITY", 64)
	p.ExternalTimeoutSecs = getEnvOrDefaultInt("CHATLOOM_EXTERNAL_TIMEOUT_SECS", 30)
	p.ConfidenceGate = getEnvOrDefaultFloat("CHATLOOM_CONFIDENCE_GATE", 0)

	// Continuation LLM configuration.
	p.LLMProvider = getEnvOrDefault("CHATLOOM_AI_LLM_PROVIDER", "ollama")
	p.LLMAPIKey = getEnvOrDefault("CHATLOOM_AI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("CHATLOOM_AI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("CHATLOOM_AI_LLM_MODEL", "")

	if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
		slog.Warn("unknown LLM provider, using default: ollama", "provider", p.LLMProvider)
		p.LLMProvider = "ollama"
	}
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	// Embedding configuration.
	p.EmbeddingAPIKey = getEnvOrDefault("CHATLOOM_AI_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("CHATLOOM_AI_EMBEDDING_BASE_URL", "http://localhost:11434/v1")
	p.EmbeddingModel = getEnvOrDefault("CHATLOOM_AI_EMBEDDING_MODEL", "all-minilm")

	// Calendar classifier endpoint.
	p.ClassifierBaseURL = getEnvOrDefault("CHATLOOM_CLASSIFIER_URL", "http://localhost:8080")
}

// Validate checks the profile and normalises the results directory to an
// absolute path, creating it if missing.
func (p *Profile) Validate() error {
	if p.FeedURL == "" {
		return errors.New("WS_SOCK is required")
	}
	u, err := url.Parse(p.FeedURL)
	if err != nil {
		return errors.Wrapf(err, "invalid feed url %s", p.FeedURL)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return errors.Errorf("feed url must use ws:// or wss:// scheme, got %q", u.Scheme)
	}

	if p.SuspendAfterSecs <= 0 {
		return errors.Errorf("suspend threshold must be positive, got %d", p.SuspendAfterSecs)
	}
	if p.ArchiveEvery <= 0 {
		return errors.Errorf("archive interval must be positive, got %d", p.ArchiveEvery)
	}
	if p.ChannelCapacity <= 0 {
		return errors.Errorf("channel capacity must be positive, got %d", p.ChannelCapacity)
	}

	dir := strings.TrimRight(p.ResultsDir, "\\/")
	if dir == "" {
		dir = "results"
	}
	if !filepath.IsAbs(dir) {
		absDir, err := filepath.Abs(dir)
		if err != nil {
			return errors.Wrapf(err, "unable to resolve results dir %s", dir)
		}
		dir = absDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "unable to create results dir %s", dir)
	}
	p.ResultsDir = dir

	return nil
}
