package profile

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// LLM configuration (OpenAI-compatible protocol)
	// All providers (openai, azure, deepseek, ollama, ...) use the same config.
	LLMProvider string // Provider identifier: openai, azure, deepseek, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string // Model name: gpt-4o, deepseek-chat, etc.
	LLMTimeout  int    // LLM request timeout in seconds (default: 120)
	LLMRetries  int    // Bounded retries for failed LLM calls (default: 2)
	LLMRate     float64 // Max LLM requests per second (0 = unlimited)

	// Data sources queried by the specialist tools.
	PrometheusURL string
	LokiURL       string

	// Exchange limits.
	MaxMessages         int           // Overall per-exchange message ceiling (default: 20)
	TeamMessageLimit    int           // Per-team hand-off message ceiling (default: 10)
	ConfidenceThreshold float64       // Early-stop confidence (default: 0.9)
	ExchangeTimeout     time.Duration // Wall-clock bound per exchange (default: 3m)
	ParallelTeams       bool          // Dispatch teams concurrently (default: sequential)

	Mode    string // "prod", "dev", or "demo"
	Addr    string
	Port    int
	Version string
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsDemo returns true when the server runs against mock tools and a scripted
// reasoning backend instead of live Prometheus/Loki/LLM endpoints.
func (p *Profile) IsDemo() bool {
	return p.Mode == "demo"
}

// Provider default base URLs, used when LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "openai/gpt-4o",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
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

// FromEnv fills profile fields from environment variables.
// Flags and viper-bound values take precedence; env only fills what is unset.
func (p *Profile) FromEnv() {
	if p.LLMProvider == "" {
		p.LLMProvider = getEnvOrDefault("OPSPILOT_LLM_PROVIDER", "openai")
	}
	if p.LLMAPIKey == "" {
		p.LLMAPIKey = os.Getenv("OPSPILOT_LLM_API_KEY")
	}
	if p.LLMBaseURL == "" {
		p.LLMBaseURL = os.Getenv("OPSPILOT_LLM_BASE_URL")
	}
	if p.LLMModel == "" {
		p.LLMModel = os.Getenv("OPSPILOT_LLM_MODEL")
	}
	if p.LLMTimeout == 0 {
		p.LLMTimeout = getEnvOrDefaultInt("OPSPILOT_LLM_TIMEOUT", 120)
	}
	if p.LLMRetries == 0 {
		p.LLMRetries = getEnvOrDefaultInt("OPSPILOT_LLM_RETRIES", 2)
	}
	if p.PrometheusURL == "" {
		p.PrometheusURL = getEnvOrDefault("OPSPILOT_PROMETHEUS_URL", "http://localhost:9090")
	}
	if p.LokiURL == "" {
		p.LokiURL = getEnvOrDefault("OPSPILOT_LOKI_URL", "http://localhost:3100")
	}

	// Apply provider defaults for anything still missing.
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}

	if p.MaxMessages == 0 {
		p.MaxMessages = getEnvOrDefaultInt("OPSPILOT_MAX_MESSAGES", 20)
	}
	if p.TeamMessageLimit == 0 {
		p.TeamMessageLimit = getEnvOrDefaultInt("OPSPILOT_TEAM_MESSAGE_LIMIT", 10)
	}
	if p.ConfidenceThreshold == 0 {
		p.ConfidenceThreshold = 0.9
	}
	if p.ExchangeTimeout == 0 {
		p.ExchangeTimeout = time.Duration(getEnvOrDefaultInt("OPSPILOT_EXCHANGE_TIMEOUT_SECONDS", 180)) * time.Second
	}
}

// Validate checks the profile for configuration errors.
// Configuration errors are fatal at startup and never recovered at runtime.
func (p *Profile) Validate() error {
	switch p.Mode {
	case "prod", "dev", "demo":
	default:
		return errors.Errorf("invalid mode %q, expected prod, dev or demo", p.Mode)
	}

	if p.Port <= 0 || p.Port > 65535 {
		return errors.Errorf("invalid port %d", p.Port)
	}

	if !p.IsDemo() && p.LLMAPIKey == "" && p.LLMProvider != "ollama" {
		return errors.New("LLM API key is required outside demo mode (set OPSPILOT_LLM_API_KEY)")
	}

	if p.MaxMessages < 1 {
		return fmt.Errorf("max messages must be positive, got %d", p.MaxMessages)
	}
	if p.TeamMessageLimit < 1 {
		return fmt.Errorf("team message limit must be positive, got %d", p.TeamMessageLimit)
	}
	if p.ConfidenceThreshold <= 0 || p.ConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold must be in (0, 1], got %.2f", p.ConfidenceThreshold)
	}

	return nil
}
