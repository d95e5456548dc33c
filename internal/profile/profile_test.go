package profile

import (
	"os"
	"testing"
	"time"
)

func clearEnvVars() {
	vars := []string{
		"OPSPILOT_LLM_PROVIDER",
		"OPSPILOT_LLM_API_KEY",
		"OPSPILOT_LLM_BASE_URL",
		"OPSPILOT_LLM_MODEL",
		"OPSPILOT_LLM_TIMEOUT",
		"OPSPILOT_LLM_RETRIES",
		"OPSPILOT_PROMETHEUS_URL",
		"OPSPILOT_LOKI_URL",
		"OPSPILOT_MAX_MESSAGES",
		"OPSPILOT_TEAM_MESSAGE_LIMIT",
		"OPSPILOT_EXCHANGE_TIMEOUT_SECONDS",
	}
	for _, v := range vars {
		os.Unsetenv(v)
	}
}

func TestProfileDefaults(t *testing.T) {
	clearEnvVars()

	p := &Profile{}
	p.FromEnv()

	if p.LLMProvider != "openai" {
		t.Errorf("LLMProvider: expected openai, got %q", p.LLMProvider)
	}
	if p.LLMBaseURL != "https://api.openai.com/v1" {
		t.Errorf("LLMBaseURL: expected openai default, got %q", p.LLMBaseURL)
	}
	if p.LLMModel != "gpt-4o" {
		t.Errorf("LLMModel: expected gpt-4o, got %q", p.LLMModel)
	}
	if p.LLMTimeout != 120 {
		t.Errorf("LLMTimeout: expected 120, got %d", p.LLMTimeout)
	}
	if p.LLMRetries != 2 {
		t.Errorf("LLMRetries: expected 2, got %d", p.LLMRetries)
	}
	if p.MaxMessages != 20 {
		t.Errorf("MaxMessages: expected 20, got %d", p.MaxMessages)
	}
	if p.TeamMessageLimit != 10 {
		t.Errorf("TeamMessageLimit: expected 10, got %d", p.TeamMessageLimit)
	}
	if p.ConfidenceThreshold != 0.9 {
		t.Errorf("ConfidenceThreshold: expected 0.9, got %.2f", p.ConfidenceThreshold)
	}
	if p.ExchangeTimeout != 3*time.Minute {
		t.Errorf("ExchangeTimeout: expected 3m, got %s", p.ExchangeTimeout)
	}
}

func TestProfileProviderDefaults(t *testing.T) {
	clearEnvVars()

	p := &Profile{LLMProvider: "deepseek"}
	p.FromEnv()

	if p.LLMBaseURL != "https://api.deepseek.com" {
		t.Errorf("LLMBaseURL: expected deepseek default, got %q", p.LLMBaseURL)
	}
	if p.LLMModel != "deepseek-chat" {
		t.Errorf("LLMModel: expected deepseek-chat, got %q", p.LLMModel)
	}
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars()
	os.Setenv("OPSPILOT_LLM_PROVIDER", "ollama")
	os.Setenv("OPSPILOT_PROMETHEUS_URL", "http://prom.monitoring:9090")
	os.Setenv("OPSPILOT_LLM_RETRIES", "4")
	defer clearEnvVars()

	p := &Profile{}
	p.FromEnv()

	if p.LLMProvider != "ollama" {
		t.Errorf("LLMProvider: expected ollama, got %q", p.LLMProvider)
	}
	if p.LLMBaseURL != "http://localhost:11434" {
		t.Errorf("LLMBaseURL: expected ollama default, got %q", p.LLMBaseURL)
	}
	if p.PrometheusURL != "http://prom.monitoring:9090" {
		t.Errorf("PrometheusURL: expected env value, got %q", p.PrometheusURL)
	}
	if p.LLMRetries != 4 {
		t.Errorf("LLMRetries: expected 4, got %d", p.LLMRetries)
	}
}

func TestProfileExplicitValuesWin(t *testing.T) {
	clearEnvVars()
	os.Setenv("OPSPILOT_LLM_MODEL", "from-env")
	defer clearEnvVars()

	p := &Profile{LLMModel: "from-flag", LLMProvider: "openai"}
	p.FromEnv()

	if p.LLMModel != "from-flag" {
		t.Errorf("LLMModel: flag value should win over env, got %q", p.LLMModel)
	}
}

func TestProfileValidate(t *testing.T) {
	valid := func() *Profile {
		return &Profile{
			Mode:                "demo",
			Port:                28090,
			MaxMessages:         20,
			TeamMessageLimit:    10,
			ConfidenceThreshold: 0.9,
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("valid profile rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Profile)
	}{
		{"unknown mode", func(p *Profile) { p.Mode = "staging" }},
		{"zero port", func(p *Profile) { p.Port = 0 }},
		{"port out of range", func(p *Profile) { p.Port = 70000 }},
		{"missing api key outside demo", func(p *Profile) { p.Mode = "prod"; p.LLMProvider = "openai" }},
		{"zero max messages", func(p *Profile) { p.MaxMessages = 0 }},
		{"zero team limit", func(p *Profile) { p.TeamMessageLimit = 0 }},
		{"confidence above one", func(p *Profile) { p.ConfidenceThreshold = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid()
			tt.mutate(p)
			if err := p.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestProfileOllamaNeedsNoKey(t *testing.T) {
	p := &Profile{
		Mode:                "prod",
		Port:                28090,
		LLMProvider:         "ollama",
		MaxMessages:         20,
		TeamMessageLimit:    10,
		ConfidenceThreshold: 0.9,
	}
	if err := p.Validate(); err != nil {
		t.Fatalf("ollama without key rejected: %v", err)
	}
}
