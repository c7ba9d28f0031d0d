package config

import (
	"os"
	"testing"
)

func TestNewDefaults(t *testing.T) {
	// Env vars intentionally unset; the defaults must carry the config.
	for _, key := range []string{"PORT", "AUTH_KEY", "OPENAI_API_KEY", "OPENAI_BASE_URL", "REQUEST_TIMEOUT", "BIG_MODEL", "SMALL_MODEL", "MAX_TOKENS_LIMIT"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}

	cfg, err := New()
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if cfg.Upstream.BaseURL == "" || cfg.Models.Big == "" || cfg.Models.Small == "" {
		t.Errorf("Defaults missing: %+v", cfg)
	}
	if cfg.Models.MaxTokensLimit != 4096 {
		t.Errorf("Expected default max tokens limit 4096, got %d", cfg.Models.MaxTokensLimit)
	}
	if cfg.FixedKeyMode() {
		t.Error("No OPENAI_API_KEY must mean passthrough mode")
	}
}

func TestValidatePortAndMode(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: "not-a-port"},
		Upstream: UpstreamConfig{BaseURL: "http://x", TimeoutSeconds: 5},
		Models:   ModelsConfig{MaxTokensLimit: 100},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Non-numeric port must be rejected")
	}

	cfg.Server.Port = "8085"
	cfg.Server.AuthKey = "secret"
	cfg.Upstream.APIKey = ""
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Server.AuthKey != "" {
		t.Error("AUTH_KEY must be cleared in passthrough mode")
	}
	if !cfg.AuthKeyIgnored {
		t.Error("Discarding AUTH_KEY must be flagged for the startup warning")
	}

	cfg.Server.AuthKey = "secret"
	cfg.Upstream.APIKey = "sk-x"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Server.AuthKey != "secret" {
		t.Error("AUTH_KEY must survive in fixed-key mode")
	}
	if !cfg.FixedKeyMode() {
		t.Error("OPENAI_API_KEY set must mean fixed-key mode")
	}
}

func TestValidateNormalizesNonPositiveValues(t *testing.T) {
	cfg := &Config{
		Server:   ServerConfig{Port: "9000"},
		Upstream: UpstreamConfig{BaseURL: "http://x", TimeoutSeconds: 0},
		Models:   ModelsConfig{MaxTokensLimit: -1},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
	if cfg.Upstream.TimeoutSeconds <= 0 || cfg.Models.MaxTokensLimit <= 0 {
		t.Errorf("Non-positive values must normalize to defaults: %+v", cfg)
	}
}
