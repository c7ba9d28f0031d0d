package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Upstream UpstreamConfig
	Models   ModelsConfig

	// AuthKeyIgnored records that AUTH_KEY was set but discarded
	// because passthrough mode cannot validate clients against it.
	// Surfaced as a startup warning.
	AuthKeyIgnored bool
}

type ServerConfig struct {
	Port string
	// AuthKey, when set, is the credential clients must present.
	// Only honored in fixed-key mode.
	AuthKey string
}

type UpstreamConfig struct {
	// APIKey selects the auth mode: set means fixed-key (always used
	// upstream), empty means passthrough (client credential forwarded).
	APIKey         string
	BaseURL        string
	TimeoutSeconds int
}

type ModelsConfig struct {
	Big            string
	Small          string
	MaxTokensLimit int
}

const (
	defaultServerPort     = "8085"
	defaultBaseURL        = "https://api.openai.com/v1"
	defaultBigModel       = "gpt-4o"
	defaultSmallModel     = "gpt-4o-mini"
	defaultTimeoutSeconds = 90
	defaultMaxTokens      = 4096
)

func New() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	var cfg Config

	cfg.Server.Port = getEnv("PORT", defaultServerPort)
	cfg.Server.AuthKey = os.Getenv("AUTH_KEY")

	cfg.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.Upstream.BaseURL = getEnv("OPENAI_BASE_URL", defaultBaseURL)
	cfg.Upstream.TimeoutSeconds = getEnvInt("REQUEST_TIMEOUT", defaultTimeoutSeconds)

	cfg.Models.Big = getEnv("BIG_MODEL", defaultBigModel)
	cfg.Models.Small = getEnv("SMALL_MODEL", defaultSmallModel)
	cfg.Models.MaxTokensLimit = getEnvInt("MAX_TOKENS_LIMIT", defaultMaxTokens)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks the configuration and normalizes mode conflicts.
func (c *Config) Validate() error {
	if _, err := strconv.Atoi(c.Server.Port); err != nil {
		return fmt.Errorf("invalid PORT value: %q (must be a number)", c.Server.Port)
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("OPENAI_BASE_URL must not be empty")
	}
	if c.Upstream.TimeoutSeconds <= 0 {
		c.Upstream.TimeoutSeconds = defaultTimeoutSeconds
	}
	if c.Models.MaxTokensLimit <= 0 {
		c.Models.MaxTokensLimit = defaultMaxTokens
	}

	// Passthrough mode forwards the client's credential upstream, so
	// there is nothing left to validate the client against.
	if c.Upstream.APIKey == "" && c.Server.AuthKey != "" {
		c.Server.AuthKey = ""
		c.AuthKeyIgnored = true
	}
	return nil
}

// FixedKeyMode reports whether a configured upstream key replaces the
// inbound credential.
func (c *Config) FixedKeyMode() bool {
	return c.Upstream.APIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
