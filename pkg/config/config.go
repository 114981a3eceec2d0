// Package config loads the environment-driven configuration for every
// component wired together in cmd/agentcore, following the same
// getEnvOrDefault/Validate shape pkg/database/config.go uses for its own
// narrower slice of settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/nebula-assistant/agent-core/pkg/auth"
	"github.com/nebula-assistant/agent-core/pkg/database"
)

// Config is the full set of environment-driven settings for the service.
type Config struct {
	Env string // "production", "development", "test"; empty treated as development

	Database         database.Config
	DatabaseEnabled  bool // false when DB_HOST is not set
	Auth             auth.Config
	BackendURL       string // external ephemeris/tool backend base URL
	VectorIndexURL   string
	VectorIndexKey   string
	ObjectStoreURL   string
	ObjectStoreKey   string
	OriginURL        string // externally visible base URL for signed artifact links
	HMACSigningKey   []byte
	AnthropicAPIKey  string
	ChatModel        string
	ChatMaxTokens    int
	OpenAIAPIKey     string
	EmbeddingModel   string
	RateLimits       RateLimits
	ConcurrencyLimit int
}

// RateLimits holds the per-minute rate for each configured bucket, per
// spec §4.1.
type RateLimits struct {
	ChatPerMinute     int
	ToolPerMinute     int
	ExportPerMinute   int
	ArtifactPerMinute int
	GlobalIPPerMinute int
}

// IsProduction reports whether Env names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// LoadFromEnv builds a Config from the process environment. Missing the
// persistence binding is only an error in production, per spec §6; in any
// other environment it is tolerated with memory features disabled.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Env:              getEnvOrDefault("AGENT_ENV", "development"),
		BackendURL:       getEnvOrDefault("BACKEND_URL", ""),
		VectorIndexURL:   getEnvOrDefault("VECTOR_INDEX_URL", ""),
		VectorIndexKey:   getEnvOrDefault("VECTOR_INDEX_API_KEY", ""),
		ObjectStoreURL:   getEnvOrDefault("OBJECT_STORE_URL", ""),
		ObjectStoreKey:   getEnvOrDefault("OBJECT_STORE_API_KEY", ""),
		OriginURL:        getEnvOrDefault("ORIGIN_URL", "http://localhost:8080"),
		AnthropicAPIKey:  getEnvOrDefault("ANTHROPIC_API_KEY", ""),
		ChatModel:        getEnvOrDefault("CHAT_MODEL", "claude-3-5-sonnet-latest"),
		OpenAIAPIKey:     getEnvOrDefault("OPENAI_API_KEY", ""),
		EmbeddingModel:   getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-3-small"),
		ConcurrencyLimit: getEnvIntOrDefault("AGENT_CONCURRENCY_LIMIT", 4),
		RateLimits: RateLimits{
			ChatPerMinute:     getEnvIntOrDefault("RATE_LIMIT_CHAT_PER_MIN", 20),
			ToolPerMinute:     getEnvIntOrDefault("RATE_LIMIT_TOOL_PER_MIN", 10),
			ExportPerMinute:   getEnvIntOrDefault("RATE_LIMIT_EXPORT_PER_MIN", 10),
			ArtifactPerMinute: getEnvIntOrDefault("RATE_LIMIT_ARTIFACT_PER_MIN", 60),
			GlobalIPPerMinute: getEnvIntOrDefault("RATE_LIMIT_GLOBAL_IP_PER_MIN", 120),
		},
	}

	cfg.ChatMaxTokens = getEnvIntOrDefault("CHAT_MAX_TOKENS", 1024)

	signingKey := getEnvOrDefault("ARTIFACT_SIGNING_KEY", "")
	if signingKey == "" && cfg.IsProduction() {
		return nil, fmt.Errorf("ARTIFACT_SIGNING_KEY is required in production")
	}
	cfg.HMACSigningKey = []byte(signingKey)

	authCfg := auth.Config{
		PublicKeyPEM:     []byte(getEnvOrDefault("AUTH_PUBLIC_KEY_PEM", "")),
		SharedSecret:     []byte(getEnvOrDefault("AUTH_SHARED_SECRET", "")),
		ExpectedIssuer:   getEnvOrDefault("AUTH_EXPECTED_ISSUER", ""),
		ExpectedAudience: getEnvOrDefault("AUTH_EXPECTED_AUDIENCE", "agent-worker"),
		DevAdminToken:    getEnvOrDefault("DEV_ADMIN_TOKEN", ""),
	}
	cfg.Auth = authCfg

	if host := getEnvOrDefault("DB_HOST", ""); host != "" {
		dbCfg, err := database.LoadConfigFromEnv()
		if err != nil {
			return nil, fmt.Errorf("load database config: %w", err)
		}
		cfg.Database = dbCfg
		cfg.DatabaseEnabled = true
	} else if cfg.IsProduction() {
		return nil, fmt.Errorf("missing_binding: persistence is required in production but DB_HOST is not set")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultValue
	}
	return n
}
