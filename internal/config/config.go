// Package config loads brian's server, web and CLI settings from environment
// variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the API server configuration.
type Config struct {
	// Server
	ListenAddr      string        // Address to listen on (e.g., ":8000")
	APIEnv          string        // production, development or test
	MaxRequestSize  int64         // Maximum size of incoming request bodies in bytes
	ShutdownTimeout time.Duration // Grace period for in-flight requests on shutdown

	// Authentication
	JWTSecret         string        // HMAC secret for signing access tokens
	AccessTokenExpire time.Duration // Lifetime of issued access tokens

	// Upstream completion API
	OpenAIAPIKey        string        // API key for the completion provider
	OpenAIAPIURL        string        // Base URL of the completion provider
	RequestTimeout      time.Duration // Timeout for upstream requests, zero for none
	AssistantConfigPath string        // YAML file with the assistant profile, empty for the built-in one
	MaxPromptTokens     int           // Reject prompts longer than this, zero to disable

	// Logging
	LogLevel      string // debug, info, warn, error
	LogFormat     string // json or console
	LogFile       string // empty for stdout
	LogMaxSize    int64  // rotate LogFile above this many bytes, zero disables rotation
	LogMaxBackups int    // rotated files to keep
	AuditLogFile  string // JSON lines trail of account events, empty to disable

	// CORS
	CORSAllowedOrigins []string
	CORSAllowedMethods []string
	CORSAllowedHeaders []string
	CORSMaxAge         time.Duration

	// Rate limiting
	RateLimitEnabled  bool          // Limit generation requests per user
	RateLimitMax      int           // Requests allowed per window
	RateLimitWindow   time.Duration // Window length
	RateLimitPrefix   string        // Redis key prefix
	RateLimitFallback bool          // Fall back to in-memory limiting when Redis is unavailable
	RedisAddr         string        // Redis address, empty for in-memory limiting only
	RedisPassword     string
	RedisDB           int
}

// New creates a server configuration from environment variables and validates it.
func New() (*Config, error) {
	cfg := &Config{
		ListenAddr:      getEnvString("LISTEN_ADDR", ":8000"),
		APIEnv:          getEnvString("API_ENV", "development"),
		MaxRequestSize:  getEnvInt64("MAX_REQUEST_SIZE", 1024*1024),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),

		JWTSecret:         getEnvString("JWT_SECRET", ""),
		AccessTokenExpire: getEnvDuration("ACCESS_TOKEN_EXPIRE", 60*time.Minute),

		OpenAIAPIKey:        getEnvString("OPENAI_API_KEY", ""),
		OpenAIAPIURL:        getEnvString("OPENAI_API_URL", "https://api.openai.com"),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 2*time.Minute),
		AssistantConfigPath: getEnvString("ASSISTANT_CONFIG_PATH", ""),
		MaxPromptTokens:     getEnvInt("MAX_PROMPT_TOKENS", 3000),

		LogLevel:      getEnvString("LOG_LEVEL", "info"),
		LogFormat:     getEnvString("LOG_FORMAT", "json"),
		LogFile:       getEnvString("LOG_FILE", ""),
		LogMaxSize:    getEnvInt64("LOG_MAX_SIZE", 0),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 3),
		AuditLogFile:  getEnvString("AUDIT_LOG_FILE", ""),

		CORSAllowedOrigins: getEnvStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods: getEnvStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders: getEnvStringSlice("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "Accept", "X-Request-ID"}),
		CORSMaxAge:         getEnvDuration("CORS_MAX_AGE", 24*time.Hour),

		RateLimitEnabled:  getEnvBool("RATE_LIMIT_ENABLED", true),
		RateLimitMax:      getEnvInt("RATE_LIMIT_MAX", 30),
		RateLimitWindow:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitPrefix:   getEnvString("RATE_LIMIT_PREFIX", "brian:ratelimit:"),
		RateLimitFallback: getEnvBool("RATE_LIMIT_FALLBACK", true),
		RedisAddr:         getEnvString("REDIS_ADDR", ""),
		RedisPassword:     getEnvString("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if c.AccessTokenExpire <= 0 {
		return fmt.Errorf("ACCESS_TOKEN_EXPIRE must be positive, got %s", c.AccessTokenExpire)
	}
	if c.RateLimitEnabled && (c.RateLimitMax <= 0 || c.RateLimitWindow <= 0) {
		return fmt.Errorf("RATE_LIMIT_MAX and RATE_LIMIT_WINDOW must be positive when rate limiting is enabled")
	}
	return nil
}

// DefaultConfig returns a configuration with default values and a placeholder
// JWT secret, for tests.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:          ":8000",
		APIEnv:              "test",
		MaxRequestSize:      1024 * 1024,
		ShutdownTimeout:     15 * time.Second,
		JWTSecret:           "test-secret",
		AccessTokenExpire:   60 * time.Minute,
		OpenAIAPIURL:        "https://api.openai.com",
		RequestTimeout:      2 * time.Minute,
		MaxPromptTokens:     3000,
		LogLevel:            "info",
		LogFormat:           "json",
		LogMaxBackups:       3,
		CORSAllowedOrigins:  []string{"*"},
		CORSAllowedMethods:  []string{"GET", "POST", "OPTIONS"},
		CORSAllowedHeaders:  []string{"Authorization", "Content-Type", "Accept", "X-Request-ID"},
		CORSMaxAge:          24 * time.Hour,
		RateLimitEnabled:    true,
		RateLimitMax:        30,
		RateLimitWindow:     time.Minute,
		RateLimitPrefix:     "brian:ratelimit:",
		RateLimitFallback:   true,
		AssistantConfigPath: "",
	}
}

// getEnvString retrieves a string value from an environment variable,
// falling back to the provided default value if the variable is not set.
func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvBool falls back to defaultValue when the variable is unset or not a boolean.
func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings ("90s", "1h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvStringSlice splits a comma-separated variable, falling back to
// defaultValue when it is unset or empty.
func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts
	}
	return defaultValue
}
