package config

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultAPIURL is the API address used when BRIAN_API_URL is unset.
const DefaultAPIURL = "http://127.0.0.1:8000"

// ClientConfig holds settings for the CLI commands that talk to the API.
type ClientConfig struct {
	APIURL          string        // BRIAN_API_URL
	CredentialStore string        // BRIAN_CREDENTIAL_STORE: auto, keyring, file or memory
	CredentialFile  string        // BRIAN_CREDENTIAL_FILE, empty for the default location
	RequestTimeout  time.Duration // BRIAN_REQUEST_TIMEOUT, zero for no timeout
	StrictExpiry    bool          // BRIAN_STRICT_EXPIRY: only 401/403 end the session
	HistoryFile     string        // BRIAN_HISTORY_FILE for the chat REPL
}

// NewClientConfig reads the CLI settings from the environment.
func NewClientConfig() *ClientConfig {
	return &ClientConfig{
		APIURL:          EnvOrDefault("BRIAN_API_URL", DefaultAPIURL),
		CredentialStore: EnvOrDefault("BRIAN_CREDENTIAL_STORE", "auto"),
		CredentialFile:  EnvOrDefault("BRIAN_CREDENTIAL_FILE", ""),
		RequestTimeout:  getEnvDuration("BRIAN_REQUEST_TIMEOUT", 0),
		StrictExpiry:    EnvBoolOrDefault("BRIAN_STRICT_EXPIRY", false),
		HistoryFile:     EnvOrDefault("BRIAN_HISTORY_FILE", defaultHistoryFile()),
	}
}

func defaultHistoryFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "brian", "chat_history")
}

// WebConfig holds settings for the server-rendered login and chat pages.
type WebConfig struct {
	ListenAddr    string        // WEB_LISTEN_ADDR
	APIURL        string        // BRIAN_API_URL
	SessionSecret string        // SESSION_SECRET, signs the session cookie
	SecureCookie  bool          // WEB_SECURE_COOKIE
	SessionMaxAge time.Duration // WEB_SESSION_MAX_AGE
	StrictExpiry  bool          // BRIAN_STRICT_EXPIRY
	LogLevel      string
	LogFormat     string
	LogFile       string
}

// NewWebConfig reads the web front-end settings from the environment.
func NewWebConfig() *WebConfig {
	return &WebConfig{
		ListenAddr:    EnvOrDefault("WEB_LISTEN_ADDR", ":8081"),
		APIURL:        EnvOrDefault("BRIAN_API_URL", DefaultAPIURL),
		SessionSecret: EnvOrDefault("SESSION_SECRET", ""),
		SecureCookie:  EnvBoolOrDefault("WEB_SECURE_COOKIE", false),
		SessionMaxAge: getEnvDuration("WEB_SESSION_MAX_AGE", time.Hour),
		StrictExpiry:  EnvBoolOrDefault("BRIAN_STRICT_EXPIRY", false),
		LogLevel:      EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:     EnvOrDefault("LOG_FORMAT", "json"),
		LogFile:       EnvOrDefault("LOG_FILE", ""),
	}
}
