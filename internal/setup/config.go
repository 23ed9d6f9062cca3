// Package setup writes the .env file the API server and web pages read.
package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sofatutor/brian/internal/utils"
)

// secretBytes is the entropy of generated secrets.
const secretBytes = 32

// SetupConfig holds configuration parameters for setup.
type SetupConfig struct {
	EnvPath       string
	OpenAIAPIKey  string
	JWTSecret     string
	SessionSecret string
	DatabasePath  string
	ListenAddr    string
	// RotateSecrets replaces secrets already present in the env file.
	RotateSecrets bool
}

// ValidateConfig validates the setup configuration.
func (sc *SetupConfig) ValidateConfig() error {
	if sc.OpenAIAPIKey == "" {
		return fmt.Errorf("OpenAI API key is required")
	}
	if sc.EnvPath == "" {
		return fmt.Errorf("env file path is required")
	}
	if sc.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if sc.ListenAddr == "" {
		return fmt.Errorf("listen address is required")
	}
	return nil
}

// GenerateSecrets fills in missing JWT and session secrets.
func (sc *SetupConfig) GenerateSecrets() error {
	for _, secret := range []*string{&sc.JWTSecret, &sc.SessionSecret} {
		if *secret != "" {
			continue
		}
		token, err := utils.GenerateSecureToken(secretBytes)
		if err != nil {
			return fmt.Errorf("failed to generate secret: %w", err)
		}
		*secret = token
	}
	return nil
}

// ReadExisting returns the variables already in the env file, or an empty map
// when it does not exist.
func ReadExisting(path string) (map[string]string, error) {
	env, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return env, nil
}

// WriteConfigFile merges the configuration into the env file, keeping
// unrelated variables, and restricts it to the owner.
func (sc *SetupConfig) WriteConfigFile() error {
	if err := sc.ValidateConfig(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(sc.EnvPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(sc.DatabasePath), 0755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	env, err := ReadExisting(sc.EnvPath)
	if err != nil {
		return err
	}
	env["OPENAI_API_KEY"] = sc.OpenAIAPIKey
	env["DATABASE_PATH"] = sc.DatabasePath
	env["LISTEN_ADDR"] = sc.ListenAddr
	setSecret(env, "JWT_SECRET", sc.JWTSecret, sc.RotateSecrets)
	setSecret(env, "SESSION_SECRET", sc.SessionSecret, sc.RotateSecrets)
	if _, ok := env["LOG_LEVEL"]; !ok {
		env["LOG_LEVEL"] = "info"
	}

	if err := godotenv.Write(env, sc.EnvPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Chmod(sc.EnvPath, 0600); err != nil {
		return fmt.Errorf("failed to restrict config file permissions: %w", err)
	}
	return nil
}

func setSecret(env map[string]string, key, value string, rotate bool) {
	if existing := env[key]; existing != "" && !rotate {
		return
	}
	env[key] = value
}

// RunNonInteractiveSetup generates missing secrets and writes the env file.
func RunNonInteractiveSetup(sc *SetupConfig) error {
	if err := sc.GenerateSecrets(); err != nil {
		return err
	}
	if err := sc.WriteConfigFile(); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}
	return nil
}
