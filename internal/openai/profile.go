// Package openai talks to an OpenAI-compatible chat completion API on behalf
// of the generate-text endpoint.
package openai

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultModel is used when the profile does not name one.
const DefaultModel = "gpt-3.5-turbo"

const defaultSystemPrompt = `You are Brian, a friendly AI assistant.

Rules:
- Your name is Brian.
- Never say you are OpenAI, ChatGPT, or a language model.
- You help college students with coding, AI, and projects.
- Be concise, friendly, and professional.
`

// Profile is the assistant persona sent with every prompt.
type Profile struct {
	Name         string   `yaml:"name"`
	Model        string   `yaml:"model"`
	SystemPrompt string   `yaml:"system_prompt"`
	Temperature  *float64 `yaml:"temperature,omitempty"`
	MaxTokens    int      `yaml:"max_tokens,omitempty"`
}

// DefaultProfile returns the built-in Brian profile.
func DefaultProfile() *Profile {
	return &Profile{
		Name:         "Brian",
		Model:        DefaultModel,
		SystemPrompt: defaultSystemPrompt,
	}
}

// LoadProfile reads a profile from a YAML file. An empty path returns the
// built-in profile. Fields missing from the file keep their defaults.
func LoadProfile(path string) (*Profile, error) {
	profile := DefaultProfile()
	if path == "" {
		return profile, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assistant profile: %w", err)
	}
	if err := yaml.Unmarshal(data, profile); err != nil {
		return nil, fmt.Errorf("failed to parse assistant profile: %w", err)
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

// Validate checks the profile values.
func (p *Profile) Validate() error {
	if strings.TrimSpace(p.Model) == "" {
		return fmt.Errorf("assistant profile has empty model")
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 2) {
		return fmt.Errorf("assistant profile temperature must be between 0 and 2, got %v", *p.Temperature)
	}
	if p.MaxTokens < 0 {
		return fmt.Errorf("assistant profile max_tokens must not be negative")
	}
	return nil
}
