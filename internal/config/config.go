// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config is the complete secondbrain-tui configuration.
type Config struct {
	Version string `toml:"version"`

	Assistant AssistantConfig `toml:"assistant"`
	Features  FeatureConfig   `toml:"features"`
	Storage   StorageConfig   `toml:"storage"`
	UI        UIConfig        `toml:"ui"`
}

// AssistantConfig points at the assistant service.
type AssistantConfig struct {
	// BaseURL is the root of the assistant HTTP API.
	BaseURL string `toml:"base_url"`
	// Model is the model identifier sent with every chat request.
	Model string `toml:"model"`
	// SendsPerMinute throttles outgoing sends. 0 disables the limiter.
	SendsPerMinute int `toml:"sends_per_minute"`
	// MaxRetries bounds retry attempts for transient send failures.
	MaxRetries int `toml:"max_retries"`
}

// FeatureConfig holds the per-send capability flags.
type FeatureConfig struct {
	// EnableRAG requests retrieval-augmented context for each send.
	EnableRAG bool `toml:"enable_rag"`
	// EnableWebSearch lets the assistant consult web search.
	EnableWebSearch bool `toml:"enable_web_search"`
	// EnableTools lets the assistant execute server-side tools.
	EnableTools bool `toml:"enable_tools"`
}

// StorageConfig locates the local conversation database.
type StorageConfig struct {
	// DatabasePath is the SQLite file. Empty means the default under the
	// config directory.
	DatabasePath string `toml:"database_path"`
}

// UIConfig contains presentation settings.
type UIConfig struct {
	// Theme is "dark", "light", or "auto".
	Theme string `toml:"theme"`
	// ShowTokens displays token estimates in the status line.
	ShowTokens bool `toml:"show_tokens"`
	// ShowThinking expands reasoning steps by default.
	ShowThinking bool `toml:"show_thinking"`
	// PlainMode skips the full-screen UI in favor of a line-based REPL.
	PlainMode bool `toml:"plain_mode"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Assistant: AssistantConfig{
			BaseURL:        "http://127.0.0.1:8000",
			Model:          "",
			SendsPerMinute: 0,
			MaxRetries:     3,
		},

		Features: FeatureConfig{
			EnableRAG:       true,
			EnableWebSearch: false,
			EnableTools:     true,
		},

		Storage: StorageConfig{
			DatabasePath: "",
		},

		UI: UIConfig{
			Theme:        "dark",
			ShowTokens:   true,
			ShowThinking: true,
			PlainMode:    false,
		},
	}
}

// =============================================================================
// PATH HELPERS
// =============================================================================

// Dir returns the secondbrain configuration directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".secondbrain"), nil
}

// Path returns the TOML config file path.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// DatabasePath resolves the SQLite path, falling back to the default
// location under the config directory.
func (c *Config) DatabasePath() (string, error) {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "conversations.db"), nil
}

// EnsureDir creates the config directory if needed.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	return os.MkdirAll(dir, 0755)
}

// =============================================================================
// LOAD / SAVE
// =============================================================================

// Load reads the config file, fills defaults, applies environment
// overrides, and validates. A missing file yields the defaults.
func Load() (*Config, error) {
	path, err := Path()
	if err != nil {
		return nil, err
	}
	return LoadFromPath(path)
}

// LoadFromPath loads configuration from a specific TOML file.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if _, statErr := os.Stat(path); statErr == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration to the default TOML file with 0600
// permissions.
func Save(cfg *Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	return SaveTOML(cfg, path)
}

// SaveTOML saves the configuration to a TOML file.
func SaveTOML(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	fmt.Fprintln(file, "# secondbrain-tui configuration file")
	fmt.Fprintln(file, "")

	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// SetDefaults fills missing fields from the defaults.
func (c *Config) SetDefaults() {
	defaults := Default()

	if c.Version == "" {
		c.Version = defaults.Version
	}
	if c.Assistant.BaseURL == "" {
		c.Assistant.BaseURL = defaults.Assistant.BaseURL
	}
	if c.Assistant.MaxRetries == 0 {
		c.Assistant.MaxRetries = defaults.Assistant.MaxRetries
	}
	if c.UI.Theme == "" {
		c.UI.Theme = defaults.UI.Theme
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns any errors.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Assistant.BaseURL != "" {
		u, err := url.Parse(c.Assistant.BaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "assistant.base_url",
				Message: fmt.Sprintf("invalid URL '%s'", c.Assistant.BaseURL),
			})
		}
	}

	if c.Assistant.SendsPerMinute < 0 {
		errs = append(errs, ValidationError{
			Field:   "assistant.sends_per_minute",
			Message: "must be non-negative",
		})
	}

	if c.Assistant.MaxRetries < 1 || c.Assistant.MaxRetries > 10 {
		errs = append(errs, ValidationError{
			Field:   "assistant.max_retries",
			Message: fmt.Sprintf("must be 1-10, got %d", c.Assistant.MaxRetries),
		})
	}

	validThemes := map[string]bool{"dark": true, "light": true, "auto": true}
	if !validThemes[strings.ToLower(c.UI.Theme)] {
		errs = append(errs, ValidationError{
			Field:   "ui.theme",
			Message: fmt.Sprintf("invalid theme '%s', must be one of: dark, light, auto", c.UI.Theme),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
//
// Supported environment variables:
//   - SECONDBRAIN_URL: overrides assistant.base_url
//   - SECONDBRAIN_MODEL: overrides assistant.model
//   - SECONDBRAIN_DB: overrides storage.database_path
//   - SECONDBRAIN_PLAIN: "1" or "true" forces the line-based REPL
//   - SECONDBRAIN_RAG: "1"/"true"/"0"/"false" toggles retrieval
//   - SECONDBRAIN_MAX_RETRIES: overrides assistant.max_retries
func (c *Config) ApplyEnvOverrides() {
	if u := os.Getenv("SECONDBRAIN_URL"); u != "" {
		c.Assistant.BaseURL = u
	}
	if model := os.Getenv("SECONDBRAIN_MODEL"); model != "" {
		c.Assistant.Model = model
	}
	if db := os.Getenv("SECONDBRAIN_DB"); db != "" {
		c.Storage.DatabasePath = db
	}
	if plain := os.Getenv("SECONDBRAIN_PLAIN"); plain != "" {
		c.UI.PlainMode = plain == "1" || strings.ToLower(plain) == "true"
	}
	if rag := os.Getenv("SECONDBRAIN_RAG"); rag != "" {
		c.Features.EnableRAG = rag == "1" || strings.ToLower(rag) == "true"
	}
	if retries := os.Getenv("SECONDBRAIN_MAX_RETRIES"); retries != "" {
		if n, err := strconv.Atoi(retries); err == nil && n > 0 {
			c.Assistant.MaxRetries = n
		}
	}
}

// =============================================================================
// TIMEOUTS
// =============================================================================

// ReloadDebounce is how long the watcher waits after the last write event
// before reloading, coalescing editor save bursts.
const ReloadDebounce = 300 * time.Millisecond
