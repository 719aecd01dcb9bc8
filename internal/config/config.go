// Package config owns the user-facing settings file at
// .inkwell/settings.json: defaults, load with environment overrides,
// validation, and atomic save. Settings are plain data; applying them (e.g.
// swapping the active local model) is the model manager's job.
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"inkwell/internal/fault"
)

// CurrentVersion is the settings schema version written by this build. Older
// files are upgraded in place on load: unknown fields are dropped, missing
// ones take defaults.
const CurrentVersion = 1

// Settings holds all inkwell configuration.
type Settings struct {
	Version int `json:"version"`

	// Inline tab completion
	Completion CompletionSettings `json:"completion"`

	// Remote provider for skill runs
	Remote RemoteSettings `json:"remote"`

	// Optional HTTPS proxy in front of the remote provider
	Proxy ProxySettings `json:"proxy"`

	// Local model storage
	ModelsDir string `json:"models_dir,omitempty"`

	// Logging (read by the logging package at startup)
	Logging LoggingSettings `json:"logging"`
}

// CompletionSettings configures inline tab completion.
type CompletionSettings struct {
	Enabled bool `json:"enabled"`

	// ModelSelection is the id of the local model to complete with. Empty
	// means "whatever model is active".
	ModelSelection string `json:"model_selection,omitempty"`

	// DebounceMS is the quiet period after the last keystroke before a
	// completion fires.
	DebounceMS int `json:"debounce_ms"`

	// MaxTokens caps the length of a ghost-text suggestion.
	MaxTokens int `json:"max_tokens"`
}

// RemoteSettings configures the remote AI provider.
type RemoteSettings struct {
	Provider string `json:"provider"` // openai, gemini
	APIKey   string `json:"api_key,omitempty"`
	Model    string `json:"model,omitempty"`
}

// ProxySettings routes remote traffic through a user-supplied endpoint that
// speaks the same streaming protocol as the provider.
type ProxySettings struct {
	Enabled bool   `json:"enabled"`
	BaseURL string `json:"baseUrl,omitempty"`
}

// LoggingSettings configures debug logging. Field names must stay in sync
// with what the logging package parses out of settings.json.
type LoggingSettings struct {
	DebugMode  bool            `json:"debug_mode"`
	Categories map[string]bool `json:"categories,omitempty"`
	Level      string          `json:"level,omitempty"`
}

// ValidProviders lists the supported remote providers.
var ValidProviders = []string{"openai", "gemini"}

// Default returns the default settings.
func Default() *Settings {
	return &Settings{
		Version: CurrentVersion,
		Completion: CompletionSettings{
			Enabled:    true,
			DebounceMS: 300,
			MaxTokens:  64,
		},
		Remote: RemoteSettings{
			Provider: "openai",
		},
		Logging: LoggingSettings{
			Level: "info",
		},
	}
}

// Path returns the settings file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, ".inkwell", "settings.json")
}

// Load reads settings from the workspace, applying defaults for a missing
// file and environment overrides on top.
func Load(workspace string) (*Settings, error) {
	s := Default()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			s.applyEnvOverrides()
			return s, nil
		}
		return nil, fmt.Errorf("failed to read settings: %w", err)
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to parse settings: %w", err)
	}
	if s.Version < CurrentVersion {
		s.Version = CurrentVersion
	}

	s.applyEnvOverrides()
	return s, nil
}

// applyEnvOverrides applies environment variable overrides. Keys from the
// environment win over the file so CI and scripts never need to edit it.
func (s *Settings) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && s.Remote.Provider == "openai" {
		s.Remote.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && s.Remote.Provider == "gemini" {
		s.Remote.APIKey = key
	}
	if u := os.Getenv("INKWELL_PROXY_URL"); u != "" {
		s.Proxy.Enabled = true
		s.Proxy.BaseURL = u
	}
	if dir := os.Getenv("INKWELL_MODELS_DIR"); dir != "" {
		s.ModelsDir = dir
	}
}

// Validate checks the settings for internal consistency.
func (s *Settings) Validate() error {
	valid := false
	for _, p := range ValidProviders {
		if s.Remote.Provider == p {
			valid = true
			break
		}
	}
	if !valid {
		return fault.InvalidArgument("remote.provider",
			"invalid provider %q (valid: %v)", s.Remote.Provider, ValidProviders)
	}

	if s.Proxy.Enabled {
		if s.Proxy.BaseURL == "" {
			return fault.InvalidArgument("proxy.baseUrl", "required when proxy is enabled")
		}
		u, err := url.Parse(s.Proxy.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fault.InvalidArgument("proxy.baseUrl", "not a valid http(s) URL: %s", s.Proxy.BaseURL)
		}
	}

	if s.Completion.DebounceMS < 0 {
		return fault.InvalidArgument("completion.debounce_ms", "must be >= 0")
	}
	if s.Completion.MaxTokens < 0 {
		return fault.InvalidArgument("completion.max_tokens", "must be >= 0")
	}

	return nil
}

// Save validates and writes the settings atomically: marshal to a temp file
// in the same directory, fsync, then rename over the old file. A crash
// mid-save never leaves a truncated settings.json behind.
func (s *Settings) Save(workspace string) error {
	if err := s.Validate(); err != nil {
		return err
	}

	path := Path(workspace)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "settings-*.json.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close settings: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace settings: %w", err)
	}
	return nil
}

// ModelsPath returns the directory local models are stored in, defaulting to
// .inkwell/models under the workspace.
func (s *Settings) ModelsPath(workspace string) string {
	if s.ModelsDir != "" {
		return s.ModelsDir
	}
	return filepath.Join(workspace, ".inkwell", "models")
}
