package main

import (
	"context"
	"os"
	"path/filepath"

	"inkwell/internal/config"
	"inkwell/internal/logging"
	"inkwell/internal/model"
	"inkwell/internal/skill"
	"inkwell/internal/telemetry"
	"inkwell/internal/transport"
)

// defaultLocalServer is where the managed model server listens.
const defaultLocalServer = "http://127.0.0.1:8753"

func localServerURL() string {
	if u := os.Getenv("INKWELL_LOCAL_SERVER"); u != "" {
		return u
	}
	return defaultLocalServer
}

// loadSettings loads and validates the workspace settings.
func loadSettings() (*config.Settings, error) {
	s, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// loadSkills builds the skill catalog: built-ins plus any user skill packs
// under .inkwell/skills.
func loadSkills() *skill.Store {
	store := skill.NewStore()
	n, err := store.LoadDir(filepath.Join(workspace, ".inkwell", "skills"))
	if err != nil {
		logging.Get(logging.CategoryBoot).Warn("failed to load skill packs: %v", err)
	} else if n > 0 {
		logging.Get(logging.CategoryBoot).Info("loaded %d user skills", n)
	}
	return store
}

// buildRemoteTransport constructs the transport skill runs stream over,
// honoring the proxy setting and the provider choice.
func buildRemoteTransport(ctx context.Context, s *config.Settings) (transport.Transport, error) {
	switch s.Remote.Provider {
	case "gemini":
		cfg := transport.DefaultGeminiConfig(s.Remote.APIKey)
		if s.Remote.Model != "" {
			cfg.Model = s.Remote.Model
		}
		return transport.NewGeminiClient(ctx, cfg)
	default:
		cfg := transport.DefaultRemoteConfig(s.Remote.APIKey)
		if s.Proxy.Enabled {
			cfg.BaseURL = s.Proxy.BaseURL
		}
		if s.Remote.Model != "" {
			cfg.Model = s.Remote.Model
		}
		return transport.NewRemoteClient(cfg), nil
	}
}

// buildManager constructs the local model manager over the local transport.
func buildManager(s *config.Settings) (*model.Manager, error) {
	local := transport.NewLocalClient(transport.LocalConfig{
		BaseURL:   localServerURL(),
		MaxTokens: s.Completion.MaxTokens,
	})
	return model.NewManager(workspace, s, local, telemetry.NewZapCollector(logger))
}
