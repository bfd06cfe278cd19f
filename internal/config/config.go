// Package config reads and writes the global ~/.chatfold/config.toml.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatfold/config.toml.
type Config struct {
	DefaultSession string `toml:"default_session"`
	Engine         Engine `toml:"engine"`
}

// Engine carries the folder engine tunables. Zero values mean "use the
// built-in defaults".
type Engine struct {
	SuggestedRefreshMinutes  int `toml:"suggested_refresh_minutes"`
	ChatlistUpdateMinutes    int `toml:"chatlist_update_minutes"`
	PinnedLimit              int `toml:"pinned_limit"`
	LoadExceptionsAfter      int `toml:"load_exceptions_after"`
	LoadExceptionsPerRequest int `toml:"load_exceptions_per_request"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
