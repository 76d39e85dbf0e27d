// Package config provides configuration loading and path management.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Paths contains the standard paths for relay data.
type Paths struct {
	Data   string // ~/.local/share/relay
	Config string // ~/.config/relay
	Cache  string // ~/.cache/relay
	State  string // ~/.local/state/relay
}

// GetPaths returns the standard paths for relay data, honoring XDG and
// relay-specific overrides.
func GetPaths() *Paths {
	return &Paths{
		Data:   getEnvOrDefault("RELAY_DATA_DIR", filepath.Join(getEnvOrDefault("XDG_DATA_HOME", defaultDataHome()), "relay")),
		Config: getEnvOrDefault("RELAY_CONFIG_DIR", filepath.Join(getEnvOrDefault("XDG_CONFIG_HOME", defaultConfigHome()), "relay")),
		Cache:  getEnvOrDefault("RELAY_CACHE_DIR", filepath.Join(getEnvOrDefault("XDG_CACHE_HOME", defaultCacheHome()), "relay")),
		State:  getEnvOrDefault("RELAY_STATE_DIR", filepath.Join(getEnvOrDefault("XDG_STATE_HOME", defaultStateHome()), "relay")),
	}
}

// EnsurePaths creates all required directories.
func (p *Paths) EnsurePaths() error {
	for _, dir := range []string{p.Data, p.Config, p.Cache, p.State, p.SessionsDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// DatabasePath returns the path to the relational store when using the
// embedded SQLite driver.
func (p *Paths) DatabasePath() string {
	return filepath.Join(p.Data, "relay.db")
}

// SessionsDir returns the host filesystem root under which each session
// gets a <sessionID>/{workspace,agent,git} mount tree.
func (p *Paths) SessionsDir() string {
	return filepath.Join(p.State, "sessions")
}

// SessionMountDir returns the host mount root for a single session.
func (p *Paths) SessionMountDir(sessionID string) string {
	return filepath.Join(p.SessionsDir(), sessionID)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func defaultDataHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "share")
}

func defaultConfigHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".config")
}

func defaultCacheHome() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "cache")
	}
	return filepath.Join(os.Getenv("HOME"), ".cache")
}

func defaultStateHome() string {
	if runtime.GOOS == "windows" {
		return os.Getenv("APPDATA")
	}
	return filepath.Join(os.Getenv("HOME"), ".local", "state")
}

// GlobalConfigPath returns the path to the global config file.
func GlobalConfigPath() string {
	return filepath.Join(GetPaths().Config, "relay.yaml")
}
