//go:build !darwin

package config

import (
	"os"
	"path/filepath"
)

// xdgDir resolves an XDG base directory, falling back to $HOME/<fallback>.
// It returns "" when neither is available.
func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return filepath.Join(dir, "fitgate")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, fallback, "fitgate")
	}
	return ""
}

func defaultDataDir() string {
	if dir := xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")); dir != "" {
		return dir
	}
	return "fitgate-data"
}

func configDir() string {
	if dir := xdgDir("XDG_CONFIG_HOME", ".config"); dir != "" {
		return dir
	}
	return "."
}

func apiKeyHint() string {
	return " (or store it with `fitgate config set-secret`)"
}

func newPlatformBackend() ConfigBackend {
	return newFileBackend(filepath.Join(configDir(), "config.toml"))
}
