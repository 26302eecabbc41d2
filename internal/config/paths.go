package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvConfigPath overrides the default config location.
const EnvConfigPath = "SHELLPM_CONFIG"

func DefaultConfigPath() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellpm/config.toml"
	}
	return filepath.Join(home, ".shellpm", "config.toml")
}

func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", errors.New("empty path")
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return home, nil
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

func ResolveStorageRoot(cfg Config) (string, error) {
	expanded, err := ExpandPath(cfg.Storage.Root)
	if err != nil {
		return "", err
	}
	return filepath.Abs(filepath.Clean(expanded))
}

func ResolveDeclarationsFile(cfg Config) (string, error) {
	expanded, err := ExpandPath(cfg.Declarations.File)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}
