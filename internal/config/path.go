package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

func UserConfigPath() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); strings.TrimSpace(xdg) != "" {
		return filepath.Join(xdg, "forge", "config.yaml"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "forge", "config.yaml"), nil
}

func ProjectConfigPath(cwd string) string {
	return filepath.Join(cwd, "forge.yaml")
}

func defaultStateDir() string {
	if xdg := os.Getenv("XDG_STATE_HOME"); strings.TrimSpace(xdg) != "" {
		return filepath.Join(xdg, "forge")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "./.forge-state"
	}
	return filepath.Join(home, ".local", "state", "forge")
}

func ExpandPath(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(strings.TrimSpace(raw))
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
	}

	return filepath.Clean(expanded), nil
}

// LockBackupPath is where the pre-update copy of flake.lock is kept.
func LockBackupPath(stateDir string) (string, error) {
	dir, err := ExpandPath(stateDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "flake.lock.bak"), nil
}

// LogPath is the file forge writes its diagnostic log to.
func LogPath(stateDir string) (string, error) {
	dir, err := ExpandPath(stateDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "forge.log"), nil
}
