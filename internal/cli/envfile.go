package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jaa/forge/internal/config"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// envFileNames are read in order from each directory; later files override
// earlier ones.
var envFileNames = []string{"forge.env", ".env", ".env.local"}

// forgeEnvKey reports whether an env file key is one forge reads. Anything
// else is ignored so unrelated project settings never reach nix or git.
func forgeEnvKey(key string) bool {
	switch key {
	case "GITHUB_TOKEN", "NO_COLOR":
		return true
	}
	return strings.HasPrefix(key, "FORGE_")
}

// envFileDirs lists the forge config directory followed by the working
// directory.
func envFileDirs(cwd string) []string {
	var dirs []string
	if path, err := config.UserConfigPath(); err == nil {
		dirs = append(dirs, filepath.Dir(path))
	}
	if strings.TrimSpace(cwd) != "" {
		dirs = append(dirs, cwd)
	}
	return dirs
}

// loadEnvFiles applies forge settings from env files in dirs. Variables
// already set in the process environment always win.
func loadEnvFiles(dirs []string, environ []string, setenv func(string, string) error) error {
	if setenv == nil {
		return errors.New("setenv is required")
	}

	protected := map[string]bool{}
	for _, pair := range environ {
		if key, _, ok := strings.Cut(pair, "="); ok {
			protected[key] = true
		}
	}

	seen := map[string]bool{}
	for _, dir := range dirs {
		for _, name := range envFileNames {
			path := filepath.Join(dir, name)
			if seen[path] {
				continue
			}
			seen[path] = true
			if err := applyEnvFile(path, protected, setenv); err != nil {
				return err
			}
		}
	}
	return nil
}

func applyEnvFile(path string, protected map[string]bool, setenv func(string, string) error) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		key, value, ok, parseErr := parseEnvLine(scanner.Text())
		if parseErr != nil {
			return fmt.Errorf("parse %s:%d: %w", path, lineNo, parseErr)
		}
		if !ok || protected[key] || !forgeEnvKey(key) {
			continue
		}
		if err := setenv(key, value); err != nil {
			return fmt.Errorf("set %s from %s: %w", key, path, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", path, err)
	}
	return nil
}

func parseEnvLine(raw string) (string, string, bool, error) {
	line := strings.TrimSpace(raw)
	if line == "" || strings.HasPrefix(line, "#") {
		return "", "", false, nil
	}
	line = strings.TrimSpace(strings.TrimPrefix(line, "export "))

	key, value, found := strings.Cut(line, "=")
	if !found {
		return "", "", false, errors.New("expected KEY=VALUE format")
	}
	key = strings.TrimSpace(key)
	if !envKeyPattern.MatchString(key) {
		return "", "", false, fmt.Errorf("invalid key %q", key)
	}
	value = strings.TrimSpace(value)

	switch {
	case len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"':
		decoded, err := strconv.Unquote(value)
		if err != nil {
			return "", "", false, fmt.Errorf("invalid quoted value for %q", key)
		}
		return key, decoded, true, nil
	case len(value) >= 2 && value[0] == '\'' && value[len(value)-1] == '\'':
		return key, value[1 : len(value)-1], true, nil
	}
	return key, value, true, nil
}
