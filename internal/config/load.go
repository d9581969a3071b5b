package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type LoadOptions struct {
	ExplicitPath string
	WorkingDir   string
	Env          map[string]string
}

type fileConfig struct {
	Version           *int         `yaml:"version"`
	FlakeDir          *string      `yaml:"flake_dir"`
	Hostname          *string      `yaml:"hostname"`
	StateDir          *string      `yaml:"state_dir"`
	OutputBufferLines *int         `yaml:"output_buffer_lines"`
	LocalChanges      *string      `yaml:"local_changes"`
	Rebuild           fileRebuild  `yaml:"rebuild"`
	Tools             *[]fileTool  `yaml:"tools"`
	Profiles          fileProfiles `yaml:"profiles"`
	Shell             fileShell    `yaml:"shell"`
}

type fileRebuild struct {
	Command               []string `yaml:"command"`
	CommandTimeoutSeconds *int     `yaml:"command_timeout_seconds"`
}

type fileTool struct {
	Name       string `yaml:"name"`
	Step       string `yaml:"step"`
	Path       string `yaml:"path"`
	Version    string `yaml:"version"`
	Update     string `yaml:"update"`
	NPMPackage string `yaml:"npm_package"`
}

type fileProfiles struct {
	Command    *string `yaml:"command"`
	ConfigPath *string `yaml:"config_path"`
}

type fileShell struct {
	Enabled           *bool   `yaml:"enabled"`
	Dispatcher        *string `yaml:"dispatcher"`
	SettleMillis      *int    `yaml:"settle_ms"`
	StartupWaitMillis *int    `yaml:"startup_wait_ms"`
}

func Load(opts LoadOptions) (Config, error) {
	cfg := DefaultConfig()

	cwd := opts.WorkingDir
	if strings.TrimSpace(cwd) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("resolve working directory: %w", err)
		}
		cwd = wd
	}

	env := opts.Env
	if env == nil {
		env = osEnvMap()
	}

	if explicit := strings.TrimSpace(opts.ExplicitPath); explicit != "" {
		if err := mergeFile(&cfg, explicit, true); err != nil {
			return Config{}, err
		}
	} else {
		userPath, err := UserConfigPath()
		if err != nil {
			return Config{}, err
		}
		if err := mergeFile(&cfg, userPath, false); err != nil {
			return Config{}, err
		}

		if err := mergeFile(&cfg, ProjectConfigPath(cwd), false); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg, env); err != nil {
		return Config{}, err
	}

	normalize(&cfg)
	return cfg, nil
}

func mergeFile(cfg *Config, path string, required bool) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil
		}
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config file does not exist: %s", path)
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(payload, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.Version != nil {
		cfg.Version = *fc.Version
	}
	if fc.FlakeDir != nil {
		cfg.FlakeDir = strings.TrimSpace(*fc.FlakeDir)
	}
	if fc.Hostname != nil {
		cfg.Hostname = strings.TrimSpace(*fc.Hostname)
	}
	if fc.StateDir != nil {
		cfg.StateDir = strings.TrimSpace(*fc.StateDir)
	}
	if fc.OutputBufferLines != nil {
		cfg.OutputBufferLines = *fc.OutputBufferLines
	}
	if fc.LocalChanges != nil {
		cfg.LocalChanges = LocalChangesPolicy(strings.ToLower(strings.TrimSpace(*fc.LocalChanges)))
	}
	if len(fc.Rebuild.Command) > 0 {
		cfg.Rebuild.Command = append([]string{}, fc.Rebuild.Command...)
	}
	if fc.Rebuild.CommandTimeoutSeconds != nil {
		cfg.Rebuild.CommandTimeoutSeconds = *fc.Rebuild.CommandTimeoutSeconds
	}

	if fc.Tools != nil {
		cfg.Tools = make([]Tool, 0, len(*fc.Tools))
		for _, ft := range *fc.Tools {
			cfg.Tools = append(cfg.Tools, Tool{
				Name:       strings.TrimSpace(ft.Name),
				Step:       strings.TrimSpace(ft.Step),
				Path:       strings.TrimSpace(ft.Path),
				Version:    strings.TrimSpace(ft.Version),
				Update:     strings.TrimSpace(ft.Update),
				NPMPackage: strings.TrimSpace(ft.NPMPackage),
			})
		}
	}

	if fc.Profiles.Command != nil {
		cfg.Profiles.Command = strings.TrimSpace(*fc.Profiles.Command)
	}
	if fc.Profiles.ConfigPath != nil {
		cfg.Profiles.ConfigPath = strings.TrimSpace(*fc.Profiles.ConfigPath)
	}

	if fc.Shell.Enabled != nil {
		cfg.Shell.Enabled = *fc.Shell.Enabled
	}
	if fc.Shell.Dispatcher != nil {
		cfg.Shell.Dispatcher = strings.TrimSpace(*fc.Shell.Dispatcher)
	}
	if fc.Shell.SettleMillis != nil {
		cfg.Shell.SettleMillis = *fc.Shell.SettleMillis
	}
	if fc.Shell.StartupWaitMillis != nil {
		cfg.Shell.StartupWaitMillis = *fc.Shell.StartupWaitMillis
	}

	return nil
}

func applyEnvOverrides(cfg *Config, env map[string]string) error {
	if value := strings.TrimSpace(env["FORGE_FLAKE_DIR"]); value != "" {
		cfg.FlakeDir = value
	}
	if value := strings.TrimSpace(env["FORGE_HOSTNAME"]); value != "" {
		cfg.Hostname = value
	}
	if value := strings.TrimSpace(env["FORGE_STATE_DIR"]); value != "" {
		cfg.StateDir = value
	}
	if value := strings.TrimSpace(env["FORGE_OUTPUT_BUFFER_LINES"]); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid FORGE_OUTPUT_BUFFER_LINES value %q: %w", value, err)
		}
		cfg.OutputBufferLines = parsed
	}
	if value := strings.TrimSpace(env["FORGE_LOCAL_CHANGES"]); value != "" {
		cfg.LocalChanges = LocalChangesPolicy(strings.ToLower(value))
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.LocalChanges == "" {
		cfg.LocalChanges = LocalChangesAbort
	}
	for i := range cfg.Tools {
		if cfg.Tools[i].Step == "" {
			fields := strings.Fields(cfg.Tools[i].Name)
			if len(fields) > 0 {
				cfg.Tools[i].Step = fields[0]
			}
		}
	}
}

func osEnvMap() map[string]string {
	result := map[string]string{}
	for _, pair := range os.Environ() {
		pieces := strings.SplitN(pair, "=", 2)
		if len(pieces) == 2 {
			result[pieces[0]] = pieces[1]
		}
	}
	return result
}

func EnsureConfigDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}
