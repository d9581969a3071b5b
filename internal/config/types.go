package config

// LocalChangesPolicy decides what an update does with uncommitted changes
// in the configuration checkout.
type LocalChangesPolicy string

const (
	LocalChangesAbort     LocalChangesPolicy = "abort"
	LocalChangesStash     LocalChangesPolicy = "stash"
	LocalChangesOverwrite LocalChangesPolicy = "overwrite"
)

type Config struct {
	Version           int                `yaml:"version"`
	FlakeDir          string             `yaml:"flake_dir"`
	Hostname          string             `yaml:"hostname,omitempty"`
	StateDir          string             `yaml:"state_dir"`
	OutputBufferLines int                `yaml:"output_buffer_lines"`
	LocalChanges      LocalChangesPolicy `yaml:"local_changes"`
	Rebuild           RebuildConfig      `yaml:"rebuild"`
	Tools             []Tool             `yaml:"tools"`
	Profiles          Profiles           `yaml:"profiles"`
	Shell             Shell              `yaml:"shell"`
}

type RebuildConfig struct {
	Command               []string `yaml:"command"`
	CommandTimeoutSeconds int      `yaml:"command_timeout_seconds,omitempty"`
}

// Tool is an auxiliary CLI updated after the system rebuild.
type Tool struct {
	Name       string `yaml:"name"`
	Step       string `yaml:"step"`
	Path       string `yaml:"path"`
	Version    string `yaml:"version,omitempty"`
	Update     string `yaml:"update"`
	NPMPackage string `yaml:"npm_package,omitempty"`
}

type Profiles struct {
	Command    string `yaml:"command"`
	ConfigPath string `yaml:"config_path"`
}

type Shell struct {
	Enabled           bool   `yaml:"enabled"`
	Dispatcher        string `yaml:"dispatcher"`
	SettleMillis      int    `yaml:"settle_ms"`
	StartupWaitMillis int    `yaml:"startup_wait_ms"`
}

func DefaultConfig() Config {
	return Config{
		Version:           1,
		FlakeDir:          "~/.config/nixos",
		StateDir:          defaultStateDir(),
		OutputBufferLines: 1000,
		LocalChanges:      LocalChangesAbort,
		Rebuild: RebuildConfig{
			Command: []string{"sudo", "nixos-rebuild", "switch"},
		},
		Tools: []Tool{
			{
				Name:    "Claude Code",
				Step:    "Claude",
				Path:    "~/.local/bin/claude",
				Version: "~/.local/bin/claude --version",
				Update:  "~/.local/bin/claude update",
			},
			{
				Name:       "Codex CLI",
				Step:       "Codex",
				Path:       "~/.npm-global/bin/codex",
				NPMPackage: "@openai/codex",
				Update:     "npm update -g @openai/codex",
			},
		},
		Profiles: Profiles{
			Command:    "app-restore",
			ConfigPath: "~/.config/app-backup/config.toml",
		},
		Shell: Shell{
			Enabled:           true,
			Dispatcher:        "hyprctl",
			SettleMillis:      500,
			StartupWaitMillis: 2000,
		},
	}
}
