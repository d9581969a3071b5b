package config

import "fmt"

func DefaultTemplate() string {
	return fmt.Sprintf(`version: 1
flake_dir: "~/.config/nixos"
# hostname: "my-host"  # defaults to the machine hostname
state_dir: %q
output_buffer_lines: %d
local_changes: "abort"  # abort, stash or overwrite
rebuild:
  command: ["sudo", "nixos-rebuild", "switch"]
tools:
  - name: "Claude Code"
    step: "Claude"
    path: "~/.local/bin/claude"
    version: "~/.local/bin/claude --version"
    update: "~/.local/bin/claude update"
  - name: "Codex CLI"
    step: "Codex"
    path: "~/.npm-global/bin/codex"
    npm_package: "@openai/codex"
    update: "npm update -g @openai/codex"
profiles:
  command: "app-restore"
  config_path: "~/.config/app-backup/config.toml"
shell:
  enabled: true
  dispatcher: "hyprctl"
  settle_ms: 500
  startup_wait_ms: 2000
`, defaultStateDir(), 1000)
}
