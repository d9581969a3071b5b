package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var stepNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	if len(e.Problems) == 0 {
		return "invalid config"
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(e.Problems, "; "))
}

func Validate(cfg Config) error {
	problems := []string{}

	if cfg.Version != 1 {
		problems = append(problems, "version must be 1")
	}

	if strings.TrimSpace(cfg.FlakeDir) == "" {
		problems = append(problems, "flake_dir must be set")
	} else if flakeDir, err := ExpandPath(cfg.FlakeDir); err != nil || !filepath.IsAbs(flakeDir) {
		problems = append(problems, "flake_dir must resolve to an absolute path")
	}

	stateDir, err := ExpandPath(cfg.StateDir)
	if err != nil || strings.TrimSpace(stateDir) == "" {
		problems = append(problems, "state_dir must be a valid path")
	} else if !filepath.IsAbs(stateDir) {
		problems = append(problems, "state_dir must resolve to an absolute path")
	}

	if cfg.OutputBufferLines <= 0 {
		problems = append(problems, "output_buffer_lines must be > 0")
	}

	switch cfg.LocalChanges {
	case LocalChangesAbort, LocalChangesStash, LocalChangesOverwrite:
	default:
		problems = append(problems, fmt.Sprintf("local_changes has unsupported value %q (expected abort, stash or overwrite)", cfg.LocalChanges))
	}

	if len(cfg.Rebuild.Command) == 0 || strings.TrimSpace(cfg.Rebuild.Command[0]) == "" {
		problems = append(problems, "rebuild.command must not be empty")
	}
	if cfg.Rebuild.CommandTimeoutSeconds < 0 {
		problems = append(problems, "rebuild.command_timeout_seconds must be >= 0")
	}

	seenSteps := map[string]struct{}{}
	for i, tool := range cfg.Tools {
		label := tool.Name
		if strings.TrimSpace(label) == "" {
			label = fmt.Sprintf("#%d", i+1)
			problems = append(problems, fmt.Sprintf("tool %s name must not be empty", label))
		}

		if !stepNamePattern.MatchString(tool.Step) {
			problems = append(problems, fmt.Sprintf("tool %q has invalid step name %q", label, tool.Step))
		} else {
			key := strings.ToLower(tool.Step)
			if _, exists := seenSteps[key]; exists {
				problems = append(problems, fmt.Sprintf("duplicate tool step %q", tool.Step))
			}
			seenSteps[key] = struct{}{}
		}

		if strings.TrimSpace(tool.Update) == "" {
			problems = append(problems, fmt.Sprintf("tool %q update command must be set", label))
		}
		if strings.TrimSpace(tool.Path) == "" {
			problems = append(problems, fmt.Sprintf("tool %q path must be set", label))
		}
	}

	if cfg.Shell.SettleMillis < 0 {
		problems = append(problems, "shell.settle_ms must be >= 0")
	}
	if cfg.Shell.StartupWaitMillis < 0 {
		problems = append(problems, "shell.startup_wait_ms must be >= 0")
	}

	if len(problems) > 0 {
		return &ValidationError{Problems: problems}
	}
	return nil
}
