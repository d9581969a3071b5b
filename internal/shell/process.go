// Package shell keeps the running Quickshell desktop shell in step with the
// current system generation.
package shell

import (
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mattn/go-shellwords"
)

type Kind int

const (
	Noctalia Kind = iota
	Illogical
)

func (k Kind) Name() string {
	switch k {
	case Illogical:
		return "Illogical Impulse"
	default:
		return "Noctalia"
	}
}

// ConfigLink is the symlink whose target is the path a fresh instance of
// this shell would run from.
func (k Kind) ConfigLink(home string) string {
	if k == Illogical {
		return filepath.Join(home, ".config", "quickshell", "ii")
	}
	return filepath.Join(home, ".config", "quickshell", "noctalia-shell")
}

// RestartCommand is the command line that launches a new instance.
func (k Kind) RestartCommand() (string, []string) {
	if k == Illogical {
		return "quickshell", []string{"-c", "~/.config/quickshell/ii"}
	}
	return "noctalia-shell", nil
}

// matches reports whether a running path counts as current. Illogical runs
// from a config directory that does not track the binary path exactly, so
// containment in either direction is accepted.
func (k Kind) matches(running, expected string) bool {
	if k == Illogical {
		return strings.Contains(running, expected) || strings.Contains(expected, running)
	}
	return running == expected
}

// RunningProcessInfo is one observed shell instance.
type RunningProcessInfo struct {
	Kind        Kind
	RunningPath string
	PID         int
}

// ParseProcessList reads `pgrep -a` output and keeps the lines that are a
// recognizable shell instance.
func ParseProcessList(text string) []RunningProcessInfo {
	infos := []RunningProcessInfo{}
	for _, line := range strings.Split(text, "\n") {
		pidText, cmdline, ok := strings.Cut(strings.TrimSpace(line), " ")
		if !ok {
			continue
		}
		pid, err := strconv.Atoi(pidText)
		if err != nil {
			continue
		}
		if info, ok := parseCommandLine(pid, cmdline); ok {
			infos = append(infos, info)
		}
	}
	return infos
}

func parseCommandLine(pid int, cmdline string) (RunningProcessInfo, bool) {
	args, err := shellwords.Parse(cmdline)
	if err != nil || len(args) == 0 {
		args = strings.Fields(cmdline)
	}
	if len(args) == 0 {
		return RunningProcessInfo{}, false
	}

	if strings.Contains(cmdline, "/noctalia-shell") {
		if path, ok := flagValue(args, "-p"); ok {
			return RunningProcessInfo{Kind: Noctalia, RunningPath: path, PID: pid}, true
		}
	}

	if strings.Contains(cmdline, "quickshell/ii") || (strings.Contains(cmdline, "-c") && strings.Contains(cmdline, "/ii")) {
		if strings.Contains(args[0], "/nix/store/") {
			return RunningProcessInfo{Kind: Illogical, RunningPath: args[0], PID: pid}, true
		}
	}

	return RunningProcessInfo{}, false
}

func flagValue(args []string, flag string) (string, bool) {
	for i, arg := range args {
		if arg == flag && i+1 < len(args) {
			return args[i+1], true
		}
	}
	return "", false
}
