package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/status"
)

func loadConfig(app *AppContext) (config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return config.Config{}, fmt.Errorf("resolve working directory: %w", err)
	}

	cfg, err := config.Load(config.LoadOptions{
		ExplicitPath: strings.TrimSpace(app.Opts.ConfigPath),
		WorkingDir:   wd,
	})
	if err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func isTTY(file *os.File) bool {
	stat, err := file.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// interactive reports whether the full-screen console may take over the
// terminal.
func interactive(app *AppContext) bool {
	if app.Opts.NoInput || app.Opts.JSON {
		return false
	}
	return isTTY(os.Stdin) && isTTY(os.Stdout)
}

func parseLocalChangesPolicy(raw string) (config.LocalChangesPolicy, error) {
	policy := config.LocalChangesPolicy(strings.ToLower(strings.TrimSpace(raw)))
	switch policy {
	case config.LocalChangesAbort, config.LocalChangesStash, config.LocalChangesOverwrite:
		return policy, nil
	default:
		return "", fmt.Errorf("invalid --local-changes %q (expected: abort, stash, overwrite)", raw)
	}
}

// lineSink prints narration straight to a writer for commands that run a
// single step in the foreground.
type lineSink struct {
	out io.Writer
	err io.Writer
}

func (s lineSink) Send(msg status.Message) bool {
	switch m := msg.(type) {
	case status.Stdout:
		fmt.Fprintln(s.out, m.Line)
	case status.Stderr:
		fmt.Fprintln(s.err, m.Line)
	}
	return true
}
