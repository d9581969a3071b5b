package update

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/mattn/go-shellwords"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/engine"
)

var versionPattern = regexp.MustCompile(`v?(\d+(?:\.\d+)+(?:[-+][0-9A-Za-z.-]+)?)`)

// CleanVersion reduces raw --version output to the bare version string.
func CleanVersion(raw string) string {
	line := firstLine(raw)
	if match := versionPattern.FindStringSubmatch(line); match != nil {
		return match[1]
	}
	return line
}

// ParseCommand splits a configured command line into a spec, expanding a
// leading ~ in the binary path.
func ParseCommand(line string) (engine.ExecSpec, error) {
	parser := shellwords.NewParser()
	parser.ParseEnv = true
	words, err := parser.Parse(line)
	if err != nil {
		return engine.ExecSpec{}, fmt.Errorf("parse command %q: %w", line, err)
	}
	if len(words) == 0 {
		return engine.ExecSpec{}, fmt.Errorf("empty command")
	}
	bin := words[0]
	if strings.HasPrefix(bin, "~") {
		if bin, err = config.ExpandPath(bin); err != nil {
			return engine.ExecSpec{}, err
		}
	}
	return engine.ExecSpec{Bin: bin, Args: words[1:]}, nil
}

type npmListing struct {
	Dependencies map[string]struct {
		Version string `json:"version"`
	} `json:"dependencies"`
}

// NPMGlobalVersion reads the installed version of a globally installed npm
// package. It returns "" when the package or npm is missing.
func NPMGlobalVersion(ctx context.Context, runner engine.Runner, pkg string) string {
	res := runner.Capture(ctx, engine.ExecSpec{Bin: "npm", Args: []string{"list", "-g", "--json", "--depth=0", pkg}})
	if strings.TrimSpace(res.Stdout) == "" {
		return ""
	}
	var listing npmListing
	if err := json.Unmarshal([]byte(res.Stdout), &listing); err != nil {
		return ""
	}
	return listing.Dependencies[pkg].Version
}

// toolVersion reads a tool's version using, in order, its configured
// version command, its npm package, or `<path> --version`.
func toolVersion(ctx context.Context, runner engine.Runner, tool config.Tool, path string) string {
	switch {
	case tool.Version != "":
		spec, err := ParseCommand(tool.Version)
		if err != nil {
			return ""
		}
		return capturedVersion(ctx, runner, spec)
	case tool.NPMPackage != "":
		return NPMGlobalVersion(ctx, runner, tool.NPMPackage)
	default:
		return capturedVersion(ctx, runner, engine.ExecSpec{Bin: path, Args: []string{"--version"}})
	}
}

func capturedVersion(ctx context.Context, runner engine.Runner, spec engine.ExecSpec) string {
	res := runner.Capture(ctx, spec)
	if !res.Success {
		return ""
	}
	return CleanVersion(res.Stdout)
}
