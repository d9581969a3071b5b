package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/update"
)

type Severity string

const (
	SeverityInfo  Severity = "info"
	SeverityWarn  Severity = "warn"
	SeverityError Severity = "error"
)

type Check struct {
	Severity Severity `json:"severity"`
	Name     string   `json:"name"`
	Message  string   `json:"message"`
}

type Report struct {
	Checks []Check `json:"checks"`
}

func (r Report) HasErrors() bool {
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (r Report) ErrorCount() int {
	count := 0
	for _, check := range r.Checks {
		if check.Severity == SeverityError {
			count++
		}
	}
	return count
}

type Checker struct {
	LookPath      func(string) (string, error)
	ReadVersion   func(context.Context, string) (string, error)
	CheckWritable func(string) error
	Stat          func(string) (os.FileInfo, error)
}

func NewChecker() *Checker {
	return &Checker{
		LookPath:      exec.LookPath,
		ReadVersion:   defaultReadVersion,
		CheckWritable: checkDirWritable,
		Stat:          os.Stat,
	}
}

// nixMinVersion is the first release with flakes and `nix store
// diff-closures`.
const nixMinVersion = "2.4.0"

type dependency struct {
	Binary     string
	MinVersion string
	// Missing is the severity reported when the binary is absent.
	Missing    Severity
	Purpose    string
}

func (c *Checker) Check(ctx context.Context, cfg config.Config) Report {
	report := Report{Checks: []Check{}}

	for _, dep := range requiredBinaries(cfg) {
		report.Checks = append(report.Checks, c.checkBinary(ctx, dep)...)
	}
	report.Checks = append(report.Checks, c.checkFlakeDir(cfg)...)
	report.Checks = append(report.Checks, c.checkStateDir(cfg))
	report.Checks = append(report.Checks, c.checkTools(cfg)...)
	return report
}

func (c *Checker) checkBinary(ctx context.Context, dep dependency) []Check {
	location, err := c.LookPath(dep.Binary)
	if err != nil {
		return []Check{{
			Severity: dep.Missing,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s not found in PATH (%s)", dep.Binary, dep.Purpose),
		}}
	}

	found := Check{
		Severity: SeverityInfo,
		Name:     "dependency",
		Message:  fmt.Sprintf("%s found at %s", dep.Binary, location),
	}
	if dep.MinVersion == "" {
		return []Check{found}
	}

	output, versionErr := c.ReadVersion(ctx, dep.Binary)
	if versionErr != nil {
		return []Check{found, {
			Severity: SeverityWarn,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s version could not be read: %v", dep.Binary, versionErr),
		}}
	}
	version, parseErr := extractVersion(output)
	if parseErr != nil {
		return []Check{found, {
			Severity: SeverityWarn,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s version output is unrecognized: %q", dep.Binary, strings.TrimSpace(output)),
		}}
	}
	if compareVersions(version, dep.MinVersion) < 0 {
		return []Check{found, {
			Severity: SeverityError,
			Name:     "dependency",
			Message:  fmt.Sprintf("%s version %s is below minimum %s", dep.Binary, version, dep.MinVersion),
		}}
	}
	return []Check{found, {
		Severity: SeverityInfo,
		Name:     "dependency",
		Message:  fmt.Sprintf("%s version %s is compatible", dep.Binary, version),
	}}
}

func requiredBinaries(cfg config.Config) []dependency {
	deps := []dependency{
		{Binary: "nix", MinVersion: nixMinVersion, Missing: SeverityError, Purpose: "flake update and package diff"},
		{Binary: "git", Missing: SeverityError, Purpose: "pulling the configuration"},
	}

	seen := map[string]bool{"nix": true, "git": true}
	add := func(dep dependency) {
		if dep.Binary == "" || seen[dep.Binary] {
			return
		}
		seen[dep.Binary] = true
		deps = append(deps, dep)
	}

	// A privilege wrapper and the rebuild tool it runs are both required.
	for i, word := range cfg.Rebuild.Command {
		add(dependency{Binary: word, Missing: SeverityError, Purpose: "system rebuild"})
		if (word != "sudo" && word != "doas") || i == len(cfg.Rebuild.Command)-1 {
			break
		}
	}

	if cfg.Shell.Enabled {
		add(dependency{Binary: "pgrep", Missing: SeverityWarn, Purpose: "desktop shell reconciliation"})
		add(dependency{Binary: cfg.Shell.Dispatcher, Missing: SeverityWarn, Purpose: "launching the desktop shell"})
	}
	for _, tool := range cfg.Tools {
		if tool.NPMPackage != "" {
			add(dependency{Binary: "npm", Missing: SeverityWarn, Purpose: "version lookup for " + tool.Name})
		}
	}
	if spec, err := update.ParseCommand(cfg.Profiles.Command); err == nil {
		add(dependency{Binary: spec.Bin, Missing: SeverityWarn, Purpose: "browser profile status"})
	}
	return deps
}

func (c *Checker) checkFlakeDir(cfg config.Config) []Check {
	dir, err := config.ExpandPath(cfg.FlakeDir)
	if err != nil {
		return []Check{{Severity: SeverityError, Name: "flake", Message: fmt.Sprintf("flake_dir is invalid: %v", err)}}
	}
	if _, err := c.Stat(filepath.Join(dir, "flake.nix")); err != nil {
		return []Check{{Severity: SeverityError, Name: "flake", Message: fmt.Sprintf("no flake.nix in %s", dir)}}
	}

	checks := []Check{{Severity: SeverityInfo, Name: "flake", Message: fmt.Sprintf("flake found in %s", dir)}}
	if _, err := c.Stat(update.LockPath(dir)); err != nil {
		checks = append(checks, Check{Severity: SeverityWarn, Name: "flake", Message: "flake.lock is missing; the first update will create it"})
	}
	if _, err := c.Stat(filepath.Join(dir, ".git")); err != nil {
		checks = append(checks, Check{Severity: SeverityWarn, Name: "flake", Message: fmt.Sprintf("%s is not a git checkout; pull is skipped", dir)})
	}
	return checks
}

func (c *Checker) checkStateDir(cfg config.Config) Check {
	dir, err := config.ExpandPath(cfg.StateDir)
	if err != nil {
		return Check{Severity: SeverityError, Name: "filesystem", Message: fmt.Sprintf("state_dir is invalid: %v", err)}
	}
	if _, err := c.Stat(dir); err != nil {
		return Check{Severity: SeverityWarn, Name: "filesystem", Message: fmt.Sprintf("state_dir %s does not exist yet; run forge init", dir)}
	}
	if err := c.CheckWritable(dir); err != nil {
		return Check{Severity: SeverityError, Name: "filesystem", Message: fmt.Sprintf("state_dir %s is not writable: %v", dir, err)}
	}
	return Check{Severity: SeverityInfo, Name: "filesystem", Message: fmt.Sprintf("state_dir %s is writable", dir)}
}

func (c *Checker) checkTools(cfg config.Config) []Check {
	checks := []Check{}
	for _, tool := range cfg.Tools {
		path, err := config.ExpandPath(tool.Path)
		if err != nil {
			checks = append(checks, Check{Severity: SeverityError, Name: "tools", Message: fmt.Sprintf("%s path is invalid: %v", tool.Name, err)})
			continue
		}
		if _, err := c.Stat(path); err != nil {
			checks = append(checks, Check{Severity: SeverityWarn, Name: "tools", Message: fmt.Sprintf("%s not installed at %s; it will be skipped", tool.Name, path)})
			continue
		}
		checks = append(checks, Check{Severity: SeverityInfo, Name: "tools", Message: fmt.Sprintf("%s installed at %s", tool.Name, path)})
	}
	return checks
}

func defaultReadVersion(ctx context.Context, binary string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, "--version")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", err
	}
	return string(output), nil
}

func checkDirWritable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", path)
	}

	file, err := os.CreateTemp(path, ".forge-write-check-*")
	if err != nil {
		return err
	}
	name := file.Name()
	_ = file.Close()
	_ = os.Remove(name)
	return nil
}

var versionPattern = regexp.MustCompile(`(\d+)\.(\d+)(?:\.(\d+))?`)

func extractVersion(raw string) (string, error) {
	matches := versionPattern.FindStringSubmatch(raw)
	if len(matches) != 4 {
		return "", fmt.Errorf("no version found")
	}
	patch := matches[3]
	if patch == "" {
		patch = "0"
	}
	return fmt.Sprintf("%s.%s.%s", matches[1], matches[2], patch), nil
}

func compareVersions(lhs string, rhs string) int {
	leftParts := strings.Split(lhs, ".")
	rightParts := strings.Split(rhs, ".")
	for i := 0; i < 3; i++ {
		leftValue := 0
		rightValue := 0
		if i < len(leftParts) {
			leftValue, _ = strconv.Atoi(leftParts[i])
		}
		if i < len(rightParts) {
			rightValue, _ = strconv.Atoi(rightParts[i])
		}
		if leftValue > rightValue {
			return 1
		}
		if leftValue < rightValue {
			return -1
		}
	}
	return 0
}
