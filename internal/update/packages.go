package update

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/output"
)

const DefaultProfilesDir = "/nix/var/nix/profiles"

var generationPattern = regexp.MustCompile(`^system-(\d+)-link$`)

// LatestGenerations returns the two newest system generation links in
// dir, oldest first. Fewer than two generations yields an error.
func LatestGenerations(dir string) (string, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", "", fmt.Errorf("read profiles directory: %w", err)
	}

	type generation struct {
		number int
		name   string
	}
	generations := []generation{}
	for _, entry := range entries {
		match := generationPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		number, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		generations = append(generations, generation{number: number, name: entry.Name()})
	}
	if len(generations) < 2 {
		return "", "", fmt.Errorf("need two system generations, found %d", len(generations))
	}

	sort.Slice(generations, func(i, j int) bool { return generations[i].number < generations[j].number })
	prev := generations[len(generations)-2]
	last := generations[len(generations)-1]
	return filepath.Join(dir, prev.name), filepath.Join(dir, last.name), nil
}

// PackageDiff is the parsed output of nix store diff-closures.
type PackageDiff struct {
	Changes        []PackageChange
	ClosureSummary string
}

// ParseDiffClosures reads lines of the form
//
//	firefox: 120.0 → 121.0, +1234.5 KiB
//
// Only entries whose version moved become package changes; size deltas
// from every entry feed the closure summary.
func ParseDiffClosures(text string) PackageDiff {
	diff := PackageDiff{}
	var delta int64
	paths := 0

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(output.StripEscapeCodes(raw))
		name, rest, ok := strings.Cut(line, ": ")
		if !ok || name == "" || strings.ContainsAny(name, " \t") {
			continue
		}
		paths++

		versions, size, _ := strings.Cut(rest, ", ")
		if oldVersion, newVersion, moved := strings.Cut(versions, " → "); moved {
			oldVersion = strings.TrimSpace(oldVersion)
			newVersion = strings.TrimSpace(newVersion)
			if oldVersion != "" && newVersion != "" && oldVersion != newVersion {
				diff.Changes = append(diff.Changes, PackageChange{Name: name, Old: oldVersion, New: newVersion})
			}
		} else if size == "" && looksLikeSize(versions) {
			size = versions
		}

		if bytes, ok := parseSizeDelta(size); ok {
			delta += bytes
		}
	}

	if paths > 0 {
		diff.ClosureSummary = fmt.Sprintf("%d store paths changed, %s", paths, formatDelta(delta))
	}
	return diff
}

func looksLikeSize(value string) bool {
	value = strings.TrimSpace(value)
	return strings.HasPrefix(value, "+") || strings.HasPrefix(value, "-")
}

func parseSizeDelta(value string) (int64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	sign := int64(1)
	switch value[0] {
	case '+':
		value = value[1:]
	case '-':
		sign = -1
		value = value[1:]
	}
	bytes, err := humanize.ParseBytes(strings.TrimSpace(value))
	if err != nil {
		return 0, false
	}
	return sign * int64(bytes), true
}

func formatDelta(delta int64) string {
	if delta < 0 {
		return "-" + humanize.IBytes(uint64(-delta))
	}
	return "+" + humanize.IBytes(uint64(delta))
}

// ComparePackages diffs the two newest system generations. Any failure
// degrades to an empty diff.
func ComparePackages(ctx context.Context, runner engine.Runner, profilesDir string) (PackageDiff, error) {
	older, newer, err := LatestGenerations(profilesDir)
	if err != nil {
		return PackageDiff{}, err
	}
	res := runner.Capture(ctx, engine.ExecSpec{Bin: "nix", Args: []string{"store", "diff-closures", older, newer}})
	if !res.Success {
		return PackageDiff{}, fmt.Errorf("nix store diff-closures exited with code %d", res.ExitCode)
	}
	return ParseDiffClosures(res.Stdout), nil
}
