package update

import (
	"fmt"
	"strings"
)

// MaxDisplayCommits caps the commit messages listed per flake input.
const MaxDisplayCommits = 10

type CommitInfo struct {
	Hash    string
	Message string
}

// FlakeChange is one flake input whose locked revision moved.
type FlakeChange struct {
	Name         string
	OldRev       string
	NewRev       string
	Commits      []CommitInfo
	TotalCommits int
	CompareURL   string
}

type PackageChange struct {
	Name string
	Old  string
	New  string
}

// ToolVersions holds the versions observed around one tool update. Empty
// strings mean the version could not be read.
type ToolVersions struct {
	Name string
	Old  string
	New  string
}

func (v ToolVersions) Updated() bool {
	return v.Old != "" && v.New != "" && v.Old != v.New
}

// Summary accumulates what each stage of an update run found.
type Summary struct {
	FlakeChanges   []FlakeChange
	PackageChanges []PackageChange
	ClosureSummary string
	RebuildFailed  bool
	RebuildSkipped bool
	RebootReasons  []string
	Tools          []ToolVersions
	BrowserStatus  string
}

func (s Summary) Success() bool {
	return !s.RebuildFailed
}

const (
	rule      = "══════════════════════════════════════════════"
	separator = "  ─────────────────────────────────────────"
)

// Banner returns the framed section header used in update narration.
func Banner(title string) []string {
	return []string{"", rule, "  " + title, rule, ""}
}

// Render formats the summary as narration lines.
func Render(s Summary) []string {
	lines := []string{
		"",
		"╔══════════════════════════════════════════════╗",
		"║            Update Summary                    ║",
		"╚══════════════════════════════════════════════╝",
	}

	if len(s.FlakeChanges) > 0 {
		lines = append(lines, "", "  Flake inputs updated:")
		for _, change := range s.FlakeChanges {
			lines = append(lines, "")
			lines = append(lines, renderFlakeChange(change)...)
		}
	}

	updated := []ToolVersions{}
	for _, tool := range s.Tools {
		if tool.Updated() {
			updated = append(updated, tool)
		}
	}
	if len(updated) > 0 {
		lines = append(lines, "", "  CLI tools updated:")
		for _, tool := range updated {
			lines = append(lines, fmt.Sprintf("    %s: %s → %s", tool.Name, tool.Old, tool.New))
		}
	}

	if len(s.PackageChanges) > 0 {
		lines = append(lines, "", "  Packages changed:")
		for _, change := range s.PackageChanges {
			lines = append(lines, fmt.Sprintf("    %s: %s → %s", change.Name, change.Old, change.New))
		}
	}

	if s.ClosureSummary != "" {
		lines = append(lines, "", "  Closure: "+s.ClosureSummary)
	}

	lines = append(lines, "", separator, "")

	switch {
	case s.RebuildFailed:
		lines = append(lines, statusLine("System", "Rebuild failed"))
	case s.RebuildSkipped:
		lines = append(lines, statusLine("System", "Already up to date"))
	}

	for _, tool := range s.Tools {
		if tool.Old != "" && !tool.Updated() {
			lines = append(lines, statusLine(tool.Name, tool.New))
		}
	}

	if s.BrowserStatus != "" {
		lines = append(lines, statusLine("Browser", s.BrowserStatus))
	}

	return append(lines, "", rule)
}

func renderFlakeChange(change FlakeChange) []string {
	if change.TotalCommits == 0 {
		lines := []string{fmt.Sprintf("  %s: %s → %s", change.Name, shortRev(change.OldRev), shortRev(change.NewRev))}
		if change.CompareURL != "" {
			lines = append(lines, "    → "+change.CompareURL)
		}
		return lines
	}

	plural := "s"
	if change.TotalCommits == 1 {
		plural = ""
	}
	lines := []string{fmt.Sprintf("  %s (%d commit%s):", change.Name, change.TotalCommits, plural)}
	for _, commit := range change.Commits {
		lines = append(lines, fmt.Sprintf("    %s %s", commit.Hash, commit.Message))
	}
	if remaining := change.TotalCommits - len(change.Commits); remaining > 0 && change.CompareURL != "" {
		lines = append(lines, fmt.Sprintf("    ... and %d more → %s", remaining, change.CompareURL))
	}
	return lines
}

func statusLine(label, value string) string {
	return fmt.Sprintf("  %-12s %s", label+":", value)
}

func shortRev(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
