package update

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRenderTruncatedCommitsLinkToCompare(t *testing.T) {
	commits := make([]CommitInfo, 0, MaxDisplayCommits)
	for i := 0; i < MaxDisplayCommits; i++ {
		commits = append(commits, CommitInfo{Hash: "abcdef0", Message: "bump"})
	}
	lines := Render(Summary{
		FlakeChanges: []FlakeChange{{
			Name:         "nixpkgs",
			OldRev:       "1111111aaaa",
			NewRev:       "2222222bbbb",
			Commits:      commits,
			TotalCommits: 42,
			CompareURL:   "https://github.com/NixOS/nixpkgs/compare/1111111...2222222",
		}},
	})

	assert.Contains(t, lines, "  nixpkgs (42 commits):")
	assert.Contains(t, lines, "    abcdef0 bump")
	assert.Contains(t, lines, "    ... and 32 more → https://github.com/NixOS/nixpkgs/compare/1111111...2222222")
}

func TestRenderWithoutCommitsShowsShortRevisions(t *testing.T) {
	lines := Render(Summary{
		FlakeChanges: []FlakeChange{{Name: "home-manager", OldRev: "0123456789", NewRev: "9876543210"}},
	})
	assert.Contains(t, lines, "  home-manager: 0123456 → 9876543")
}

func TestRenderSingleCommitIsSingular(t *testing.T) {
	lines := Render(Summary{
		FlakeChanges: []FlakeChange{{Name: "hyprland", TotalCommits: 1, Commits: []CommitInfo{{Hash: "aaaaaaa", Message: "fix"}}}},
	})
	assert.Contains(t, lines, "  hyprland (1 commit):")
	for _, line := range lines {
		assert.NotContains(t, line, "more →")
	}
}

func TestRenderStatusSection(t *testing.T) {
	lines := Render(Summary{
		PackageChanges: []PackageChange{{Name: "firefox", Old: "120.0", New: "121.0"}},
		ClosureSummary: "3 store paths changed, +1.2 MiB",
		RebuildSkipped: true,
		Tools: []ToolVersions{
			{Name: "Claude Code", Old: "1.0.0", New: "1.0.0"},
			{Name: "Codex CLI", Old: "0.1.0", New: "0.2.0"},
		},
		BrowserStatus: ProfilesUpToDate,
	})
	text := strings.Join(lines, "\n")

	assert.Contains(t, text, "  CLI tools updated:\n    Codex CLI: 0.1.0 → 0.2.0")
	assert.Contains(t, text, "  Packages changed:\n    firefox: 120.0 → 121.0")
	assert.Contains(t, text, "  Closure: 3 store paths changed, +1.2 MiB")
	assert.Contains(t, text, "  System:      Already up to date")
	assert.Contains(t, text, "  Claude Code: 1.0.0")
	assert.Contains(t, text, "  Browser:     up to date")
	assert.NotContains(t, text, "Codex CLI:   0.2.0")
}

func TestRenderIsPure(t *testing.T) {
	summary := Summary{RebuildFailed: true, RebootReasons: []string{"Kernel updated"}}
	first := Render(summary)
	second := Render(summary)
	assert.Equal(t, first, second)
	assert.Equal(t, []string{"Kernel updated"}, summary.RebootReasons)
}
