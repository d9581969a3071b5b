package update

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/status"
)

// ErrLocalChanges is returned when the configuration checkout has
// uncommitted changes and the policy is to abort.
var ErrLocalChanges = errors.New("configuration directory has local changes")

// LocalChangesError lists the files that blocked an update.
type LocalChangesError struct {
	Dir   string
	Files []string
}

func (e *LocalChangesError) Error() string {
	return fmt.Sprintf("%s has %d uncommitted change(s): %s", e.Dir, len(e.Files), strings.Join(e.Files, ", "))
}

func (e *LocalChangesError) Unwrap() error { return ErrLocalChanges }

func isGitRepo(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil
}

func git(ctx context.Context, runner engine.Runner, dir string, args ...string) engine.Capture {
	return runner.Capture(ctx, engine.ExecSpec{Bin: "git", Args: append([]string{"-C", dir}, args...)})
}

// CheckLocalChanges returns the paths git reports as modified or untracked.
// Directories that are not git checkouts have no local changes.
func CheckLocalChanges(ctx context.Context, runner engine.Runner, dir string) []string {
	if !isGitRepo(dir) {
		return nil
	}
	res := git(ctx, runner, dir, "status", "--porcelain")
	if !res.Success {
		return nil
	}

	files := []string{}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) > 3 {
			files = append(files, line[3:])
		} else {
			files = append(files, strings.TrimSpace(line))
		}
	}
	return files
}

// PrepareLocalChanges applies policy to any uncommitted changes before an
// update starts. It reports whether a stash was created that the caller
// must pop once the update succeeds.
func PrepareLocalChanges(ctx context.Context, runner engine.Runner, dir string, policy config.LocalChangesPolicy) (bool, error) {
	files := CheckLocalChanges(ctx, runner, dir)
	if len(files) == 0 {
		return false, nil
	}

	switch policy {
	case config.LocalChangesStash:
		if err := Stash(ctx, runner, dir); err != nil {
			return false, err
		}
		return true, nil
	case config.LocalChangesOverwrite:
		if err := Discard(ctx, runner, dir); err != nil {
			return false, err
		}
		return false, nil
	default:
		return false, &LocalChangesError{Dir: dir, Files: files}
	}
}

func Stash(ctx context.Context, runner engine.Runner, dir string) error {
	res := git(ctx, runner, dir, "stash", "push", "--include-untracked", "-m", "forge: pre-update")
	if !res.Success {
		return fmt.Errorf("git stash: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// StashPop restores the stash created by PrepareLocalChanges and returns
// git's output lines for display.
func StashPop(ctx context.Context, runner engine.Runner, dir string) ([]string, error) {
	res := git(ctx, runner, dir, "stash", "pop")
	lines := nonEmptyLines(res.Stdout + "\n" + res.Stderr)
	if !res.Success {
		return lines, fmt.Errorf("git stash pop exited with code %d", res.ExitCode)
	}
	return lines, nil
}

// Discard throws away tracked modifications.
func Discard(ctx context.Context, runner engine.Runner, dir string) error {
	res := git(ctx, runner, dir, "checkout", "--", ".")
	if !res.Success {
		return fmt.Errorf("git checkout: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// DefaultBranch resolves origin/HEAD, falling back to main when
// origin/main exists and master otherwise.
func DefaultBranch(ctx context.Context, runner engine.Runner, dir string) string {
	res := git(ctx, runner, dir, "symbolic-ref", "refs/remotes/origin/HEAD")
	if res.Success {
		if branch, ok := strings.CutPrefix(strings.TrimSpace(res.Stdout), "refs/remotes/origin/"); ok && branch != "" {
			return branch
		}
	}
	if git(ctx, runner, dir, "rev-parse", "--verify", "origin/main").Success {
		return "main"
	}
	return "master"
}

func behindCount(ctx context.Context, runner engine.Runner, dir, branch string) (int, bool) {
	res := git(ctx, runner, dir, "rev-list", "HEAD..origin/"+branch, "--count")
	if !res.Success {
		return 0, false
	}
	count, err := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if err != nil {
		return 0, false
	}
	return count, true
}

// unpulledCount tries main, then master.
func unpulledCount(ctx context.Context, runner engine.Runner, dir string) int {
	for _, branch := range []string{"main", "master"} {
		if count, ok := behindCount(ctx, runner, dir, branch); ok {
			return count
		}
	}
	return 0
}

// CheckForUpdates fetches the configuration remote and reports commits the
// local checkout is missing. Profile status is folded in when a profile
// checker is supplied.
func CheckForUpdates(ctx context.Context, runner engine.Runner, dir string, profiles func(context.Context) string) status.UpdatesAvailable {
	result := status.UpdatesAvailable{}
	if profiles != nil {
		result.AppProfiles = profiles(ctx) == ProfilesUpdatesAvailable
	}

	if !isGitRepo(dir) || !git(ctx, runner, dir, "fetch", "origin").Success {
		return result
	}

	branch := DefaultBranch(ctx, runner, dir)
	count, ok := behindCount(ctx, runner, dir, branch)
	if !ok || count == 0 {
		return result
	}
	result.ConfigBehind = true

	res := git(ctx, runner, dir, "log", "--oneline", "--no-decorate", "-n", strconv.Itoa(MaxDisplayCommits), "HEAD..origin/"+branch)
	if res.Success {
		for _, line := range nonEmptyLines(res.Stdout) {
			hash, message, _ := strings.Cut(line, " ")
			result.Commits = append(result.Commits, status.Commit{Hash: hash, Message: message})
		}
	}
	return result
}

func nonEmptyLines(text string) []string {
	lines := []string{}
	for _, line := range strings.Split(text, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			lines = append(lines, trimmed)
		}
	}
	return lines
}
