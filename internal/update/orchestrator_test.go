package update

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/logging"
	"github.com/jaa/forge/internal/status"
)

const lockV1 = `{
  "nodes": {
    "nixpkgs": {
      "locked": {"type": "github", "owner": "NixOS", "repo": "nixpkgs", "rev": "1111111111111111111111111111111111111111"}
    },
    "root": {"inputs": {"nixpkgs": "nixpkgs"}}
  },
  "root": "root",
  "version": 7
}`

const lockV2 = `{
  "nodes": {
    "nixpkgs": {
      "locked": {"type": "github", "owner": "NixOS", "repo": "nixpkgs", "rev": "2222222222222222222222222222222222222222"}
    },
    "root": {"inputs": {"nixpkgs": "nixpkgs"}}
  },
  "root": "root",
  "version": 7
}`

type fixture struct {
	t        *testing.T
	runner   *fakeRunner
	opts     Options
	orch     *Orchestrator
	existing map[string]bool
	links    map[string]string
	onPath   map[string]bool
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	tmp := t.TempDir()
	flakeDir := filepath.Join(tmp, "nixos")
	profilesDir := filepath.Join(tmp, "profiles")
	require.NoError(t, os.MkdirAll(flakeDir, 0o755))
	require.NoError(t, os.MkdirAll(profilesDir, 0o755))
	require.NoError(t, os.WriteFile(LockPath(flakeDir), []byte(lockV1), 0o644))

	f := &fixture{
		t:      t,
		runner: newFakeRunner(),
		opts: Options{
			FlakeDir:       flakeDir,
			Hostname:       "testhost",
			LockBackupPath: filepath.Join(tmp, "state", "flake.lock.bak"),
			RebuildCommand: []string{"sudo", "nixos-rebuild", "switch"},
			Tools: []config.Tool{
				{Name: "Claude Code", Step: "Claude", Path: "/opt/claude", Version: "/opt/claude --version", Update: "/opt/claude update"},
				{Name: "Codex CLI", Step: "Codex", Path: "/opt/codex", NPMPackage: "@openai/codex", Update: "npm update -g @openai/codex"},
			},
			Profiles:    config.Profiles{Command: "app-restore", ConfigPath: "/opt/app-backup.toml"},
			ProfilesDir: profilesDir,
		},
		existing: map[string]bool{},
		links:    map[string]string{},
		onPath:   map[string]bool{},
	}

	f.orch = New(f.opts, f.runner)
	f.orch.Commits = nil
	f.orch.Logger = logging.Discard()
	f.orch.Exists = func(path string) bool { return f.existing[path] }
	f.orch.LookPath = func(name string) bool { return f.onPath[name] }
	f.orch.ReadLink = func(path string) (string, error) {
		target, ok := f.links[path]
		if !ok {
			return "", errors.New("no such link")
		}
		return target, nil
	}
	return f
}

func (f *fixture) flakeUpdateSucceeds(newLock string) {
	f.runner.onStream("nix flake update", func(_ engine.ExecSpec, sink status.Sink) engine.CommandResult {
		sink.Send(status.Stdout{Line: "unpacking 'github:NixOS/nixpkgs'"})
		if newLock != "" {
			if err := os.WriteFile(LockPath(f.opts.FlakeDir), []byte(newLock), 0o644); err != nil {
				f.t.Errorf("write lock: %v", err)
			}
		}
		return engine.Completed(true)
	})
}

func (f *fixture) run() (Summary, *status.Recorder) {
	f.t.Helper()
	rec := &status.Recorder{}
	summary, err := f.orch.Run(context.Background(), rec)
	require.NoError(f.t, err)
	return summary, rec
}

// stepMessages renders the step-level messages as compact strings.
func stepMessages(messages []status.Message) []string {
	out := []string{}
	for _, msg := range messages {
		switch m := msg.(type) {
		case status.StepComplete:
			out = append(out, "complete:"+m.Step)
		case status.StepFailed:
			out = append(out, "failed:"+m.Step)
		case status.StepSkipped:
			out = append(out, "skipped:"+m.Step)
		case status.Done:
			if m.Success {
				out = append(out, "done:true")
			} else {
				out = append(out, "done:false")
			}
		case status.Cancelled:
			out = append(out, "cancelled")
		case status.RebootRecommended:
			out = append(out, "reboot:"+strings.Join(m.Reasons, ","))
		}
	}
	return out
}

func TestRunSkipsRebuildWhenLockUnchanged(t *testing.T) {
	f := newFixture(t)
	f.flakeUpdateSucceeds("")

	summary, rec := f.run()

	assert.True(t, summary.RebuildSkipped)
	assert.False(t, summary.RebuildFailed)
	assert.Equal(t, []string{
		"skipped:pull",
		"complete:flake",
		"skipped:Rebuild",
		"complete:Packages",
		"skipped:Claude",
		"skipped:Codex",
		"skipped:browser",
		"done:true",
	}, stepMessages(rec.Messages()))
	assert.False(t, f.runner.called("sudo"), "rebuild must not run")
	assert.Contains(t, rec.Lines(), "  System:      Already up to date")

	backup, err := os.ReadFile(f.opts.LockBackupPath)
	require.NoError(t, err)
	assert.Equal(t, lockV1, string(backup))
}

func TestRunContinuesAfterRebuildFailure(t *testing.T) {
	f := newFixture(t)
	f.flakeUpdateSucceeds(lockV2)
	f.runner.onStream("sudo nixos-rebuild switch --flake", func(engine.ExecSpec, status.Sink) engine.CommandResult {
		return engine.CommandResult{
			Outcome:    engine.OutcomeFailed,
			ExitCode:   1,
			StderrTail: "error: undefined variable 'foo'\n       at /etc/nixos/host.nix:12:3",
		}
	})

	require.NoError(t, os.WriteFile(filepath.Join(f.opts.ProfilesDir, "system-41-link"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(f.opts.ProfilesDir, "system-42-link"), nil, 0o644))
	f.runner.onCapture("nix store diff-closures", succeed("grub: 2.06 → 2.12, +1.5 KiB\n"))

	f.existing["/opt/claude"] = true
	versions := []string{"1.0.0 (Claude Code)", "1.0.1 (Claude Code)"}
	f.runner.onCapture("/opt/claude --version", func(engine.ExecSpec) engine.Capture {
		v := versions[0]
		versions = versions[1:]
		return engine.Capture{Success: true, Stdout: v}
	})
	f.runner.onCapture("/opt/claude update", succeed("updated"))
	f.links[bootedKernelLink] = "/nix/store/old-kernel"
	f.links[currentKernelLink] = "/nix/store/new-kernel"

	summary, rec := f.run()

	assert.True(t, summary.RebuildFailed)
	assert.Equal(t, []string{
		"skipped:pull",
		"complete:flake",
		"failed:Rebuild",
		"complete:Packages",
		"complete:Claude",
		"skipped:Codex",
		"skipped:browser",
		"done:false",
	}, stepMessages(rec.Messages()))

	for _, msg := range rec.Messages() {
		if failedStep, ok := msg.(status.StepFailed); ok {
			assert.Equal(t, "System rebuild failed: Nix evaluation or build error", failedStep.Error.Summary)
		}
	}

	assert.True(t, f.runner.called("sudo nixos-rebuild switch --flake "+f.opts.FlakeDir+"#testhost"))
	assert.Equal(t, []PackageChange{{Name: "grub", Old: "2.06", New: "2.12"}}, summary.PackageChanges)
	assert.Empty(t, summary.RebootReasons, "reboot reasons are only evaluated after a successful rebuild")
	require.Len(t, summary.FlakeChanges, 1)
	assert.Equal(t, "nixpkgs", summary.FlakeChanges[0].Name)
	require.Len(t, summary.Tools, 1)
	assert.Equal(t, ToolVersions{Name: "Claude Code", Old: "1.0.0", New: "1.0.1"}, summary.Tools[0])
	assert.Contains(t, rec.Lines(), "  System:      Rebuild failed")
	assert.Contains(t, rec.Lines(), "    Claude Code: 1.0.0 → 1.0.1")
}

type fakeShell struct {
	name  string
	calls int
}

func (s *fakeShell) RestartIfNeeded(context.Context, status.Sink) (string, error) {
	s.calls++
	return s.name, nil
}

func TestRunSuccessfulRebuildReconcilesShellAndRecommendsReboot(t *testing.T) {
	f := newFixture(t)
	f.flakeUpdateSucceeds(lockV2)
	f.runner.onStream("sudo nixos-rebuild", func(engine.ExecSpec, status.Sink) engine.CommandResult {
		return engine.Completed(true)
	})
	shell := &fakeShell{name: "Noctalia"}
	f.orch.Shell = shell
	f.links[bootedKernelLink] = "/nix/store/old-kernel"
	f.links[currentKernelLink] = "/nix/store/new-kernel"

	summary, rec := f.run()

	assert.Equal(t, 1, shell.calls)
	assert.Contains(t, rec.Lines(), "  ✓ Restarted Noctalia shell")
	assert.Equal(t, []string{"Kernel updated"}, summary.RebootReasons)

	steps := stepMessages(rec.Messages())
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, []string{"reboot:Kernel updated", "done:true"}, steps[len(steps)-2:])
}

func TestRunFlakeFailureAbortsPipeline(t *testing.T) {
	f := newFixture(t)
	f.runner.onStream("nix flake update", func(engine.ExecSpec, status.Sink) engine.CommandResult {
		return engine.CommandResult{Outcome: engine.OutcomeFailed, ExitCode: 1}
	})

	_, rec := f.run()

	assert.Equal(t, []string{"skipped:pull", "failed:flake", "done:false"}, stepMessages(rec.Messages()))
	assert.False(t, f.runner.called("nix store diff-closures"))
}

func TestRunFlakeCancelledStopsWithoutDone(t *testing.T) {
	f := newFixture(t)
	f.runner.onStream("nix flake update", func(engine.ExecSpec, status.Sink) engine.CommandResult {
		return engine.CancelledResult()
	})

	_, rec := f.run()

	assert.Equal(t, []string{"skipped:pull", "cancelled"}, stepMessages(rec.Messages()))
}

func TestRunCancelledDuringProfilesEndsWithoutDone(t *testing.T) {
	f := newFixture(t)
	f.flakeUpdateSucceeds("")
	f.onPath["app-restore"] = true
	f.existing["/opt/app-backup.toml"] = true

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.runner.onCapture("app-restore status", func(engine.ExecSpec) engine.Capture {
		cancel()
		return engine.Capture{Success: true, Stdout: "all profiles up to date"}
	})

	rec := &status.Recorder{}
	_, err := f.orch.Run(ctx, rec)
	require.NoError(t, err)

	steps := stepMessages(rec.Messages())
	require.NotEmpty(t, steps)
	assert.Equal(t, "cancelled", steps[len(steps)-1])
	assert.NotContains(t, steps, "done:true")
	assert.NotContains(t, rec.Lines(), "  System:      Already up to date")
}

func TestRunAlreadyCancelledSendsOnlyCancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := &status.Recorder{}
	_, err := f.orch.Run(ctx, rec)
	require.NoError(t, err)

	assert.Equal(t, []string{"cancelled"}, stepMessages(rec.Messages()))
	assert.Empty(t, f.runner.Calls())
}

type panicRunner struct{ *fakeRunner }

func (p *panicRunner) Stream(context.Context, engine.ExecSpec, status.Sink, engine.LineTransform) engine.CommandResult {
	panic("boom")
}

func TestStartConvertsInternalFaultToFailedUpdate(t *testing.T) {
	f := newFixture(t)
	f.orch.Runner = &panicRunner{fakeRunner: newFakeRunner()}

	sender, ch := status.NewChannel(16)
	finished := f.orch.Start(context.Background(), sender)

	var messages []status.Message
	for msg := range ch {
		messages = append(messages, msg)
		if status.IsTerminal(msg) {
			break
		}
	}
	<-finished

	steps := stepMessages(messages)
	require.GreaterOrEqual(t, len(steps), 2)
	assert.Equal(t, []string{"failed:Update", "done:false"}, steps[len(steps)-2:])
}

func TestRunPullsWhenBehind(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.opts.FlakeDir, ".git"), 0o755))
	f.flakeUpdateSucceeds("")
	dir := f.opts.FlakeDir
	f.runner.onCapture("git -C "+dir+" fetch origin", succeed(""))
	f.runner.onCapture("git -C "+dir+" rev-list HEAD..origin/main", failed("unknown revision"))
	f.runner.onCapture("git -C "+dir+" rev-list HEAD..origin/master", succeed("3\n"))
	f.runner.onCapture("git -C "+dir+" pull --ff-only", succeed(""))

	_, rec := f.run()

	assert.Equal(t, "complete:pull", stepMessages(rec.Messages())[0])
	assert.Contains(t, rec.Lines(), "  ✓ Pulled 3 commit(s)")
}

func TestRunPullFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.MkdirAll(filepath.Join(f.opts.FlakeDir, ".git"), 0o755))
	f.flakeUpdateSucceeds("")
	dir := f.opts.FlakeDir
	f.runner.onCapture("git -C "+dir+" fetch origin", succeed(""))
	f.runner.onCapture("git -C "+dir+" rev-list HEAD..origin/main", succeed("2"))
	f.runner.onCapture("git -C "+dir+" pull --ff-only", failed("fatal: Not possible to fast-forward, aborting."))

	_, rec := f.run()

	steps := stepMessages(rec.Messages())
	assert.Equal(t, "failed:pull", steps[0])
	assert.Equal(t, "done:true", steps[len(steps)-1])
}

func TestStepLabelsMatchReportedSteps(t *testing.T) {
	opts := Options{Tools: []config.Tool{{Name: "Claude Code", Step: "Claude"}, {Name: "Codex CLI", Step: "Codex"}}}
	assert.Equal(t, []string{
		"Pull Config", "Flake Update", "Rebuilding System", "Comparing Packages",
		"Claude Code", "Codex CLI", "Browser Profiles",
	}, StepLabels(opts))
}
