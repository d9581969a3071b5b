// Package update runs the fixed NixOS update workflow: pull the
// configuration, update the flake lock, rebuild when the lock moved, then
// report package, tool and profile changes.
package update

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/diagnose"
	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/output"
	"github.com/jaa/forge/internal/status"
)

// Logical step names reported in status messages.
const (
	StepPull     = "pull"
	StepFlake    = "flake"
	StepRebuild  = "Rebuild"
	StepPackages = "Packages"
	StepBrowser  = "browser"
	StepUpdate   = "Update"
)

var errDetached = errors.New("status consumer detached")

type Options struct {
	FlakeDir       string
	Hostname       string
	LockBackupPath string
	RebuildCommand []string
	RebuildTimeout time.Duration
	Tools          []config.Tool
	Profiles       config.Profiles
	ProfilesDir    string
}

// OptionsFromConfig resolves paths in cfg into run options.
func OptionsFromConfig(cfg config.Config) (Options, error) {
	flakeDir, err := config.ExpandPath(cfg.FlakeDir)
	if err != nil {
		return Options{}, fmt.Errorf("resolve flake_dir: %w", err)
	}
	backup, err := config.LockBackupPath(cfg.StateDir)
	if err != nil {
		return Options{}, fmt.Errorf("resolve state_dir: %w", err)
	}

	opts := Options{
		FlakeDir:       flakeDir,
		Hostname:       cfg.Hostname,
		LockBackupPath: backup,
		RebuildCommand: append([]string{}, cfg.Rebuild.Command...),
		RebuildTimeout: time.Duration(cfg.Rebuild.CommandTimeoutSeconds) * time.Second,
		Profiles:       cfg.Profiles,
		ProfilesDir:    DefaultProfilesDir,
	}
	for _, tool := range cfg.Tools {
		if tool.Path, err = config.ExpandPath(tool.Path); err != nil {
			return Options{}, fmt.Errorf("resolve path for %s: %w", tool.Name, err)
		}
		opts.Tools = append(opts.Tools, tool)
	}
	if opts.Profiles.ConfigPath, err = config.ExpandPath(cfg.Profiles.ConfigPath); err != nil {
		return Options{}, fmt.Errorf("resolve profiles.config_path: %w", err)
	}
	return opts, nil
}

// StepLabels are the display names of the workflow's steps, in order.
func StepLabels(opts Options) []string {
	labels := []string{"Pull Config", "Flake Update", "Rebuilding System", "Comparing Packages"}
	for _, tool := range opts.Tools {
		labels = append(labels, tool.Name)
	}
	return append(labels, "Browser Profiles")
}

// ShellRestarter reconciles the desktop shell after a rebuild and returns
// a display name for what it restarted, or "" when nothing changed.
type ShellRestarter interface {
	RestartIfNeeded(ctx context.Context, sink status.Sink) (string, error)
}

type Orchestrator struct {
	Runner   engine.Runner
	Commits  CommitSource
	Shell    ShellRestarter
	Logger   *slog.Logger
	ReadLink func(string) (string, error)
	Exists   func(string) bool
	LookPath func(string) bool
	Hostname func() (string, error)

	opts Options
}

func New(opts Options, runner engine.Runner) *Orchestrator {
	subprocess := engine.NewSubprocessRunner()
	return &Orchestrator{
		Runner:   runner,
		Commits:  NewGitHubCommits(),
		Logger:   slog.Default(),
		ReadLink: os.Readlink,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
		LookPath: subprocess.CommandExists,
		Hostname: os.Hostname,
		opts:     opts,
	}
}

// Start runs the workflow on a background goroutine. The returned channel
// closes once the final message has been sent. Internal faults become a
// failed Update step followed by Done{false}.
func (o *Orchestrator) Start(ctx context.Context, sink status.Sink) <-chan struct{} {
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		if err := o.runGuarded(ctx, sink); err != nil {
			if errors.Is(err, errDetached) {
				o.Logger.Debug("update consumer went away", "err", err)
				return
			}
			o.Logger.Error("update failed", "err", err)
			sink.Send(status.StepFailed{
				Step:  StepUpdate,
				Error: diagnose.FromStderr(err.Error(), diagnose.ErrorContext{Operation: "Update"}),
			})
			sink.Send(status.Done{Success: false})
		}
	}()
	return finished
}

func (o *Orchestrator) runGuarded(ctx context.Context, sink status.Sink) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("internal error: %v", recovered)
		}
	}()
	_, err = o.Run(ctx, sink)
	return err
}

// run carries per-run state through the stages.
type run struct {
	o       *Orchestrator
	ctx     context.Context
	sink    status.Sink
	summary Summary
}

func (r *run) send(msg status.Message) error {
	if !r.sink.Send(msg) {
		return errDetached
	}
	return nil
}

func (r *run) out(lines ...string) error {
	for _, line := range lines {
		if err := r.send(status.Stdout{Line: line}); err != nil {
			return err
		}
	}
	return nil
}

// cancelled sends Cancelled when the run's context is done.
func (r *run) cancelled() (bool, error) {
	if r.ctx.Err() == nil {
		return false, nil
	}
	return true, r.send(status.Cancelled{})
}

// Run executes every stage in order on the calling goroutine and returns
// the accumulated summary. Subprocess failures are reported on sink; only
// internal faults come back as errors.
func (o *Orchestrator) Run(ctx context.Context, sink status.Sink) (Summary, error) {
	r := &run{o: o, ctx: ctx, sink: sink}
	err := r.execute()
	return r.summary, err
}

func (r *run) execute() error {
	o := r.o
	hostname := o.hostname()

	if err := r.out("", "==============================================", "  NixOS System Update", "==============================================", ""); err != nil {
		return err
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	if err := r.pull(); err != nil {
		return err
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	lockBefore := LockHash(o.opts.FlakeDir)
	if err := SaveLockBackup(o.opts.FlakeDir, o.opts.LockBackupPath); err != nil {
		o.Logger.Warn("could not back up flake.lock", "err", err)
	}

	proceed, err := r.flakeUpdate()
	if err != nil || !proceed {
		return err
	}

	needsRebuild := lockBefore != LockHash(o.opts.FlakeDir)
	if needsRebuild {
		r.summary.FlakeChanges = r.flakeChanges()
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	if needsRebuild {
		proceed, err := r.rebuild(hostname)
		if err != nil || !proceed {
			return err
		}
	} else {
		r.summary.RebuildSkipped = true
		if err := r.out("", "  - Skipping rebuild (no changes)"); err != nil {
			return err
		}
		if err := r.send(status.StepSkipped{Step: StepRebuild}); err != nil {
			return err
		}
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	if err := r.packages(); err != nil {
		return err
	}

	if !r.summary.RebuildFailed && !r.summary.RebuildSkipped {
		r.summary.RebootReasons = RebootReasons(o.ReadLink, r.summary.PackageChanges)
	}

	for _, tool := range o.opts.Tools {
		if stop, err := r.cancelled(); stop || err != nil {
			return err
		}
		if err := r.tool(tool); err != nil {
			return err
		}
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	if err := r.profiles(); err != nil {
		return err
	}

	if stop, err := r.cancelled(); stop || err != nil {
		return err
	}
	if err := r.out(Render(r.summary)...); err != nil {
		return err
	}
	if len(r.summary.RebootReasons) > 0 {
		if err := r.send(status.RebootRecommended{Reasons: append([]string{}, r.summary.RebootReasons...)}); err != nil {
			return err
		}
	}
	return r.send(status.Done{Success: r.summary.Success()})
}

func (o *Orchestrator) hostname() string {
	if name := strings.TrimSpace(o.opts.Hostname); name != "" {
		return name
	}
	if o.Hostname != nil {
		if name, err := o.Hostname(); err == nil && strings.TrimSpace(name) != "" {
			return strings.TrimSpace(name)
		}
	}
	o.Logger.Warn("could not determine hostname, using localhost")
	return "localhost"
}

func (r *run) pull() error {
	o := r.o
	dir := o.opts.FlakeDir

	skip := func(reason string) error {
		if err := r.out("  - " + reason); err != nil {
			return err
		}
		return r.send(status.StepSkipped{Step: StepPull})
	}

	if !isGitRepo(dir) {
		return skip("Not a git repository, skipping pull")
	}
	if !git(r.ctx, o.Runner, dir, "fetch", "origin").Success {
		return skip("Unable to fetch from remote")
	}
	count := unpulledCount(r.ctx, o.Runner, dir)
	if count == 0 {
		return skip("No configuration updates to pull")
	}

	res := git(r.ctx, o.Runner, dir, "pull", "--ff-only")
	if res.Success {
		if err := r.out(fmt.Sprintf("  ✓ Pulled %d commit(s)", count)); err != nil {
			return err
		}
		return r.send(status.StepComplete{Step: StepPull})
	}

	o.Logger.Warn("git pull failed", "exit_code", res.ExitCode)
	if err := r.out("  ✗ Failed to pull configuration updates"); err != nil {
		return err
	}
	return r.send(status.StepFailed{
		Step:  StepPull,
		Error: diagnose.FromStderr(res.Stderr, diagnose.ErrorContext{Operation: "Git pull"}),
	})
}

// flakeUpdate reports whether the pipeline should continue.
func (r *run) flakeUpdate() (bool, error) {
	o := r.o
	if err := r.out(Banner("Updating Flake Inputs")...); err != nil {
		return false, err
	}

	result := o.Runner.Stream(r.ctx, engine.ExecSpec{
		Bin:  "nix",
		Args: []string{"flake", "update", "--flake", o.opts.FlakeDir},
	}, r.sink, output.NixTransform)

	if err := r.out(""); err != nil {
		return false, err
	}
	switch {
	case result.Cancelled():
		if err := r.out("  ⊘ Flake update cancelled"); err != nil {
			return false, err
		}
		return false, r.send(status.Cancelled{})
	case !result.Succeeded():
		if err := r.out("  ✗ Flake update failed"); err != nil {
			return false, err
		}
		if err := r.send(status.StepFailed{
			Step:  StepFlake,
			Error: diagnose.FromStderr(failureText(result, "Flake update failed - see output above for details"), diagnose.ErrorContext{Operation: "Flake update"}),
		}); err != nil {
			return false, err
		}
		return false, r.send(status.Done{Success: false})
	}

	if err := r.out("  ✓ Flake inputs updated"); err != nil {
		return false, err
	}
	return true, r.send(status.StepComplete{Step: StepFlake})
}

func (r *run) flakeChanges() []FlakeChange {
	o := r.o
	before, err := os.ReadFile(o.opts.LockBackupPath)
	if err != nil {
		o.Logger.Warn("flake.lock backup unavailable", "err", err)
		return nil
	}
	after, err := os.ReadFile(LockPath(o.opts.FlakeDir))
	if err != nil {
		o.Logger.Warn("flake.lock unreadable after update", "err", err)
		return nil
	}
	changes, err := DiffLocks(before, after)
	if err != nil {
		o.Logger.Warn("could not diff flake.lock", "err", err)
		return nil
	}
	return attachCommits(r.ctx, o.Commits, changes)
}

func (r *run) rebuild(hostname string) (bool, error) {
	o := r.o
	if err := r.out(Banner("Rebuilding System")...); err != nil {
		return false, err
	}

	command := o.opts.RebuildCommand
	if len(command) == 0 {
		command = []string{"sudo", "nixos-rebuild", "switch"}
	}
	args := append(append([]string{}, command[1:]...), "--flake", o.opts.FlakeDir+"#"+hostname)
	result := o.Runner.Stream(r.ctx, engine.ExecSpec{
		Bin:     command[0],
		Args:    args,
		Timeout: o.opts.RebuildTimeout,
	}, r.sink, stripOnly)

	if err := r.out(""); err != nil {
		return false, err
	}
	switch {
	case result.Cancelled():
		if err := r.out("  ⊘ System rebuild cancelled"); err != nil {
			return false, err
		}
		return false, r.send(status.Cancelled{})
	case result.Succeeded():
		if err := r.out("  ✓ System rebuilt successfully"); err != nil {
			return false, err
		}
		if err := r.send(status.StepComplete{Step: StepRebuild}); err != nil {
			return false, err
		}
		if o.Shell != nil {
			name, err := o.Shell.RestartIfNeeded(r.ctx, r.sink)
			if err != nil {
				o.Logger.Warn("shell reconciliation failed", "err", err)
			} else if name != "" {
				if err := r.out(fmt.Sprintf("  ✓ Restarted %s shell", name)); err != nil {
					return false, err
				}
			}
		}
	default:
		r.summary.RebuildFailed = true
		if err := r.out("  ✗ System rebuild failed"); err != nil {
			return false, err
		}
		if err := r.send(status.StepFailed{
			Step:  StepRebuild,
			Error: diagnose.FromStderr(failureText(result, "System rebuild failed - see output above for details"), diagnose.ErrorContext{Operation: "System rebuild"}),
		}); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *run) packages() error {
	o := r.o
	if err := r.out("", "  Comparing packages..."); err != nil {
		return err
	}

	diff, err := ComparePackages(r.ctx, o.Runner, o.opts.ProfilesDir)
	if err != nil {
		o.Logger.Warn("package comparison failed", "err", err)
	}
	r.summary.PackageChanges = diff.Changes
	r.summary.ClosureSummary = diff.ClosureSummary

	line := "  - No package version changes"
	if len(diff.Changes) > 0 {
		line = fmt.Sprintf("  ✓ %d packages updated", len(diff.Changes))
	}
	if err := r.out(line); err != nil {
		return err
	}
	return r.send(status.StepComplete{Step: StepPackages})
}

func (r *run) tool(tool config.Tool) error {
	o := r.o
	if !o.Exists(tool.Path) {
		if err := r.out(fmt.Sprintf("  - %s not installed", tool.Name)); err != nil {
			return err
		}
		return r.send(status.StepSkipped{Step: tool.Step})
	}

	versions := ToolVersions{Name: tool.Name}
	versions.Old = toolVersion(r.ctx, o.Runner, tool, tool.Path)

	mark := "✗"
	if spec, err := ParseCommand(tool.Update); err != nil {
		o.Logger.Warn("invalid tool update command", "tool", tool.Name, "err", err)
	} else if o.Runner.Capture(r.ctx, spec).Success {
		mark = "✓"
	}
	if err := r.out(fmt.Sprintf("  %s Updating %s", mark, tool.Name)); err != nil {
		return err
	}

	versions.New = toolVersion(r.ctx, o.Runner, tool, tool.Path)
	r.summary.Tools = append(r.summary.Tools, versions)
	return r.send(status.StepComplete{Step: tool.Step})
}

func (r *run) profiles() error {
	o := r.o
	command := strings.TrimSpace(o.opts.Profiles.Command)
	bin := ""
	if spec, err := ParseCommand(command); err == nil {
		bin = spec.Bin
	}

	if bin == "" || !o.LookPath(bin) {
		r.summary.BrowserStatus = ProfilesNotConfigured
		if err := r.out("  - App backup not configured"); err != nil {
			return err
		}
		return r.send(status.StepSkipped{Step: StepBrowser})
	}

	if o.opts.Profiles.ConfigPath != "" && o.Exists(o.opts.Profiles.ConfigPath) {
		r.summary.BrowserStatus = ProfileStatus(r.ctx, o.Runner, command)
		if err := r.out("  ✓ Browser profiles: " + r.summary.BrowserStatus); err != nil {
			return err
		}
	} else {
		r.summary.BrowserStatus = ProfilesNotConfigured
		if err := r.out("  - Browser profiles not configured"); err != nil {
			return err
		}
	}
	return r.send(status.StepComplete{Step: StepBrowser})
}

func failureText(result engine.CommandResult, fallback string) string {
	if tail := strings.TrimSpace(result.StderrTail); tail != "" {
		return tail
	}
	if result.TimedOut {
		return "command timed out"
	}
	return fallback
}

func stripOnly(line string) (string, bool) {
	return output.StripEscapeCodes(line), true
}
