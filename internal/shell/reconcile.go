package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/status"
)

const (
	DefaultSettle      = 500 * time.Millisecond
	DefaultStartupWait = 2 * time.Second
)

type Action int

const (
	ActionNone Action = iota
	ActionRestarted
	ActionCleanup
)

// Outcome records what one reconciliation pass did.
type Outcome struct {
	Action   Action
	Kind     Kind
	Expected string
	Killed   []int
	Kept     []int
	Launched bool
	Verified bool
}

// Display is the operator-facing description of the outcome, or "" when
// nothing was done.
func (o Outcome) Display() string {
	switch o.Action {
	case ActionRestarted:
		return o.Kind.Name()
	case ActionCleanup:
		return o.Kind.Name() + " (cleanup)"
	default:
		return ""
	}
}

type Reconciler struct {
	Runner      engine.Runner
	Logger      *slog.Logger
	ReadLink    func(string) (string, error)
	HomeDir     func() (string, error)
	LookPath    func(string) bool
	Sleep       func(context.Context, time.Duration)
	Dispatcher  string
	Settle      time.Duration
	StartupWait time.Duration
}

func NewReconciler(runner engine.Runner, cfg config.Shell) *Reconciler {
	subprocess := engine.NewSubprocessRunner()
	return &Reconciler{
		Runner:      runner,
		Logger:      slog.Default(),
		ReadLink:    os.Readlink,
		HomeDir:     os.UserHomeDir,
		LookPath:    subprocess.CommandExists,
		Sleep:       sleepContext,
		Dispatcher:  cfg.Dispatcher,
		Settle:      time.Duration(cfg.SettleMillis) * time.Millisecond,
		StartupWait: time.Duration(cfg.StartupWaitMillis) * time.Millisecond,
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Running lists the shell instances currently alive.
func (r *Reconciler) Running(ctx context.Context) []RunningProcessInfo {
	res := r.Runner.Capture(ctx, engine.ExecSpec{Bin: "pgrep", Args: []string{"-a", "quickshell"}})
	if !res.Success {
		return nil
	}
	return ParseProcessList(res.Stdout)
}

// ExpectedPath resolves where a freshly launched instance of kind would run
// from.
func (r *Reconciler) ExpectedPath(ctx context.Context, kind Kind) (string, bool) {
	home, err := r.HomeDir()
	if err != nil {
		return "", false
	}
	if target, err := r.ReadLink(kind.ConfigLink(home)); err == nil && strings.TrimSpace(target) != "" {
		return strings.TrimSpace(target), true
	}
	if kind == Illogical {
		if path, err := engine.Output(ctx, r.Runner, "which", "quickshell"); err == nil && path != "" {
			return path, true
		}
	}
	return "", false
}

// Reconcile kills instances running from a stale path and launches one
// replacement only when no current instance survives. Running it again
// right away finds nothing to do.
func (r *Reconciler) Reconcile(ctx context.Context, sink status.Sink) (Outcome, error) {
	running := r.Running(ctx)
	if len(running) == 0 {
		r.logger().Debug("no quickshell process running")
		return Outcome{}, nil
	}

	kind := running[0].Kind
	outcome := Outcome{Kind: kind}
	for _, info := range running {
		r.logger().Info("quickshell instance", "pid", info.PID, "shell", info.Kind.Name(), "path", info.RunningPath)
	}

	expected, ok := r.ExpectedPath(ctx, kind)
	if !ok {
		r.logger().Warn("could not determine expected shell path", "shell", kind.Name())
		return outcome, nil
	}
	outcome.Expected = expected

	for _, info := range running {
		if info.Kind.matches(info.RunningPath, expected) {
			outcome.Kept = append(outcome.Kept, info.PID)
		} else {
			outcome.Killed = append(outcome.Killed, info.PID)
		}
	}
	if len(outcome.Killed) == 0 {
		r.logger().Info("all shell instances current", "count", len(outcome.Kept))
		outcome.Killed = nil
		return outcome, nil
	}
	if ctx.Err() != nil {
		r.logger().Info("shell reconcile cancelled", "stale", len(outcome.Killed))
		outcome.Killed = nil
		return outcome, nil
	}

	if sink != nil {
		status.Out(sink, "")
		if len(outcome.Kept) == 0 {
			status.Out(sink, fmt.Sprintf("  Restarting %s shell (store path changed)...", kind.Name()))
		} else {
			status.Out(sink, fmt.Sprintf("  Cleaning up %d stale %s shell process(es)...", len(outcome.Killed), kind.Name()))
		}
	}

	for _, pid := range outcome.Killed {
		r.logger().Info("killing stale quickshell", "pid", pid)
		if res := r.Runner.Capture(ctx, engine.ExecSpec{Bin: "kill", Args: []string{strconv.Itoa(pid)}}); !res.Success {
			r.logger().Warn("kill failed", "pid", pid, "stderr", strings.TrimSpace(res.Stderr))
		}
	}
	r.sleep(ctx, r.Settle, DefaultSettle)

	if len(outcome.Kept) > 0 {
		outcome.Action = ActionCleanup
		return outcome, nil
	}

	if err := r.launch(ctx, kind); err != nil {
		return outcome, err
	}
	outcome.Action = ActionRestarted
	outcome.Launched = true

	r.sleep(ctx, r.StartupWait, DefaultStartupWait)
	outcome.Verified = len(r.Running(ctx)) > 0
	if outcome.Verified {
		r.logger().Info("shell restarted", "shell", kind.Name())
	} else {
		r.logger().Warn("shell may not have restarted", "shell", kind.Name())
	}
	return outcome, nil
}

// RestartIfNeeded reconciles and returns the display string of the
// outcome.
func (r *Reconciler) RestartIfNeeded(ctx context.Context, sink status.Sink) (string, error) {
	outcome, err := r.Reconcile(ctx, sink)
	if err != nil {
		return "", err
	}
	return outcome.Display(), nil
}

func (r *Reconciler) launch(ctx context.Context, kind Kind) error {
	bin, args := kind.RestartCommand()

	if r.Dispatcher != "" && r.LookPath != nil && r.LookPath(r.Dispatcher) {
		cmdline := strings.TrimSpace(bin + " " + strings.Join(args, " "))
		res := r.Runner.Capture(ctx, engine.ExecSpec{Bin: r.Dispatcher, Args: []string{"dispatch", "exec", cmdline}})
		if res.Success {
			return nil
		}
		r.logger().Warn("dispatch failed, launching directly", "dispatcher", r.Dispatcher, "stderr", strings.TrimSpace(res.Stderr))
	}

	expanded := make([]string, 0, len(args))
	for _, arg := range args {
		if strings.HasPrefix(arg, "~") {
			path, err := config.ExpandPath(arg)
			if err != nil {
				return err
			}
			arg = path
		}
		expanded = append(expanded, arg)
	}
	if err := r.Runner.Detach(engine.ExecSpec{Bin: bin, Args: expanded}); err != nil {
		return fmt.Errorf("launch %s: %w", kind.Name(), err)
	}
	return nil
}

func (r *Reconciler) sleep(ctx context.Context, d, fallback time.Duration) {
	if d < 0 {
		d = fallback
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	sleep(ctx, d)
}

func (r *Reconciler) logger() *slog.Logger {
	if r.Logger == nil {
		return slog.Default()
	}
	return r.Logger
}
