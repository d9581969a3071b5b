package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/console"
	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/exitcode"
	"github.com/jaa/forge/internal/logging"
	"github.com/jaa/forge/internal/shell"
	"github.com/jaa/forge/internal/status"
	"github.com/jaa/forge/internal/update"
)

// session is the loaded configuration plus the collaborators every
// workflow command shares.
type session struct {
	cfg    config.Config
	opts   update.Options
	runner *engine.SubprocessRunner
	logger *slog.Logger
	logs   io.Closer
}

func openSession(app *AppContext) (*session, error) {
	cfg, err := loadConfig(app)
	if err != nil {
		return nil, withExitCode(exitcode.InvalidConfig, err)
	}
	if err := config.Validate(cfg); err != nil {
		return nil, withExitCode(exitcode.InvalidConfig, err)
	}
	opts, err := update.OptionsFromConfig(cfg)
	if err != nil {
		return nil, withExitCode(exitcode.InvalidConfig, err)
	}

	s := &session{cfg: cfg, opts: opts, runner: engine.NewSubprocessRunner()}

	level := logging.LevelInfo
	if app.Opts.Verbose {
		level = logging.LevelDebug
	}
	s.logger = logging.Discard()
	if path, pathErr := config.LogPath(cfg.StateDir); pathErr == nil {
		logger, closer, openErr := logging.OpenFile(path, level)
		if openErr != nil {
			fmt.Fprintln(app.IO.ErrOut, "WARN:", openErr)
		} else {
			s.logger, s.logs = logger, closer
		}
	}
	s.logger.Debug("session opened", "flake_dir", opts.FlakeDir, "tools", len(opts.Tools))
	return s, nil
}

func (s *session) Close() {
	if s.logs != nil {
		_ = s.logs.Close()
	}
}

func (s *session) reconciler() *shell.Reconciler {
	r := shell.NewReconciler(s.runner, s.cfg.Shell)
	r.Logger = s.logger
	return r
}

func (s *session) orchestrator() *update.Orchestrator {
	o := update.New(s.opts, s.runner)
	o.Logger = s.logger
	if s.cfg.Shell.Enabled {
		o.Shell = s.reconciler()
	}
	return o
}

func (s *session) profileStatus(ctx context.Context) string {
	if s.cfg.Profiles.Command == "" {
		return update.ProfilesNotConfigured
	}
	return update.ProfileStatus(ctx, s.runner, s.cfg.Profiles.Command)
}

func (s *session) checkUpdates(ctx context.Context) status.UpdatesAvailable {
	return update.CheckForUpdates(ctx, s.runner, s.opts.FlakeDir, s.profileStatus)
}

func (s *session) prepare(ctx context.Context, policy config.LocalChangesPolicy) (bool, error) {
	stashed, err := update.PrepareLocalChanges(ctx, s.runner, s.opts.FlakeDir, policy)
	if stashed {
		s.logger.Info("stashed local changes", "dir", s.opts.FlakeDir)
	}
	return stashed, err
}

func (s *session) stashPop(ctx context.Context) ([]string, error) {
	return update.StashPop(ctx, s.runner, s.opts.FlakeDir)
}

func (s *session) reboot() error {
	s.logger.Info("reboot requested")
	return s.runner.Detach(engine.ExecSpec{Bin: "systemctl", Args: []string{"reboot"}})
}

// backend wires the console to the real update workflow.
func (s *session) backend(policy config.LocalChangesPolicy) console.Backend {
	return console.Backend{
		Steps:       update.StepLabels(s.opts),
		BufferLines: s.cfg.OutputBufferLines,
		Policy:      policy,
		Check:       s.checkUpdates,
		LocalChanges: func(ctx context.Context) []string {
			return update.CheckLocalChanges(ctx, s.runner, s.opts.FlakeDir)
		},
		Prepare: s.prepare,
		Launch: func(ctx context.Context, sink status.Sink) {
			s.orchestrator().Start(ctx, sink)
		},
		StashPop: s.stashPop,
		Reboot:   s.reboot,
	}
}
