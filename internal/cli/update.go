package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/console"
	"github.com/jaa/forge/internal/exitcode"
	"github.com/jaa/forge/internal/output"
	"github.com/jaa/forge/internal/status"
	"github.com/jaa/forge/internal/update"
)

func newUpdateCommand(app *AppContext) *cobra.Command {
	var localChanges string
	var noTUI bool

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Pull, update the flake, rebuild and report what changed",
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := config.LocalChangesPolicy("")
			if cmd.Flags().Changed("local-changes") {
				parsed, err := parseLocalChangesPolicy(localChanges)
				if err != nil {
					return withExitCode(exitcode.InvalidUsage, err)
				}
				policy = parsed
			}

			if !noTUI && interactive(app) {
				return runConsole(cmd.Context(), app, policy, true)
			}
			return runHeadless(cmd.Context(), app, policy)
		},
	}

	cmd.Flags().StringVar(&localChanges, "local-changes", "", "What to do with uncommitted config changes: abort, stash, or overwrite")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "Stream progress as plain lines instead of opening the console")
	return cmd
}

// runConsole hands the terminal to the interactive console. An empty
// policy falls back to the configured one.
func runConsole(ctx context.Context, app *AppContext, policy config.LocalChangesPolicy, autoUpdate bool) error {
	s, err := openSession(app)
	if err != nil {
		return err
	}
	defer s.Close()
	if policy == "" {
		policy = s.cfg.LocalChanges
	}

	console.ConfigureColor(app.Opts.NoColor)
	workflow, err := console.Run(ctx, s.backend(policy), autoUpdate)
	if err != nil {
		return withExitCode(exitcode.RuntimeFailure, err)
	}
	return workflowExit(workflow)
}

func workflowExit(workflow *console.Workflow) error {
	switch {
	case workflow == nil || workflow.Phase != console.PhaseComplete:
		return nil
	case workflow.Cancelled:
		return withExitCode(exitcode.Interrupted, errors.New("update cancelled"))
	case !workflow.Success:
		return withExitCode(exitcode.UpdateFailed, errors.New("update failed"))
	}
	return nil
}

func runHeadless(ctx context.Context, app *AppContext, policy config.LocalChangesPolicy) error {
	s, err := openSession(app)
	if err != nil {
		return err
	}
	defer s.Close()
	if policy == "" {
		policy = s.cfg.LocalChanges
	}

	ctx, stop := signal.NotifyContext(ctx, interruptSignals()...)
	defer stop()

	stashed, err := s.prepare(ctx, policy)
	if err != nil {
		var blocked *update.LocalChangesError
		if errors.As(err, &blocked) {
			return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("%w (rerun with --local-changes stash or overwrite)", err))
		}
		return withExitCode(exitcode.RuntimeFailure, err)
	}

	emitter := output.NewMultiEmitter(headlessEmitter(app), output.NewLogEmitter(s.logger))
	sender, ch := status.NewChannel(64)
	finished := s.orchestrator().Start(ctx, sender)
	outcome, drainErr := output.Drain(ch, emitter, nil)
	sender.Close()
	<-finished

	if drainErr != nil {
		return withExitCode(exitcode.RuntimeFailure, fmt.Errorf("write progress: %w", drainErr))
	}
	if outcome.Cancelled {
		return withExitCode(exitcode.Interrupted, errors.New("update cancelled"))
	}
	if !outcome.Success {
		if stashed {
			fmt.Fprintln(app.IO.ErrOut, "WARN: local changes remain stashed; restore them with git stash pop")
		}
		return withExitCode(exitcode.UpdateFailed, errors.New("update failed"))
	}

	if stashed {
		lines, popErr := s.stashPop(ctx)
		if !app.Opts.JSON {
			for _, line := range lines {
				fmt.Fprintln(app.IO.Out, line)
			}
		}
		if popErr != nil {
			fmt.Fprintln(app.IO.ErrOut, "WARN: restore stashed changes:", popErr)
		}
	}
	if len(outcome.Reboot) > 0 && !app.Opts.JSON {
		fmt.Fprintf(app.IO.Out, "Reboot recommended (%s). Run: systemctl reboot\n", strings.Join(outcome.Reboot, ", "))
	}
	return nil
}

func headlessEmitter(app *AppContext) output.EventEmitter {
	if app.Opts.JSON {
		return output.NewJSONEmitter(app.IO.Out)
	}
	return output.NewHumanEmitter(app.IO.Out, app.IO.ErrOut, app.Opts.Quiet, app.Opts.Verbose)
}
