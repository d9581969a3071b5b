package cli

import (
	"errors"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jaa/forge/internal/exitcode"
	"github.com/jaa/forge/internal/output"
	"github.com/jaa/forge/internal/status"
	"github.com/jaa/forge/internal/update"
)

func newCloneCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clone <repository-url>",
		Short: "Check out the NixOS configuration repository into flake_dir",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(app)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals()...)
			defer stop()

			sender, ch := status.NewChannel(64)
			go update.Clone(ctx, s.runner, args[0], s.opts.FlakeDir, sender)
			outcome, drainErr := output.Drain(ch, output.NewMultiEmitter(headlessEmitter(app), output.NewLogEmitter(s.logger)), nil)
			sender.Close()

			switch {
			case drainErr != nil:
				return withExitCode(exitcode.RuntimeFailure, drainErr)
			case outcome.Cancelled:
				return withExitCode(exitcode.Interrupted, errors.New("clone cancelled"))
			case !outcome.Success:
				return withExitCode(exitcode.RuntimeFailure, errors.New("clone failed"))
			}
			return nil
		},
	}
}
