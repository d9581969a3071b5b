package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/jaa/forge/internal/exitcode"
)

func newShellCommand(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shell",
		Short: "Manage the desktop shell",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "reconcile",
		Short: "Make sure exactly one up-to-date desktop shell is running",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(app)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), interruptSignals()...)
			defer stop()

			sink := lineSink{out: app.IO.Out, err: app.IO.ErrOut}
			if app.Opts.JSON || app.Opts.Quiet {
				sink = lineSink{out: io.Discard, err: app.IO.ErrOut}
			}
			outcome, err := s.reconciler().Reconcile(ctx, sink)
			if err != nil {
				return withExitCode(exitcode.RuntimeFailure, err)
			}

			if app.Opts.JSON {
				return json.NewEncoder(app.IO.Out).Encode(map[string]any{
					"result":   outcome.Display(),
					"killed":   outcome.Killed,
					"launched": outcome.Launched,
					"verified": outcome.Verified,
				})
			}
			if display := outcome.Display(); display != "" {
				fmt.Fprintf(app.IO.Out, "Shell: %s\n", display)
			} else {
				fmt.Fprintln(app.IO.Out, "Shell: nothing to do")
			}
			return nil
		},
	})
	return cmd
}
