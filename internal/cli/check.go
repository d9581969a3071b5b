package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jaa/forge/internal/output"
)

func newCheckCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Report configuration commits and profile updates waiting upstream",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(app)
			if err != nil {
				return err
			}
			defer s.Close()

			updates := s.checkUpdates(cmd.Context())

			if app.Opts.JSON {
				event, _ := output.EventFromMessage(updates, time.Now())
				return output.NewJSONEmitter(app.IO.Out).Emit(event)
			}

			if !updates.ConfigBehind && !updates.AppProfiles {
				fmt.Fprintln(app.IO.Out, "Everything is up to date.")
				return nil
			}
			if updates.ConfigBehind {
				fmt.Fprintf(app.IO.Out, "%d configuration update(s) available:\n", len(updates.Commits))
				for _, commit := range updates.Commits {
					fmt.Fprintf(app.IO.Out, "  %s %s\n", commit.Hash, commit.Message)
				}
			}
			if updates.AppProfiles {
				fmt.Fprintln(app.IO.Out, "App profile updates available.")
			}
			return nil
		},
	}
}
