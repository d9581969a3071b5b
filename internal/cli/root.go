package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jaa/forge/internal/exitcode"
)

func Execute(build BuildInfo, streams IOStreams) int {
	wd, _ := os.Getwd()
	if envErr := loadEnvFiles(envFileDirs(wd), os.Environ(), os.Setenv); envErr != nil {
		fmt.Fprintln(streams.ErrOut, "WARN:", envErr)
	}

	app := &AppContext{Build: build, IO: streams}
	root := newRootCommand(app)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(streams.ErrOut, "ERROR:", err)
		return mapExitCode(err)
	}
	return exitcode.Success
}

func newRootCommand(app *AppContext) *cobra.Command {
	showVersion := false

	root := &cobra.Command{
		Use:   "forge",
		Short: "Keep a flake-based NixOS system up to date",
		Long: "forge pulls your NixOS configuration, updates the flake lock, rebuilds when inputs moved " +
			"and reports what changed. Run without a subcommand on a terminal to open the console.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				return printVersion(app)
			}
			if !interactive(app) {
				return cmd.Help()
			}
			return runConsole(cmd.Context(), app, "", false)
		},
		SilenceErrors:     true,
		SilenceUsage:      true,
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
	}

	defaultConfigPath := os.Getenv("FORGE_CONFIG")
	root.PersistentFlags().StringVarP(&app.Opts.ConfigPath, "config", "c", defaultConfigPath, "Path to config file")
	root.PersistentFlags().BoolVar(&app.Opts.JSON, "json", false, "Emit newline-delimited JSON events")
	root.PersistentFlags().BoolVarP(&app.Opts.Quiet, "quiet", "q", false, "Reduce output to errors and summary")
	root.PersistentFlags().BoolVarP(&app.Opts.Verbose, "verbose", "v", false, "Increase diagnostic output and log at debug level")
	root.PersistentFlags().BoolVar(&app.Opts.NoColor, "no-color", os.Getenv("NO_COLOR") != "", "Disable color output")
	root.PersistentFlags().BoolVar(&app.Opts.NoInput, "no-input", false, "Disable interactive prompts and the console")
	root.Flags().BoolVar(&showVersion, "version", false, "Print version info")

	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return withExitCode(exitcode.InvalidUsage, err)
	})

	root.AddCommand(newInitCommand(app))
	root.AddCommand(newValidateCommand(app))
	root.AddCommand(newDoctorCommand(app))
	root.AddCommand(newUpdateCommand(app))
	root.AddCommand(newCheckCommand(app))
	root.AddCommand(newCloneCommand(app))
	root.AddCommand(newShellCommand(app))
	root.AddCommand(newVersionCommand(app))

	return root
}
