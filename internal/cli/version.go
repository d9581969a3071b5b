package cli

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	Platform  string `json:"platform"`
}

func newVersionCommand(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print forge build metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printVersion(app)
		},
	}
}

func buildVersion(build BuildInfo) versionInfo {
	info := versionInfo{
		Version:   build.Version,
		Commit:    build.Commit,
		BuildDate: build.Date,
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
	if info.Version == "" {
		info.Version = "dev"
	}
	if info.Commit == "" {
		info.Commit = "unknown"
	}
	if info.BuildDate == "" {
		info.BuildDate = "unknown"
	}
	return info
}

func printVersion(app *AppContext) error {
	info := buildVersion(app.Build)
	if app.Opts.JSON {
		return json.NewEncoder(app.IO.Out).Encode(info)
	}
	_, err := fmt.Fprintf(app.IO.Out, "forge version %s\ncommit: %s\nbuild_date: %s\nplatform: %s\n",
		info.Version, info.Commit, info.BuildDate, info.Platform)
	return err
}
