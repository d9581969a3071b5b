package update

import (
	"context"

	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/status"
)

// Clone checks out the configuration repository into dir and finishes with
// CloneComplete. An existing checkout counts as success and is left alone.
func Clone(ctx context.Context, runner engine.Runner, repoURL, dir string, sink status.Sink) bool {
	if isGitRepo(dir) {
		status.Out(sink, "  ✓ "+dir+" is already a git checkout")
		sink.Send(status.CloneComplete{Success: true})
		return true
	}
	if ctx.Err() != nil {
		sink.Send(status.Cancelled{})
		return false
	}

	status.Out(sink, "Cloning "+repoURL+" into "+dir)
	result := runner.Stream(ctx, engine.ExecSpec{
		Bin:  "git",
		Args: []string{"clone", "--progress", repoURL, dir},
	}, sink, stripOnly)
	if result.Cancelled() {
		sink.Send(status.Cancelled{})
		return false
	}

	if !result.Succeeded() {
		for _, line := range []string{
			"",
			"Failed to clone configuration repository.",
			"Please check:",
			"  1. Internet connection (run 'nmtui' to configure WiFi)",
			"  2. The repository is reachable",
		} {
			status.Out(sink, line)
		}
	}
	sink.Send(status.CloneComplete{Success: result.Succeeded()})
	return result.Succeeded()
}
