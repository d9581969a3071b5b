package update

import (
	"context"
	"strings"

	"github.com/jaa/forge/internal/engine"
)

const (
	ProfilesUpToDate         = "up to date"
	ProfilesUpdatesAvailable = "updates available"
	ProfilesUnknown          = "unknown"
	ProfilesNotConfigured    = "not configured"
)

// ProfileStatus asks the profile tool for its status and maps the answer
// onto one of the fixed status strings.
func ProfileStatus(ctx context.Context, runner engine.Runner, command string) string {
	spec, err := ParseCommand(command)
	if err != nil {
		return ProfilesUnknown
	}
	spec.Args = append(spec.Args, "status")

	res := runner.Capture(ctx, spec)
	if !res.Success {
		return ProfilesUnknown
	}
	return classifyProfileStatus(res.Stdout)
}

func classifyProfileStatus(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "not configured"):
		return ProfilesNotConfigured
	case strings.Contains(lower, "outdated"),
		strings.Contains(lower, "behind"),
		strings.Contains(lower, "update available"),
		strings.Contains(lower, "updates available"):
		return ProfilesUpdatesAvailable
	case strings.Contains(lower, "up to date"), strings.Contains(lower, "up-to-date"):
		return ProfilesUpToDate
	default:
		return ProfilesUnknown
	}
}
