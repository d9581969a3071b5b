package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/jaa/forge/internal/exitcode"
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// usageErrorMarkers are the cobra error prefixes that mean the command
// line itself was wrong.
var usageErrorMarkers = []string{"unknown command", "unknown flag", "unknown shorthand flag", "accepts ", "requires at least", "flag needs an argument"}

func mapExitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}
	var coded *ExitError
	if errors.As(err, &coded) {
		return coded.Code
	}
	if errors.Is(err, context.Canceled) {
		return exitcode.Interrupted
	}
	message := err.Error()
	for _, marker := range usageErrorMarkers {
		if strings.Contains(message, marker) {
			return exitcode.InvalidUsage
		}
	}
	return exitcode.RuntimeFailure
}
