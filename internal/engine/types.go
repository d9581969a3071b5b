package engine

import (
	"context"
	"time"

	"github.com/jaa/forge/internal/status"
)

type ExecSpec struct {
	Bin     string
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

// Capture is the result of a command run to completion with its output
// collected in memory.
type Capture struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Err      error
}

// Outcome is the tri-state result of a streamed command.
type Outcome int

const (
	OutcomeFailed Outcome = iota
	OutcomeSucceeded
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "failed"
	}
}

// CommandResult is either Completed(success) or Cancelled, never both.
type CommandResult struct {
	Outcome    Outcome
	ExitCode   int
	TimedOut   bool
	Duration   time.Duration
	StderrTail string
	Err        error
}

func Completed(success bool) CommandResult {
	if success {
		return CommandResult{Outcome: OutcomeSucceeded}
	}
	return CommandResult{Outcome: OutcomeFailed, ExitCode: 1}
}

func CancelledResult() CommandResult {
	return CommandResult{Outcome: OutcomeCancelled, ExitCode: 130}
}

func (r CommandResult) Cancelled() bool { return r.Outcome == OutcomeCancelled }
func (r CommandResult) Succeeded() bool { return r.Outcome == OutcomeSucceeded }

// LineTransform rewrites or drops one output line. Returning false drops it.
type LineTransform func(line string) (string, bool)

// Runner runs external commands. SubprocessRunner is the real one; tests
// substitute scripted fakes.
type Runner interface {
	Capture(ctx context.Context, spec ExecSpec) Capture
	Stream(ctx context.Context, spec ExecSpec, sink status.Sink, transform LineTransform) CommandResult
	Detach(spec ExecSpec) error
}
