// Package console is the interactive terminal front end. Workflow holds the
// per-run state that status messages are applied to; Model renders it.
package console

import (
	"context"
	"strings"

	"github.com/jaa/forge/internal/diagnose"
	"github.com/jaa/forge/internal/output"
	"github.com/jaa/forge/internal/status"
	"github.com/jaa/forge/internal/steps"
)

type Phase int

const (
	PhaseRunning Phase = iota
	PhaseComplete
)

const cancelledLine = "Operation cancelled by user."

// Workflow is the state of one run. It is created when the run starts and
// dropped when the operator leaves the screen; nothing about it is global.
type Workflow struct {
	Phase         Phase
	Tracker       *steps.Tracker
	Success       bool
	Cancelled     bool
	Stashed       bool
	RebootReasons []string

	live   *output.Buffer
	final  *output.Buffer
	cancel context.CancelFunc
}

func NewWorkflow(labels []string, capacity int, cancel context.CancelFunc) *Workflow {
	return &Workflow{
		Phase:   PhaseRunning,
		Tracker: steps.NewTracker(labels...),
		live:    output.NewBuffer(capacity),
		cancel:  cancel,
	}
}

// Apply folds one status message into the state and reports whether the
// run has reached a terminal message. Unknown messages are ignored.
func (w *Workflow) Apply(msg status.Message) bool {
	if w.Phase == PhaseComplete {
		return true
	}

	switch m := msg.(type) {
	case status.Stdout:
		w.append(m.Line)
	case status.Stderr:
		w.append(m.Line)
	case status.StepComplete:
		w.Tracker.MarkComplete(m.Step)
	case status.StepSkipped:
		w.Tracker.MarkSkipped(m.Step)
	case status.StepFailed:
		w.Tracker.MarkFailed(m.Step, m.Error)
		for _, line := range ErrorBlock(m.Error) {
			w.append(line)
		}
	case status.RebootRecommended:
		w.RebootReasons = append([]string{}, m.Reasons...)
	case status.Done:
		w.complete(m.Success)
		return true
	case status.CloneComplete:
		w.complete(m.Success)
		return true
	case status.Cancelled:
		w.append(cancelledLine)
		w.Cancelled = true
		w.complete(false)
		return true
	}
	return false
}

// complete hands the output over to the completed state by copy. The live
// buffer is released so nothing keeps writing into what is displayed.
func (w *Workflow) complete(success bool) {
	w.Phase = PhaseComplete
	w.Success = success
	w.Tracker.Finish()
	w.final = w.live.Clone()
	w.live = nil
	w.cancel = nil
}

func (w *Workflow) append(line string) {
	buf := w.live
	if buf == nil {
		buf = w.final
	}
	buf.Append(output.StripEscapeCodes(line))
}

// AppendResult adds lines produced after completion, such as the output
// of restoring a stash.
func (w *Workflow) AppendResult(lines ...string) {
	for _, line := range lines {
		w.append(line)
	}
}

// Cancel signals the running workflow. It does nothing once the run has
// finished.
func (w *Workflow) Cancel() bool {
	if w.Phase != PhaseRunning || w.cancel == nil {
		return false
	}
	w.cancel()
	return true
}

// Lines returns a snapshot of the output for display.
func (w *Workflow) Lines() []string {
	if w.final != nil {
		return w.final.Lines()
	}
	return w.live.Lines()
}

func (w *Workflow) Err() string {
	return w.Tracker.Err()
}

// NeedsStashPop reports whether a stash taken before the run should be
// restored now.
func (w *Workflow) NeedsStashPop() bool {
	return w.Phase == PhaseComplete && w.Success && w.Stashed
}

// ErrorBlock renders a failure as summary, optional detail and suggestion.
func ErrorBlock(parsed diagnose.ParsedError) []string {
	lines := []string{"", "  ✗ " + parsed.Summary}
	if parsed.HasDetail() {
		for _, line := range strings.Split(strings.TrimRight(parsed.Detail, "\n"), "\n") {
			lines = append(lines, "    "+line)
		}
	}
	if parsed.Suggestion != "" {
		lines = append(lines, "  → "+parsed.Suggestion)
	}
	return lines
}
