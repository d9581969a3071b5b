// Package steps tracks the progress of a fixed, ordered list of named
// workflow steps from loosely named completion reports.
package steps

import (
	"strings"

	"github.com/jaa/forge/internal/diagnose"
)

type Status int

const (
	Pending Status = iota
	Running
	Complete
	Failed
	Skipped
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Complete:
		return "complete"
	case Failed:
		return "failed"
	case Skipped:
		return "skipped"
	default:
		return "pending"
	}
}

// Terminal reports whether the status is final for the current run.
func (s Status) Terminal() bool {
	return s == Complete || s == Failed || s == Skipped
}

type Step struct {
	Name   string
	Status Status
}

// Matches reports whether a step reported as name refers to tracked. The
// comparison is case-insensitive: the tracked name contains the reported
// one, or the tracked name's first word equals or is contained in it. A
// blank name matches nothing.
func Matches(tracked Step, name string) bool {
	nameLower := strings.ToLower(strings.TrimSpace(name))
	if nameLower == "" {
		return false
	}
	trackedLower := strings.ToLower(tracked.Name)

	if strings.Contains(trackedLower, nameLower) {
		return true
	}

	fields := strings.Fields(trackedLower)
	if len(fields) == 0 {
		return false
	}
	first := fields[0]
	return first == nameLower || strings.Contains(nameLower, first)
}

// Tracker owns the step list, cursor and current error of one workflow run.
// It is not safe for concurrent use; the message consumer owns it.
type Tracker struct {
	steps  []Step
	cursor int
	err    string
}

// NewTracker creates a tracker whose first step is Running.
func NewTracker(names ...string) *Tracker {
	t := &Tracker{steps: make([]Step, 0, len(names))}
	for _, name := range names {
		t.steps = append(t.steps, Step{Name: name, Status: Pending})
	}
	if len(t.steps) > 0 {
		t.steps[0].Status = Running
	}
	return t
}

// Steps returns a snapshot of the step list.
func (t *Tracker) Steps() []Step {
	return append([]Step(nil), t.steps...)
}

func (t *Tracker) Cursor() int {
	return t.cursor
}

func (t *Tracker) Len() int {
	return len(t.steps)
}

// Err returns the summary of the most recent failure, if any.
func (t *Tracker) Err() string {
	return t.err
}

// Find returns the index of the first step matching name, or -1.
func (t *Tracker) Find(name string) int {
	for i := range t.steps {
		if Matches(t.steps[i], name) {
			return i
		}
	}
	return -1
}

func (t *Tracker) MarkComplete(name string) {
	t.settle(name, Complete)
}

func (t *Tracker) MarkSkipped(name string) {
	t.settle(name, Skipped)
}

// MarkFailed fails the first matching step and records the error summary.
// The cursor stays where it is; a failure halts forward progress.
func (t *Tracker) MarkFailed(name string, parsed diagnose.ParsedError) {
	if idx := t.Find(name); idx >= 0 {
		t.steps[idx].Status = Failed
	}
	t.err = parsed.Summary
}

func (t *Tracker) settle(name string, status Status) {
	idx := t.Find(name)
	if idx >= 0 && t.steps[idx].Status != Failed {
		t.steps[idx].Status = status
	}

	next := t.cursor + 1
	if idx >= next {
		next = idx + 1
	}
	if next > len(t.steps) {
		next = len(t.steps)
	}
	t.cursor = next

	if t.cursor < len(t.steps) && t.steps[t.cursor].Status == Pending {
		t.steps[t.cursor].Status = Running
	}
}

// Finish demotes a lingering Running marker once the workflow has ended,
// so a completed screen never shows a spinner.
func (t *Tracker) Finish() {
	for i := range t.steps {
		if t.steps[i].Status == Running {
			t.steps[i].Status = Pending
		}
	}
}
