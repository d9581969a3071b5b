// Package status defines the messages a background workflow sends to
// whatever is rendering it, and the ordered channel they travel over.
package status

import "github.com/jaa/forge/internal/diagnose"

// Message is one status update from a running workflow. Consumers must
// ignore variants they do not handle.
type Message interface {
	isMessage()
}

type Stdout struct {
	Line string
}

type Stderr struct {
	Line string
}

type StepComplete struct {
	Step string
}

type StepFailed struct {
	Step  string
	Error diagnose.ParsedError
}

type StepSkipped struct {
	Step string
}

// Done is the terminal message of a run that was not cancelled.
type Done struct {
	Success bool
}

// Cancelled is the terminal message of a run the operator aborted. It
// supersedes Done.
type Cancelled struct{}

type RebootRecommended struct {
	Reasons []string
}

// Commit is a short commit reference shown in update notices.
type Commit struct {
	Hash    string
	Message string
}

// UpdatesAvailable reports the result of the startup check against the
// configuration remote.
type UpdatesAvailable struct {
	ConfigBehind bool
	AppProfiles  bool
	Commits      []Commit
}

// CloneComplete ends a configuration checkout.
type CloneComplete struct {
	Success bool
}

func (Stdout) isMessage()            {}
func (Stderr) isMessage()            {}
func (StepComplete) isMessage()      {}
func (StepFailed) isMessage()        {}
func (StepSkipped) isMessage()       {}
func (Done) isMessage()              {}
func (Cancelled) isMessage()         {}
func (RebootRecommended) isMessage() {}
func (UpdatesAvailable) isMessage()  {}
func (CloneComplete) isMessage()     {}

// IsTerminal reports whether msg ends a workflow run.
func IsTerminal(msg Message) bool {
	switch msg.(type) {
	case Done, Cancelled, CloneComplete:
		return true
	default:
		return false
	}
}
