package output

import (
	"strings"
	"time"

	"github.com/jaa/forge/internal/status"
)

type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

type EventName string

const (
	EventOutput            EventName = "output"
	EventStepComplete      EventName = "step_complete"
	EventStepFailed        EventName = "step_failed"
	EventStepSkipped       EventName = "step_skipped"
	EventDone              EventName = "done"
	EventCancelled         EventName = "cancelled"
	EventRebootRecommended EventName = "reboot_recommended"
	EventUpdatesAvailable  EventName = "updates_available"
	EventCloneComplete     EventName = "clone_complete"
)

type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Event     EventName      `json:"event"`
	Step      string         `json:"step,omitempty"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// EventFromMessage converts a status message to an event. Unknown message
// types yield false.
func EventFromMessage(msg status.Message, now time.Time) (Event, bool) {
	event := Event{Timestamp: now, Level: LevelInfo}
	switch m := msg.(type) {
	case status.Stdout:
		event.Event = EventOutput
		event.Message = StripEscapeCodes(m.Line)
	case status.Stderr:
		event.Event = EventOutput
		event.Message = StripEscapeCodes(m.Line)
		event.Details = map[string]any{"stream": "stderr"}
	case status.StepComplete:
		event.Event = EventStepComplete
		event.Step = m.Step
		event.Message = "step complete: " + m.Step
	case status.StepSkipped:
		event.Event = EventStepSkipped
		event.Step = m.Step
		event.Message = "step skipped: " + m.Step
	case status.StepFailed:
		event.Level = LevelError
		event.Event = EventStepFailed
		event.Step = m.Step
		event.Message = m.Error.Summary
		event.Details = map[string]any{"suggestion": m.Error.Suggestion}
		if m.Error.HasDetail() {
			event.Details["detail"] = m.Error.Detail
		}
	case status.Done:
		event.Event = EventDone
		event.Message = "operation completed"
		if !m.Success {
			event.Level = LevelError
			event.Message = "operation failed"
		}
		event.Details = map[string]any{"success": m.Success}
	case status.Cancelled:
		event.Level = LevelWarn
		event.Event = EventCancelled
		event.Message = "operation cancelled"
	case status.RebootRecommended:
		event.Level = LevelWarn
		event.Event = EventRebootRecommended
		event.Message = "reboot recommended: " + strings.Join(m.Reasons, ", ")
		event.Details = map[string]any{"reasons": m.Reasons}
	case status.UpdatesAvailable:
		event.Event = EventUpdatesAvailable
		event.Message = "no configuration updates"
		if m.ConfigBehind {
			event.Message = "configuration updates available"
		}
		event.Details = map[string]any{
			"config_behind": m.ConfigBehind,
			"app_profiles":  m.AppProfiles,
			"commits":       len(m.Commits),
		}
	case status.CloneComplete:
		event.Event = EventCloneComplete
		event.Message = "configuration cloned"
		if !m.Success {
			event.Level = LevelError
			event.Message = "configuration clone failed"
		}
		event.Details = map[string]any{"success": m.Success}
	default:
		return Event{}, false
	}
	return event, true
}
