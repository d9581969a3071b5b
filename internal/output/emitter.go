package output

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/jaa/forge/internal/status"
)

type EventEmitter interface {
	Emit(event Event) error
}

type JSONEmitter struct {
	enc *json.Encoder
	mu  sync.Mutex
}

func NewJSONEmitter(w io.Writer) *JSONEmitter {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &JSONEmitter{enc: enc}
}

func (e *JSONEmitter) Emit(event Event) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.enc.Encode(event)
}

type HumanEmitter struct {
	stdout  io.Writer
	stderr  io.Writer
	quiet   bool
	verbose bool
}

func NewHumanEmitter(stdout, stderr io.Writer, quiet, verbose bool) *HumanEmitter {
	return &HumanEmitter{stdout: stdout, stderr: stderr, quiet: quiet, verbose: verbose}
}

func (e *HumanEmitter) Emit(event Event) error {
	line := event.Message
	if line == "" && event.Event != EventOutput {
		line = string(event.Event)
	}

	switch event.Level {
	case LevelError:
		if _, err := fmt.Fprintln(e.stderr, "ERROR:", line); err != nil {
			return err
		}
		if detail, ok := event.Details["detail"].(string); ok {
			if _, err := fmt.Fprintln(e.stderr, detail); err != nil {
				return err
			}
		}
		if suggestion, ok := event.Details["suggestion"].(string); ok {
			_, err := fmt.Fprintln(e.stderr, "Suggestion:", suggestion)
			return err
		}
		return nil
	case LevelWarn:
		if e.quiet {
			return nil
		}
		_, err := fmt.Fprintln(e.stderr, "WARN:", line)
		return err
	default:
		if e.quiet && event.Event != EventDone {
			return nil
		}
		switch event.Event {
		case EventStepComplete, EventStepSkipped:
			if !e.verbose {
				return nil
			}
		}
		_, err := fmt.Fprintln(e.stdout, line)
		return err
	}
}

type MultiEmitter struct {
	emitters []EventEmitter
}

func NewMultiEmitter(emitters ...EventEmitter) *MultiEmitter {
	return &MultiEmitter{emitters: emitters}
}

func (e *MultiEmitter) Emit(event Event) error {
	for _, emitter := range e.emitters {
		if err := emitter.Emit(event); err != nil {
			return err
		}
	}
	return nil
}

// LogEmitter mirrors events into the structured log. Subprocess output is
// only kept at debug level.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	return &LogEmitter{logger: logger}
}

func (e *LogEmitter) Emit(event Event) error {
	attrs := []any{"event", string(event.Event)}
	if event.Step != "" {
		attrs = append(attrs, "step", event.Step)
	}
	switch {
	case event.Level == LevelError:
		e.logger.Error(event.Message, attrs...)
	case event.Level == LevelWarn:
		e.logger.Warn(event.Message, attrs...)
	case event.Event == EventOutput:
		e.logger.Debug(event.Message, attrs...)
	default:
		e.logger.Info(event.Message, attrs...)
	}
	return nil
}

// Outcome is how a drained workflow ended.
type Outcome struct {
	Success   bool
	Cancelled bool
	Reboot    []string
}

// Drain renders messages from ch until a terminal message arrives or the
// channel closes. It is the non-interactive consumer of a workflow.
func Drain(ch <-chan status.Message, emitter EventEmitter, now func() time.Time) (Outcome, error) {
	if now == nil {
		now = time.Now
	}
	outcome := Outcome{}
	for msg := range ch {
		if reboot, ok := msg.(status.RebootRecommended); ok {
			outcome.Reboot = append([]string(nil), reboot.Reasons...)
		}
		if event, ok := EventFromMessage(msg, now()); ok {
			if err := emitter.Emit(event); err != nil {
				return outcome, err
			}
		}
		switch m := msg.(type) {
		case status.Done:
			outcome.Success = m.Success
			return outcome, nil
		case status.CloneComplete:
			outcome.Success = m.Success
			return outcome, nil
		case status.Cancelled:
			outcome.Cancelled = true
			return outcome, nil
		}
	}
	return outcome, nil
}
