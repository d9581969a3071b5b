package update

import (
	"context"
	"strings"
	"sync"

	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/status"
)

// fakeRunner answers commands from scripted handlers keyed by the command
// line prefix and records every invocation.
type fakeRunner struct {
	mu       sync.Mutex
	captures map[string]func(engine.ExecSpec) engine.Capture
	streams  map[string]func(engine.ExecSpec, status.Sink) engine.CommandResult
	calls    []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		captures: map[string]func(engine.ExecSpec) engine.Capture{},
		streams:  map[string]func(engine.ExecSpec, status.Sink) engine.CommandResult{},
	}
}

func commandLine(spec engine.ExecSpec) string {
	return strings.TrimSpace(spec.Bin + " " + strings.Join(spec.Args, " "))
}

func (f *fakeRunner) onCapture(prefix string, fn func(engine.ExecSpec) engine.Capture) {
	f.captures[prefix] = fn
}

func (f *fakeRunner) onStream(prefix string, fn func(engine.ExecSpec, status.Sink) engine.CommandResult) {
	f.streams[prefix] = fn
}

func (f *fakeRunner) record(line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, line)
}

func (f *fakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRunner) called(prefix string) bool {
	for _, call := range f.Calls() {
		if strings.HasPrefix(call, prefix) {
			return true
		}
	}
	return false
}

func longestMatch[T any](handlers map[string]T, line string) (T, bool) {
	var best T
	bestLen := -1
	for prefix, handler := range handlers {
		if strings.HasPrefix(line, prefix) && len(prefix) > bestLen {
			best, bestLen = handler, len(prefix)
		}
	}
	return best, bestLen >= 0
}

func (f *fakeRunner) Capture(_ context.Context, spec engine.ExecSpec) engine.Capture {
	line := commandLine(spec)
	f.record(line)
	if handler, ok := longestMatch(f.captures, line); ok {
		return handler(spec)
	}
	return engine.Capture{ExitCode: 127, Stderr: "command not found"}
}

func (f *fakeRunner) Stream(_ context.Context, spec engine.ExecSpec, sink status.Sink, _ engine.LineTransform) engine.CommandResult {
	line := commandLine(spec)
	f.record(line)
	if handler, ok := longestMatch(f.streams, line); ok {
		return handler(spec, sink)
	}
	return engine.Completed(false)
}

func (f *fakeRunner) Detach(spec engine.ExecSpec) error {
	f.record("detach " + commandLine(spec))
	return nil
}

func succeed(stdout string) func(engine.ExecSpec) engine.Capture {
	return func(engine.ExecSpec) engine.Capture {
		return engine.Capture{Success: true, Stdout: stdout}
	}
}

func failed(stderr string) func(engine.ExecSpec) engine.Capture {
	return func(engine.ExecSpec) engine.Capture {
		return engine.Capture{ExitCode: 1, Stderr: stderr}
	}
}
