package engine

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jaa/forge/internal/status"
)

const (
	stderrTailSize = 64 * 1024
	maxLineSize    = 1024 * 1024
	// captureWaitDelay bounds how long Capture waits on inherited pipes
	// after the process has been signalled.
	captureWaitDelay = 2 * time.Second
)

type SubprocessRunner struct {
	// LookPath resolves binaries for CommandExists; exec.LookPath when nil.
	LookPath func(string) (string, error)
}

type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func newTailBuffer(max int) *tailBuffer {
	if max <= 0 {
		max = 64 * 1024
	}
	return &tailBuffer{
		buf: make([]byte, 0, max),
		max: max,
	}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(p) >= t.max {
		t.buf = append(t.buf[:0], p[len(p)-t.max:]...)
		return len(p), nil
	}
	overflow := len(t.buf) + len(p) - t.max
	if overflow > 0 {
		t.buf = append(t.buf[:0], t.buf[overflow:]...)
	}
	t.buf = append(t.buf, p...)
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func NewSubprocessRunner() *SubprocessRunner {
	return &SubprocessRunner{LookPath: exec.LookPath}
}

// Capture runs spec to completion and returns its full output. A command
// that cannot be started is reported as unsuccessful, not as a Go error
// the caller must branch on.
func (r *SubprocessRunner) Capture(ctx context.Context, spec ExecSpec) Capture {
	start := time.Now()
	if spec.Bin == "" {
		return Capture{ExitCode: 1, Duration: time.Since(start), Err: errors.New("missing binary")}
	}

	runCtx := ctx
	cancel := func() {}
	if spec.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
	}
	defer cancel()

	cmd := exec.CommandContext(runCtx, spec.Bin, spec.Args...)
	prepareCommand(cmd, spec)
	configureCommandForTermination(cmd)
	cmd.Cancel = func() error {
		terminateCommand(cmd)
		return nil
	}
	cmd.WaitDelay = captureWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Capture{
		Duration: time.Since(start),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Err:      err,
	}
	if err == nil {
		result.Success = true
		return result
	}
	result.ExitCode = exitCodeFor(err)
	return result
}

// Output runs a command and returns its trimmed stdout, or an error when
// the command could not run or exited non-zero.
func Output(ctx context.Context, runner Runner, bin string, args ...string) (string, error) {
	res := runner.Capture(ctx, ExecSpec{Bin: bin, Args: args})
	if !res.Success {
		if res.Err != nil {
			return "", fmt.Errorf("%s: %w", bin, res.Err)
		}
		return "", fmt.Errorf("%s exited with code %d", bin, res.ExitCode)
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Stream runs spec and forwards each stdout/stderr line through transform
// to sink as it is read. Cancelling ctx terminates the process group and
// yields a cancelled result whatever the exit status turns out to be.
func (r *SubprocessRunner) Stream(ctx context.Context, spec ExecSpec, sink status.Sink, transform LineTransform) CommandResult {
	start := time.Now()
	if spec.Bin == "" {
		return CommandResult{Outcome: OutcomeFailed, ExitCode: 1, Err: errors.New("missing binary")}
	}
	if ctx.Err() != nil {
		return CancelledResult()
	}

	cmd := exec.Command(spec.Bin, spec.Args...)
	prepareCommand(cmd, spec)
	configureCommandForTermination(cmd)

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return CommandResult{Outcome: OutcomeFailed, ExitCode: 1, Err: err}
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return CommandResult{Outcome: OutcomeFailed, ExitCode: 1, Err: err}
	}
	if err := cmd.Start(); err != nil {
		return CommandResult{Outcome: OutcomeFailed, ExitCode: exitCodeFor(err), Duration: time.Since(start), Err: err}
	}

	var timedOut atomic.Bool
	if spec.Timeout > 0 {
		timer := time.AfterFunc(spec.Timeout, func() {
			timedOut.Store(true)
			terminateCommand(cmd)
		})
		defer timer.Stop()
	}
	stopWatch := context.AfterFunc(ctx, func() {
		terminateCommand(cmd)
	})
	defer stopWatch()

	lines := make(chan status.Message, 64)
	waited := make(chan error, 1)
	stderrTail := newTailBuffer(stderrTailSize)

	var g errgroup.Group
	g.Go(func() error {
		return scanLines(stdoutPipe, nil, func(line string) status.Message { return status.Stdout{Line: line} }, lines)
	})
	g.Go(func() error {
		return scanLines(stderrPipe, stderrTail, func(line string) status.Message { return status.Stderr{Line: line} }, lines)
	})
	go func() {
		_ = g.Wait()
		close(lines)
		waited <- cmd.Wait()
	}()

	// A cancelled run returns at once. Whatever still holds the pipes is
	// drained and reaped in the background.
	cancelled := func() CommandResult {
		go discardMessages(lines)
		return CommandResult{
			Outcome:    OutcomeCancelled,
			ExitCode:   130,
			Duration:   time.Since(start),
			StderrTail: stderrTail.String(),
			Err:        ctx.Err(),
		}
	}

	for open := true; open; {
		select {
		case <-ctx.Done():
			return cancelled()
		case msg, ok := <-lines:
			if !ok {
				open = false
				continue
			}
			if ctx.Err() != nil {
				return cancelled()
			}
			forward(msg, sink, transform)
		}
	}

	var waitErr error
	select {
	case <-ctx.Done():
		return cancelled()
	case waitErr = <-waited:
	}
	if ctx.Err() != nil {
		return cancelled()
	}

	result := CommandResult{
		Duration:   time.Since(start),
		StderrTail: stderrTail.String(),
		Err:        waitErr,
	}
	if waitErr == nil {
		result.Outcome = OutcomeSucceeded
		return result
	}
	result.Outcome = OutcomeFailed
	result.ExitCode = exitCodeFor(waitErr)
	result.TimedOut = timedOut.Load()
	return result
}

func discardMessages(lines <-chan status.Message) {
	for range lines {
	}
}

// Detach starts spec in its own session and does not wait for it.
func (r *SubprocessRunner) Detach(spec ExecSpec) error {
	if spec.Bin == "" {
		return errors.New("missing binary")
	}
	cmd := exec.Command(spec.Bin, spec.Args...)
	prepareCommand(cmd, spec)
	configureCommandForDetach(cmd)
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("open %s: %w", os.DevNull, err)
	}
	defer devNull.Close()
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", spec.Bin, err)
	}
	return cmd.Process.Release()
}

// CommandExists reports whether name resolves on PATH.
func (r *SubprocessRunner) CommandExists(name string) bool {
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	_, err := lookPath(name)
	return err == nil
}

func prepareCommand(cmd *exec.Cmd, spec ExecSpec) {
	cmd.Dir = spec.Dir
	if len(spec.Env) > 0 {
		cmd.Env = append(os.Environ(), spec.Env...)
	}
}

func scanLines(r io.Reader, tail io.Writer, wrap func(string) status.Message, out chan<- status.Message) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Text()
		if tail != nil {
			_, _ = tail.Write([]byte(line + "\n"))
		}
		out <- wrap(line)
	}
	if err := scanner.Err(); err != nil {
		// Keep draining so the child never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, r)
		return err
	}
	return nil
}

func forward(msg status.Message, sink status.Sink, transform LineTransform) {
	if sink == nil {
		return
	}
	switch m := msg.(type) {
	case status.Stdout:
		if line, ok := applyTransform(m.Line, transform); ok {
			sink.Send(status.Stdout{Line: line})
		}
	case status.Stderr:
		if line, ok := applyTransform(m.Line, transform); ok {
			sink.Send(status.Stderr{Line: line})
		}
	}
}

func applyTransform(line string, transform LineTransform) (string, bool) {
	if transform == nil {
		return line, true
	}
	return transform(line)
}

func exitCodeFor(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if code := exitErr.ExitCode(); code >= 0 {
			return code
		}
		return 1
	}
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, os.ErrNotExist) {
		return 127
	}
	if errors.Is(err, os.ErrPermission) {
		return 126
	}
	return 1
}
