package shell

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jaa/forge/internal/engine"
	"github.com/jaa/forge/internal/logging"
	"github.com/jaa/forge/internal/status"
)

const (
	oldNoctalia = "/nix/store/aaa-noctalia-shell/share/noctalia-shell"
	newNoctalia = "/nix/store/bbb-noctalia-shell/share/noctalia-shell"
)

// processTable simulates pgrep, kill and launches against an in-memory
// process list.
type processTable struct {
	procs    map[int]string
	nextPID  int
	kills    []int
	launches []string
	onLaunch string
}

func newProcessTable() *processTable {
	return &processTable{procs: map[int]string{}, nextPID: 5000}
}

func (p *processTable) add(pid int, cmdline string) {
	p.procs[pid] = cmdline
}

func (p *processTable) Capture(_ context.Context, spec engine.ExecSpec) engine.Capture {
	switch spec.Bin {
	case "pgrep":
		if len(p.procs) == 0 {
			return engine.Capture{ExitCode: 1}
		}
		pids := make([]int, 0, len(p.procs))
		for pid := range p.procs {
			pids = append(pids, pid)
		}
		sort.Ints(pids)
		var b strings.Builder
		for _, pid := range pids {
			fmt.Fprintf(&b, "%d %s\n", pid, p.procs[pid])
		}
		return engine.Capture{Success: true, Stdout: b.String()}
	case "kill":
		pid, _ := strconv.Atoi(spec.Args[0])
		p.kills = append(p.kills, pid)
		delete(p.procs, pid)
		return engine.Capture{Success: true}
	case "hyprctl":
		p.launch("hyprctl " + strings.Join(spec.Args, " "))
		return engine.Capture{Success: true}
	}
	return engine.Capture{ExitCode: 127}
}

func (p *processTable) launch(desc string) {
	p.launches = append(p.launches, desc)
	if p.onLaunch != "" {
		p.nextPID++
		p.procs[p.nextPID] = p.onLaunch
	}
}

func (p *processTable) Stream(context.Context, engine.ExecSpec, status.Sink, engine.LineTransform) engine.CommandResult {
	return engine.Completed(false)
}

func (p *processTable) Detach(spec engine.ExecSpec) error {
	p.launch("detach " + spec.Bin + " " + strings.Join(spec.Args, " "))
	return nil
}

func noctaliaCmd(path string) string {
	return "/nix/store/qs-quickshell/bin/quickshell -p " + path
}

func newTestReconciler(table *processTable, expected string, hyprctl bool) *Reconciler {
	return &Reconciler{
		Runner: table,
		Logger: logging.Discard(),
		ReadLink: func(string) (string, error) {
			if expected == "" {
				return "", errors.New("not a symlink")
			}
			return expected, nil
		},
		HomeDir:     func() (string, error) { return "/home/op", nil },
		LookPath:    func(name string) bool { return hyprctl && name == "hyprctl" },
		Sleep:       func(context.Context, time.Duration) {},
		Dispatcher:  "hyprctl",
		Settle:      DefaultSettle,
		StartupWait: DefaultStartupWait,
	}
}

func TestParseProcessList(t *testing.T) {
	text := strings.Join([]string{
		"101 " + noctaliaCmd(newNoctalia),
		"102 /nix/store/qs-quickshell/bin/quickshell -c /home/op/.config/quickshell/ii",
		"103 quickshell -c /home/op/.config/quickshell/ii",
		"104 /usr/bin/quickshell --daemon",
		"garbage",
		"",
	}, "\n")

	infos := ParseProcessList(text)
	assert.Equal(t, []RunningProcessInfo{
		{Kind: Noctalia, RunningPath: newNoctalia, PID: 101},
		{Kind: Illogical, RunningPath: "/nix/store/qs-quickshell/bin/quickshell", PID: 102},
	}, infos)
}

func TestKindMatching(t *testing.T) {
	assert.True(t, Noctalia.matches(newNoctalia, newNoctalia))
	assert.False(t, Noctalia.matches(newNoctalia, newNoctalia+"/"))
	assert.True(t, Illogical.matches("/nix/store/x-quickshell/bin/quickshell", "/nix/store/x-quickshell"))
	assert.True(t, Illogical.matches("/nix/store/x-quickshell", "/nix/store/x-quickshell/bin/quickshell"))
	assert.False(t, Illogical.matches("/nix/store/x-quickshell", "/nix/store/y-quickshell"))
}

func TestReconcileIsIdempotentWhenCurrent(t *testing.T) {
	table := newProcessTable()
	table.add(200, noctaliaCmd(newNoctalia))
	r := newTestReconciler(table, newNoctalia, true)

	for i := 0; i < 2; i++ {
		outcome, err := r.Reconcile(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, ActionNone, outcome.Action)
		assert.Equal(t, "", outcome.Display())
	}
	assert.Empty(t, table.kills)
	assert.Empty(t, table.launches)
}

func TestReconcileKillsOnlyStaleWhenCurrentSurvives(t *testing.T) {
	table := newProcessTable()
	table.add(300, noctaliaCmd(oldNoctalia))
	table.add(301, noctaliaCmd(newNoctalia))
	r := newTestReconciler(table, newNoctalia, true)
	rec := &status.Recorder{}

	outcome, err := r.Reconcile(context.Background(), rec)
	require.NoError(t, err)

	assert.Equal(t, []int{300}, table.kills)
	assert.Empty(t, table.launches)
	assert.Equal(t, ActionCleanup, outcome.Action)
	assert.Equal(t, "Noctalia (cleanup)", outcome.Display())
	assert.Contains(t, rec.Lines(), "  Cleaning up 1 stale Noctalia shell process(es)...")

	outcome, err = r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, outcome.Action)
	assert.Equal(t, []int{300}, table.kills)
}

func TestReconcileCancelledLeavesProcessesAlone(t *testing.T) {
	table := newProcessTable()
	table.add(450, noctaliaCmd(oldNoctalia))
	table.onLaunch = noctaliaCmd(newNoctalia)
	r := newTestReconciler(table, newNoctalia, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := r.Reconcile(ctx, &status.Recorder{})
	require.NoError(t, err)

	assert.Empty(t, table.kills)
	assert.Empty(t, table.launches)
	assert.Equal(t, ActionNone, outcome.Action)
	assert.False(t, outcome.Launched)
}

func TestReconcileRestartsThroughDispatcher(t *testing.T) {
	table := newProcessTable()
	table.add(400, noctaliaCmd(oldNoctalia))
	table.onLaunch = noctaliaCmd(newNoctalia)
	r := newTestReconciler(table, newNoctalia, true)

	var slept []time.Duration
	r.Sleep = func(_ context.Context, d time.Duration) { slept = append(slept, d) }

	display, err := r.RestartIfNeeded(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Noctalia", display)
	assert.Equal(t, []int{400}, table.kills)
	assert.Equal(t, []string{"hyprctl dispatch exec noctalia-shell"}, table.launches)
	assert.Equal(t, []time.Duration{DefaultSettle, DefaultStartupWait}, slept)

	outcome, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, outcome.Action)
	assert.Len(t, table.launches, 1)
}

func TestReconcileDetachesWithoutDispatcher(t *testing.T) {
	t.Setenv("HOME", "/home/op")
	table := newProcessTable()
	table.add(500, "/nix/store/old-quickshell/bin/quickshell -c /home/op/.config/quickshell/ii")
	r := newTestReconciler(table, "/nix/store/new-quickshell/bin/quickshell", false)

	outcome, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)

	assert.Equal(t, Illogical, outcome.Kind)
	assert.True(t, outcome.Launched)
	assert.False(t, outcome.Verified)
	assert.Equal(t, []string{"detach quickshell -c " + filepath.Join("/home/op", ".config/quickshell/ii")}, table.launches)
	assert.Equal(t, "Illogical Impulse", outcome.Display())
}

func TestReconcileNoExpectedPathDoesNothing(t *testing.T) {
	table := newProcessTable()
	table.add(600, noctaliaCmd(oldNoctalia))
	r := newTestReconciler(table, "", true)

	outcome, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, ActionNone, outcome.Action)
	assert.Empty(t, table.kills)
}

func TestReconcileNothingRunning(t *testing.T) {
	table := newProcessTable()
	r := newTestReconciler(table, newNoctalia, true)

	outcome, err := r.Reconcile(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Outcome{}, outcome)
}
