package console

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jaa/forge/internal/config"
	"github.com/jaa/forge/internal/status"
)

// Backend is everything the console needs from the rest of forge. The CLI
// wires the real implementations; tests substitute fakes.
type Backend struct {
	// Steps are the display labels of the update workflow.
	Steps []string
	// BufferLines bounds the output kept per run.
	BufferLines int
	// Policy is applied to local changes unless the operator picks one.
	Policy config.LocalChangesPolicy

	Check        func(ctx context.Context) status.UpdatesAvailable
	LocalChanges func(ctx context.Context) []string
	Prepare      func(ctx context.Context, policy config.LocalChangesPolicy) (bool, error)
	Launch       func(ctx context.Context, sink status.Sink)
	StashPop     func(ctx context.Context) ([]string, error)
	Reboot       func() error
}

type mode int

const (
	modeMenu mode = iota
	modeLocalChanges
	modeUpdate
)

var (
	menuItems         = []string{"Update system", "Quit"}
	localChangeChoice = []string{"Stash", "Overwrite", "Cancel"}
)

type updatesMsg status.UpdatesAvailable

type localChangesMsg struct{ files []string }

type preparedMsg struct {
	stashed bool
	err     error
}

type statusMsg struct{ msg status.Message }

type streamClosedMsg struct{}

type stashPopMsg struct {
	lines []string
	err   error
}

type rebootMsg struct{ err error }

type Model struct {
	ctx     context.Context
	backend Backend

	mode    mode
	cursor  int
	updates *status.UpdatesAvailable
	pending []string
	flash   string

	workflow *Workflow
	stream   <-chan status.Message
	sender   *status.Sender
	stop     context.CancelFunc

	spinner       spinner.Model
	viewport      viewport.Model
	width, height int
	autoUpdate    bool
}

// New builds the console model. When autoUpdate is set the update starts
// immediately instead of waiting on the menu.
func New(ctx context.Context, backend Backend, autoUpdate bool) *Model {
	return &Model{
		ctx:        ctx,
		backend:    backend,
		spinner:    spinner.New(spinner.WithSpinner(spinner.MiniDot), spinner.WithStyle(titleStyle)),
		viewport:   viewport.New(80, 20),
		autoUpdate: autoUpdate,
	}
}

// Run starts the program on the terminal and blocks until it exits.
func Run(ctx context.Context, backend Backend, autoUpdate bool) (*Workflow, error) {
	m := New(ctx, backend, autoUpdate)
	prog := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := prog.Run(); err != nil {
		return nil, fmt.Errorf("console: %w", err)
	}
	m.detach()
	return m.workflow, nil
}

func (m *Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spinner.Tick}
	if m.backend.Check != nil {
		cmds = append(cmds, m.checkCmd())
	}
	if m.autoUpdate {
		cmds = append(cmds, m.localChangesCmd())
	}
	return tea.Batch(cmds...)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	case updatesMsg:
		updates := status.UpdatesAvailable(msg)
		m.updates = &updates
		return m, nil
	case localChangesMsg:
		if len(msg.files) > 0 && m.backend.Policy == config.LocalChangesAbort {
			m.mode = modeLocalChanges
			m.pending = msg.files
			m.cursor = 0
			return m, nil
		}
		return m, m.prepareCmd(m.backend.Policy)
	case preparedMsg:
		if msg.err != nil {
			m.mode = modeMenu
			m.flash = msg.err.Error()
			return m, nil
		}
		return m, m.start(msg.stashed)
	case statusMsg:
		return m, m.applyStatus(msg.msg)
	case streamClosedMsg:
		m.stream = nil
		return m, nil
	case stashPopMsg:
		if m.workflow != nil {
			m.workflow.AppendResult(msg.lines...)
			if msg.err != nil {
				m.workflow.AppendResult("  ✗ Could not restore stashed changes: " + msg.err.Error())
			}
			m.refreshLog()
		}
		return m, nil
	case rebootMsg:
		if msg.err != nil {
			m.flash = "Reboot failed: " + msg.err.Error()
		}
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	switch m.mode {
	case modeMenu:
		switch key {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
		case "down", "j":
			m.cursor = min(m.cursor+1, len(menuItems)-1)
		case "enter":
			if m.cursor == 0 {
				m.flash = ""
				return m, m.localChangesCmd()
			}
			return m, tea.Quit
		}
		return m, nil

	case modeLocalChanges:
		switch key {
		case "ctrl+c", "esc":
			m.mode = modeMenu
			m.pending = nil
		case "up", "k":
			m.cursor = max(m.cursor-1, 0)
		case "down", "j":
			m.cursor = min(m.cursor+1, len(localChangeChoice)-1)
		case "enter":
			choice := localChangeChoice[m.cursor]
			m.pending = nil
			switch choice {
			case "Stash":
				return m, m.prepareCmd(config.LocalChangesStash)
			case "Overwrite":
				return m, m.prepareCmd(config.LocalChangesOverwrite)
			default:
				m.mode = modeMenu
				m.cursor = 0
			}
		}
		return m, nil

	case modeUpdate:
		w := m.workflow
		running := w != nil && w.Phase == PhaseRunning
		switch key {
		case "ctrl+c", "esc":
			if running {
				w.Cancel()
				return m, nil
			}
			m.leaveUpdate()
			return m, nil
		case "q":
			if !running {
				return m, tea.Quit
			}
		case "enter":
			if !running {
				m.leaveUpdate()
			}
			return m, nil
		case "r":
			if !running && w != nil && len(w.RebootReasons) > 0 && m.backend.Reboot != nil {
				return m, m.rebootCmd()
			}
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}
	return m, nil
}

// start launches the background workflow with a fresh cancellation scope.
func (m *Model) start(stashed bool) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	sender, ch := status.NewChannel(64)

	m.workflow = NewWorkflow(m.backend.Steps, m.backend.BufferLines, cancel)
	m.workflow.Stashed = stashed
	m.sender = sender
	m.stream = ch
	m.stop = cancel
	m.mode = modeUpdate
	m.refreshLog()

	if m.backend.Launch != nil {
		m.backend.Launch(ctx, sender)
	}
	return m.listen()
}

func (m *Model) applyStatus(msg status.Message) tea.Cmd {
	if m.workflow == nil {
		return nil
	}
	done := m.workflow.Apply(msg)
	m.refreshLog()
	if !done {
		return m.listen()
	}
	if m.workflow.NeedsStashPop() && m.backend.StashPop != nil {
		return m.stashPopCmd()
	}
	return nil
}

func (m *Model) listen() tea.Cmd {
	ch := m.stream
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		msg, ok := <-ch
		if !ok {
			return streamClosedMsg{}
		}
		return statusMsg{msg: msg}
	}
}

func (m *Model) leaveUpdate() {
	m.detach()
	m.workflow = nil
	m.mode = modeMenu
	m.cursor = 0
}

// detach stops delivery to a consumer that is going away so the background
// task never blocks on a send nobody will receive.
func (m *Model) detach() {
	if m.sender != nil {
		m.sender.Close()
		m.sender = nil
	}
	m.stream = nil
	if m.stop != nil {
		m.stop()
		m.stop = nil
	}
}

func (m *Model) checkCmd() tea.Cmd {
	check, ctx := m.backend.Check, m.ctx
	return func() tea.Msg {
		return updatesMsg(check(ctx))
	}
}

func (m *Model) localChangesCmd() tea.Cmd {
	lookup, ctx := m.backend.LocalChanges, m.ctx
	return func() tea.Msg {
		if lookup == nil {
			return localChangesMsg{}
		}
		return localChangesMsg{files: lookup(ctx)}
	}
}

func (m *Model) prepareCmd(policy config.LocalChangesPolicy) tea.Cmd {
	prepare, ctx := m.backend.Prepare, m.ctx
	return func() tea.Msg {
		if prepare == nil {
			return preparedMsg{}
		}
		stashed, err := prepare(ctx, policy)
		return preparedMsg{stashed: stashed, err: err}
	}
}

func (m *Model) stashPopCmd() tea.Cmd {
	pop, ctx := m.backend.StashPop, m.ctx
	return func() tea.Msg {
		lines, err := pop(ctx)
		return stashPopMsg{lines: lines, err: err}
	}
}

func (m *Model) rebootCmd() tea.Cmd {
	reboot := m.backend.Reboot
	return func() tea.Msg {
		return rebootMsg{err: reboot()}
	}
}

func (m *Model) resize() {
	w := m.width - 4
	if w < 20 {
		w = 20
	}
	h := m.height - len(m.backend.Steps) - 8
	if h < 5 {
		h = 5
	}
	m.viewport.Width = w
	m.viewport.Height = h
	m.refreshLog()
}

func (m *Model) refreshLog() {
	if m.workflow == nil {
		m.viewport.SetContent("")
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(strings.Join(m.workflow.Lines(), "\n"))
	if atBottom || m.workflow.Phase == PhaseRunning {
		m.viewport.GotoBottom()
	}
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("forge") + mutedStyle.Render("  NixOS maintenance") + "\n\n")

	switch m.mode {
	case modeMenu:
		m.viewMenu(&b)
	case modeLocalChanges:
		m.viewLocalChanges(&b)
	case modeUpdate:
		m.viewUpdate(&b)
	}

	if m.flash != "" {
		b.WriteString("\n" + warnStyle.Render(m.flash) + "\n")
	}
	return b.String()
}

func (m *Model) viewMenu(b *strings.Builder) {
	if u := m.updates; u != nil && (u.ConfigBehind || u.AppProfiles) {
		if u.ConfigBehind {
			b.WriteString(warnStyle.Render(fmt.Sprintf("● %d configuration update(s) available", len(u.Commits))) + "\n")
			for _, c := range u.Commits {
				b.WriteString(mutedStyle.Render("    "+c.Hash+" "+c.Message) + "\n")
			}
		}
		if u.AppProfiles {
			b.WriteString(warnStyle.Render("● App profile updates available") + "\n")
		}
		b.WriteString("\n")
	}
	for i, item := range menuItems {
		b.WriteString(menuLine(item, i == m.cursor) + "\n")
	}
	b.WriteString("\n" + mutedStyle.Render("↑/↓ select • enter confirm • q quit") + "\n")
}

func (m *Model) viewLocalChanges(b *strings.Builder) {
	b.WriteString(warnStyle.Render("The configuration has uncommitted changes:") + "\n")
	for _, file := range m.pending {
		b.WriteString("  " + file + "\n")
	}
	b.WriteString("\n")
	for i, choice := range localChangeChoice {
		b.WriteString(menuLine(choice, i == m.cursor) + "\n")
	}
}

func (m *Model) viewUpdate(b *strings.Builder) {
	w := m.workflow
	if w == nil {
		return
	}
	for _, step := range w.Tracker.Steps() {
		b.WriteString(fmt.Sprintf("  %s %s\n", stepGlyph(step.Status, m.spinner.View()), step.Name))
	}
	b.WriteString("\n" + logStyle.Render(m.viewport.View()) + "\n")

	if w.Phase == PhaseRunning {
		b.WriteString(mutedStyle.Render("esc cancel • ↑/↓ scroll") + "\n")
		return
	}

	switch {
	case w.Cancelled:
		b.WriteString(warnStyle.Render("Update cancelled") + "\n")
	case w.Success:
		b.WriteString(successStyle.Render("Update complete") + "\n")
	default:
		msg := "Update failed"
		if err := w.Err(); err != "" {
			msg += ": " + err
		}
		b.WriteString(errorStyle.Render(msg) + "\n")
	}
	if len(w.RebootReasons) > 0 {
		b.WriteString(warnStyle.Render("Reboot recommended: "+strings.Join(w.RebootReasons, ", ")) + "\n")
		b.WriteString(mutedStyle.Render("r reboot now • enter back • q quit") + "\n")
		return
	}
	b.WriteString(mutedStyle.Render("enter back • q quit") + "\n")
}

func menuLine(label string, selected bool) string {
	if selected {
		return selectStyle.Render("› " + label)
	}
	return "  " + label
}
