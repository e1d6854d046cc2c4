// Package board renders a live status table over a set of case directories.
// It is read-only: the scheduler and the external run scripts own the status
// files, the board just watches them change.
package board

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/papapumpkin/sirocco/internal/teststatus"
	"github.com/papapumpkin/sirocco/internal/watcher"
)

// KeyMap defines the board keybindings. Table navigation uses the table
// component's own bindings.
type KeyMap struct {
	Quit key.Binding
}

// DefaultKeyMap returns the default keybinding configuration.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Quit: key.NewBinding(
			key.WithKeys("q", "ctrl+c", "esc"),
			key.WithHelp("q", "quit"),
		),
	}
}

// Row is one test's current durable state as read from its status file.
type Row struct {
	Test    string
	Status  teststatus.Status
	Phase   teststatus.Phase
	CaseDir string
}

// MsgRow delivers a freshly read status for one case directory.
type MsgRow struct {
	Row Row
}

// MsgChange arrives when the watcher reports a status file update.
type MsgChange struct {
	Change watcher.StatusChange
}

// MsgTick drives the elapsed-time display.
type MsgTick struct {
	Time time.Time
}

// Model is the board's bubbletea model.
type Model struct {
	Keys KeyMap

	table   table.Model
	spin    spinner.Model
	rows    map[string]Row
	order   []string
	changes <-chan watcher.StatusChange
	start   time.Time
	now     time.Time
}

// New creates a board over the given case directories. The changes channel
// may be nil for a static one-shot view.
func New(caseDirs []string, changes <-chan watcher.StatusChange) Model {
	columns := []table.Column{
		{Title: "TEST", Width: 48},
		{Title: "STATUS", Width: 8},
		{Title: "PHASE", Width: 14},
	}
	tbl := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(len(caseDirs)+1),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		Bold(true).
		Foreground(colorWhite).
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(colorMuted).
		BorderBottom(true)
	s.Selected = s.Selected.
		Foreground(colorWhite).
		Background(colorSurface)
	tbl.SetStyles(s)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorPrimary)

	order := make([]string, len(caseDirs))
	for i, dir := range caseDirs {
		order[i] = filepath.Clean(dir)
	}

	now := time.Now()
	m := Model{
		Keys:    DefaultKeyMap(),
		table:   tbl,
		spin:    sp,
		rows:    make(map[string]Row, len(order)),
		order:   order,
		changes: changes,
		start:   now,
		now:     now,
	}
	m.refreshRows()
	return m
}

// Init reads every case directory and starts the tickers.
func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{m.spin.Tick, tickCmd()}
	for _, dir := range m.order {
		cmds = append(cmds, readCmd(dir))
	}
	if m.changes != nil {
		cmds = append(cmds, waitChange(m.changes))
	}
	return tea.Batch(cmds...)
}

func tickCmd() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg {
		return MsgTick{Time: t}
	})
}

// readCmd re-reads one case directory's status file.
func readCmd(dir string) tea.Cmd {
	return func() tea.Msg {
		return MsgRow{Row: ReadRow(dir)}
	}
}

// waitChange blocks on the watcher channel and converts the next change to a
// message. Re-armed after every delivery; a closed channel ends the cycle.
func waitChange(ch <-chan watcher.StatusChange) tea.Cmd {
	return func() tea.Msg {
		change, ok := <-ch
		if !ok {
			return nil
		}
		return MsgChange{Change: change}
	}
}

// ReadRow derives a board row from a case directory's status file. A missing
// or empty file reads as a test that has not reported yet.
func ReadRow(dir string) Row {
	row := Row{
		Test:    filepath.Base(dir),
		Status:  teststatus.StatusPending,
		Phase:   teststatus.PhaseInit,
		CaseDir: dir,
	}
	entries, err := teststatus.ParseFile(filepath.Join(dir, teststatus.Filename))
	if err != nil || len(entries) == 0 {
		return row
	}
	if name := teststatus.TestName(entries); name != "" {
		row.Test = name
	}
	row.Status = teststatus.Overall(entries)
	row.Phase = entries[len(entries)-1].Phase
	return row
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.table.SetWidth(msg.Width)
		if h := msg.Height - 4; h > 0 {
			m.table.SetHeight(h)
		}
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.Keys.Quit) {
			return m, tea.Quit
		}

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case MsgTick:
		// The tick doubles as a poll: scratch filesystems are often written
		// from other nodes, where fsnotify sees nothing.
		m.now = msg.Time
		cmds := []tea.Cmd{tickCmd()}
		for _, dir := range m.order {
			cmds = append(cmds, readCmd(dir))
		}
		return m, tea.Batch(cmds...)

	case MsgRow:
		m.rows[msg.Row.CaseDir] = msg.Row
		m.refreshRows()
		return m, nil

	case MsgChange:
		return m, tea.Batch(readCmd(msg.Change.CaseDir), waitChange(m.changes))
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

// View renders the header, the table, and the help line.
func (m Model) View() string {
	var b strings.Builder
	b.WriteString(m.headerView())
	b.WriteString("\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")
	b.WriteString(styleHelp.Render("q quit"))
	b.WriteString("\n")
	return b.String()
}

func (m Model) headerView() string {
	done := 0
	for _, dir := range m.order {
		if row, ok := m.rows[dir]; ok && row.Status != teststatus.StatusPending {
			done++
		}
	}

	state := styleStatusPass.Render("done")
	if done < len(m.order) {
		state = m.spin.View() + styleHeaderNote.Render("running")
	}
	elapsed := m.now.Sub(m.start).Round(time.Second)
	progress := styleHeaderNote.Render(fmt.Sprintf("%d/%d  %s", done, len(m.order), elapsed))
	return styleTitle.Render("SIROCCO") + "  " + state + "  " + progress
}

// refreshRows rebuilds the table rows in the original input order.
func (m *Model) refreshRows() {
	tableRows := make([]table.Row, 0, len(m.order))
	for _, dir := range m.order {
		row, ok := m.rows[dir]
		if !ok {
			row = Row{
				Test:   filepath.Base(dir),
				Status: teststatus.StatusPending,
				Phase:  teststatus.PhaseInit,
			}
		}
		tableRows = append(tableRows, table.Row{
			row.Test,
			renderStatus(row.Status),
			string(row.Phase),
		})
	}
	m.table.SetRows(tableRows)
}

func renderStatus(st teststatus.Status) string {
	switch st {
	case teststatus.StatusPass:
		return styleStatusPass.Render(string(st))
	case teststatus.StatusFail:
		return styleStatusFail.Render(string(st))
	default:
		return styleStatusWarn.Render(string(st))
	}
}

// Run starts the board in the alternate screen buffer and blocks until the
// user quits.
func Run(caseDirs []string, changes <-chan watcher.StatusChange, opts ...tea.ProgramOption) error {
	allOpts := []tea.ProgramOption{tea.WithAltScreen()}
	allOpts = append(allOpts, opts...)

	p := tea.NewProgram(New(caseDirs, changes), allOpts...)
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("status board: %w", err)
	}
	return nil
}
