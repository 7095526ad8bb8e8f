// Package tui implements the live status view. It follows The Elm
// Architecture via bubbletea: the model holds the last snapshot of state
// records, a tick message triggers a re-poll, and View renders the table.
package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"taskmill/internal/state"
)

const refreshInterval = time.Second

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	phaseStyles = map[state.Phase]lipgloss.Style{
		state.PhaseIdle:      lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		state.PhaseProducing: lipgloss.NewStyle().Foreground(lipgloss.Color("39")),
		state.PhaseVerifying: lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		state.PhaseCompleted: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		state.PhaseFailed:    lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		state.PhaseStopped:   lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
	}
)

type snapshotMsg struct {
	records []*state.StateRecord
	err     error
}

type tickMsg time.Time

// Model is the watch view's bubbletea model.
type Model struct {
	store   state.Store
	spinner spinner.Model
	records []*state.StateRecord
	err     error
	loaded  bool
}

// NewModel creates a watch model polling the given store.
func NewModel(store state.Store) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return Model{store: store, spinner: sp}
}

// Run starts the watch view and blocks until the user quits.
func Run(store state.Store) error {
	_, err := tea.NewProgram(NewModel(store), tea.WithAltScreen()).Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll, tick())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll
		}

	case tickMsg:
		return m, tea.Batch(m.poll, tick())

	case snapshotMsg:
		m.loaded = true
		m.err = msg.err
		if msg.err == nil {
			m.records = msg.records
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("taskmill watch"))
	b.WriteString("  ")
	b.WriteString(m.spinner.View())
	b.WriteString("\n\n")

	switch {
	case m.err != nil:
		b.WriteString(errStyle.Render("error: " + m.err.Error()))
	case !m.loaded:
		b.WriteString(dimStyle.Render("loading..."))
	case len(m.records) == 0:
		b.WriteString(dimStyle.Render("no task records"))
	default:
		b.WriteString(renderTable(m.records))
	}

	b.WriteString("\n\n")
	b.WriteString(dimStyle.Render("r refresh · q quit"))
	return b.String()
}

// poll reads the current records off the store.
func (m Model) poll() tea.Msg {
	ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
	defer cancel()

	records, err := m.store.List(ctx)
	if err != nil {
		return snapshotMsg{err: err}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].TaskID < records[j].TaskID })
	return snapshotMsg{records: records}
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func renderTable(records []*state.StateRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", headerStyle.Render(fmt.Sprintf("%-24s %-12s %5s %7s %-19s %s", "TASK", "PHASE", "ROUND", "ATTEMPT", "UPDATED", "CAUSE")))

	for _, rec := range records {
		phase := string(rec.Phase)
		if st, ok := phaseStyles[rec.Phase]; ok {
			phase = st.Render(fmt.Sprintf("%-12s", phase))
		} else {
			phase = fmt.Sprintf("%-12s", phase)
		}
		stop := ""
		if rec.StopRequested {
			stop = " (stop pending)"
		}
		fmt.Fprintf(&b, "%-24s %s %5d %7d %-19s %s%s\n",
			truncate(rec.TaskID, 24),
			phase,
			rec.Round,
			rec.Attempt,
			rec.UpdatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(rec.LastCause, 60),
			stop,
		)
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
