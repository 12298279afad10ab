// Package frontend implements the synchronous front-end loop: a
// single-threaded loop that owns the controlling terminal, copies operator
// keystrokes byte-for-byte to the guest PTY, and reacts to one hotkey by
// surfacing a small bubbletea popup that lists configured backends and lets
// the operator hot-switch the active one. It never performs blocking
// network I/O itself — all runtime interaction goes through the Command
// Bus, bounded by that bus's own deadline.
package frontend

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/anyclaude/anyclaude/internal/commandbus"
)

var (
	popupBorderStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#7eb8da")).
				Padding(0, 1)

	popupTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7eb8da"))

	activeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#7ec699")).
			Bold(true)

	selectedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#c9d1d9")).
			Background(lipgloss.Color("#3d4450"))

	plainStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#8b949e"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6e7681"))
)

// switchResultMsg carries the outcome of a SwitchBackend call back into the
// popup model so it can show an error without blocking the Update loop.
type switchResultMsg struct {
	backendID string
	err       error
}

// popupModel is the minimal bubbletea model for the backend switcher
// popup: list configured backends, highlight the active one, enter sends
// SwitchBackend over the Command Bus.
type popupModel struct {
	bus      *commandbus.Bus
	backends []commandbus.BackendInfo
	cursor   int
	err      error
	done     bool
	switched string
}

func newPopupModel(bus *commandbus.Bus, backends []commandbus.BackendInfo) popupModel {
	cursor := 0
	for i, b := range backends {
		if b.Active {
			cursor = i
		}
	}
	return popupModel{bus: bus, backends: backends, cursor: cursor}
}

func (m popupModel) Init() tea.Cmd { return nil }

func (m popupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "q", "ctrl+c":
			m.done = true
			return m, tea.Quit
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
			}
		case "down", "j":
			if m.cursor < len(m.backends)-1 {
				m.cursor++
			}
		case "enter":
			if len(m.backends) == 0 {
				return m, nil
			}
			target := m.backends[m.cursor].ID
			return m, func() tea.Msg {
				newID, err := m.bus.SwitchBackend(target)
				return switchResultMsg{backendID: newID, err: err}
			}
		}
	case switchResultMsg:
		m.done = true
		m.err = msg.err
		m.switched = msg.backendID
		return m, tea.Quit
	}
	return m, nil
}

func (m popupModel) View() string {
	var b strings.Builder
	b.WriteString(popupTitleStyle.Render("Switch backend") + "\n\n")

	if len(m.backends) == 0 {
		b.WriteString(plainStyle.Render("no backends configured") + "\n")
	}
	for i, be := range m.backends {
		line := be.Label
		if line == "" {
			line = be.ID
		}
		if be.Active {
			line += "  (active)"
		}
		switch {
		case i == m.cursor:
			b.WriteString(selectedStyle.Render("> "+line) + "\n")
		case be.Active:
			b.WriteString(activeStyle.Render("  "+line) + "\n")
		default:
			b.WriteString(plainStyle.Render("  "+line) + "\n")
		}
	}

	if m.err != nil {
		b.WriteString("\n" + plainStyle.Render(fmt.Sprintf("switch failed: %v", m.err)))
	}

	b.WriteString("\n" + helpStyle.Render("up/down move, enter switch, esc cancel"))
	return popupBorderStyle.Render(b.String())
}
