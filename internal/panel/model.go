package panel

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"botlink/internal/buttons"
	"botlink/internal/command"
)

const (
	maxLogs       = 6
	refreshPeriod = 50 * time.Millisecond
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	keyStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")).Padding(0, 1)
	heldStyle   = keyStyle.BorderForeground(lipgloss.Color("46")).Foreground(lipgloss.Color("46")).Bold(true)
	sentStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("226")).Bold(true)
	logStyle    = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240"))
)

type sentMsg struct {
	cmd command.Command
	at  time.Time
}

type logMsg string

type refreshMsg time.Time

// Model is the bubbletea model of the panel.
type Model struct {
	panel    *Panel
	width    int
	held     buttons.Set
	last     command.Command
	lastAt   time.Time
	sends    int
	logs     []string
	quitting bool
}

func refresh() tea.Cmd {
	return tea.Tick(refreshPeriod, func(t time.Time) tea.Msg { return refreshMsg(t) })
}

func (m Model) Init() tea.Cmd {
	m.panel.setRunning(true)
	return refresh()
}

// keyButton maps a key to a panel button.
func keyButton(k tea.KeyMsg) (buttons.Button, bool) {
	switch k.Type {
	case tea.KeyUp:
		return buttons.Up, true
	case tea.KeyDown:
		return buttons.Down, true
	case tea.KeyLeft:
		return buttons.Left, true
	case tea.KeyRight:
		return buttons.Right, true
	case tea.KeyEnter, tea.KeySpace:
		return buttons.Center, true
	}
	return 0, false
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			m.panel.setRunning(false)
			return m, tea.Quit
		}
		if b, ok := keyButton(msg); ok {
			m.panel.press(b)
			m.held, _ = m.panel.Sample()
		}
		return m, nil

	case refreshMsg:
		m.held, _ = m.panel.Sample()
		return m, refresh()

	case sentMsg:
		m.last = msg.cmd
		m.lastAt = msg.at
		m.sends++
		return m, nil

	case logMsg:
		m.logs = append(m.logs, string(msg))
		if len(m.logs) > maxLogs {
			m.logs = m.logs[len(m.logs)-maxLogs:]
		}
		return m, nil
	}
	return m, nil
}

func (m Model) key(b buttons.Button, label string) string {
	if m.held.Has(b) {
		return heldStyle.Render(label)
	}
	return keyStyle.Render(label)
}

func (m Model) View() string {
	if m.quitting {
		return "Panel closed.\n"
	}

	var sb strings.Builder
	sb.WriteString(titleStyle.Render("botlink"))
	sb.WriteString(statusStyle.Render(fmt.Sprintf(" -> %s", m.panel.robot)))
	sb.WriteString("\n\n")

	pad := lipgloss.NewStyle().Width(lipgloss.Width(keyStyle.Render("  ↑  "))).Render("")
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, pad, m.key(buttons.Up, "  ↑  ")))
	sb.WriteString("\n")
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
		m.key(buttons.Left, "  ←  "),
		m.key(buttons.Center, " ARM "),
		m.key(buttons.Right, "  →  "),
	))
	sb.WriteString("\n")
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top, pad, m.key(buttons.Down, "  ↓  ")))
	sb.WriteString("\n\n")

	sb.WriteString("held: " + m.held.String() + "   sent: ")
	if m.sends == 0 {
		sb.WriteString(statusStyle.Render("nothing yet"))
	} else {
		sb.WriteString(sentStyle.Render(m.last.String()))
		sb.WriteString(statusStyle.Render(fmt.Sprintf(" (%d sends, last %s)", m.sends, m.lastAt.Format("15:04:05.000"))))
	}
	sb.WriteString("\n")

	var lines string
	if len(m.logs) == 0 {
		lines = statusStyle.Render("arrows drive, hold space + up/down moves the arm, q quits")
	} else {
		lines = strings.Join(m.logs, "\n")
	}
	box := logStyle
	if m.width > 4 {
		box = box.Width(m.width - 4)
	}
	sb.WriteString(box.Render(lines))
	sb.WriteString("\n")
	return sb.String()
}
