// Package monitor is a terminal dashboard over the live feed: connection
// state, message rate, and the current cell values, refreshed in place.
// It is an alternative to the web UI for headless boxes and SSH sessions.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/vuckos/T-display-web-editor/internal/layout"
	"github.com/vuckos/T-display-web-editor/internal/live"
)

// --- STYLES ---
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#575B7E")).
			Padding(0, 1)

	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))

	statusKeyStyle = lipgloss.NewStyle().Bold(true)

	stateUpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	stateDownStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	stateWaitStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))

	changedStyle = lipgloss.NewStyle().Background(lipgloss.Color("202")).Foreground(lipgloss.Color("0"))

	cellNameStyle  = lipgloss.NewStyle().Width(20).Padding(0, 1)
	cellPosStyle   = lipgloss.NewStyle().Width(12).Align(lipgloss.Right).Padding(0, 1)
	cellSizeStyle  = lipgloss.NewStyle().Width(12).Align(lipgloss.Right).Padding(0, 1)
	cellValueStyle = lipgloss.NewStyle().Width(18).Padding(0, 1)
	cellValidStyle = lipgloss.NewStyle().Width(8).Padding(0, 1)
)

// --- MODEL ---
type tickMsg time.Time

// Model drives the dashboard. Values that changed within the last few
// seconds render highlighted, the same way plant HMIs flag fresh data.
type Model struct {
	mgr      *live.Manager
	pipe     *live.Pipeline
	endpoint string

	viewport viewport.Model
	ready    bool

	prev       map[string]string
	changedAt  map[string]time.Time
	lastRender string
}

// NewModel builds the dashboard over an existing manager and pipeline.
func NewModel(mgr *live.Manager, pipe *live.Pipeline, endpoint string) Model {
	return Model{
		mgr:       mgr,
		pipe:      pipe,
		endpoint:  endpoint,
		prev:      map[string]string{},
		changedAt: map[string]time.Time{},
	}
}

// Run blocks until the user quits or ctx is canceled. Cancellation is a
// normal way to leave the dashboard, not an error.
func Run(ctx context.Context, m Model) error {
	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if err != nil && (errors.Is(err, tea.ErrProgramKilled) || errors.Is(err, context.Canceled)) {
		return nil
	}
	return err
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// --- UPDATE ---
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "c":
			m.mgr.Connect()
			return m, nil
		case "d":
			m.mgr.Disconnect()
			return m, nil
		}

	case tea.WindowSizeMsg:
		statusPaneHeight := 10
		footerHeight := 2
		verticalMargin := statusPaneHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMargin)
			m.viewport.Style = baseStyle
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMargin
		}
		m.lastRender = ""

	case tickMsg:
		newRender := m.renderCellsPane()
		if m.lastRender != newRender {
			m.viewport.SetContent(newRender)
			m.lastRender = newRender
		}
		return m, tick()
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// --- VIEW ---
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderStatusPane(),
		m.viewport.View(),
		m.renderFooter(),
	)
}

func (m Model) renderStatusPane() string {
	stats := m.mgr.Stats()

	stateStyle := stateDownStyle
	switch stats.State {
	case live.StateConnected:
		stateStyle = stateUpStyle
	case live.StateConnecting:
		stateStyle = stateWaitStyle
	}

	last := "never"
	if !stats.LastMessage.IsZero() {
		last = fmt.Sprintf("%.1fs ago", time.Since(stats.LastMessage).Seconds())
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Live Feed"),
		statusKeyStyle.Render("Endpoint: ")+m.endpoint,
		statusKeyStyle.Render("State:    ")+stateStyle.Render(stats.State.String()),
		statusKeyStyle.Render("Messages: ")+fmt.Sprintf("%d", stats.Messages),
		statusKeyStyle.Render("Rate:     ")+fmt.Sprintf("%.1f msg/s", m.pipe.Rate()),
		statusKeyStyle.Render("Last:     ")+last,
		statusKeyStyle.Render("Attempts: ")+fmt.Sprintf("%d", stats.Attempts),
	)
	return baseStyle.Width(m.viewport.Width).Render(content)
}

func (m Model) renderCellsPane() string {
	cells := m.pipe.Cells()

	header := lipgloss.JoinHorizontal(lipgloss.Left,
		cellNameStyle.Render("Cell"),
		cellPosStyle.Render("Pos"),
		cellSizeStyle.Render("Size"),
		cellValueStyle.Render("Value"),
		cellValidStyle.Render("Data"),
	)
	out := titleStyle.Width(m.viewport.Width).Render(header) + "\n"

	if len(cells) == 0 {
		return out + "No live cells yet."
	}

	now := time.Now()
	for _, c := range cells {
		val := cellText(c)
		if m.prev[c.Name] != val {
			m.prev[c.Name] = val
			m.changedAt[c.Name] = now
		}

		valid := "ok"
		if !c.DataValid {
			valid = "stale"
		}

		line := lipgloss.JoinHorizontal(lipgloss.Left,
			cellNameStyle.Render(c.Name),
			cellPosStyle.Render(fmt.Sprintf("%d,%d", c.PosX, c.PosY)),
			cellSizeStyle.Render(fmt.Sprintf("%dx%d", c.SizeX, c.SizeY)),
			cellValueStyle.Render(val),
			cellValidStyle.Render(valid),
		)

		style := lipgloss.NewStyle()
		if now.Sub(m.changedAt[c.Name]) < 3*time.Second {
			style = changedStyle
		}
		out += style.Render(line) + "\n"
	}
	return out
}

func (m Model) renderFooter() string {
	return "(c) connect | (d) disconnect | arrows scroll | (q) quit"
}

// cellText picks the displayed value the same way the renderer does:
// str_value wins over the numeric value.
func cellText(c layout.Cell) string {
	if c.StrValue != "" {
		return c.StrValue
	}
	return strconv.FormatFloat(c.Value, 'f', c.DecimalPlaces, 64)
}
