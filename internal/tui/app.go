// Package tui is a terminal viewer for the collector's live feed.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/agent-racer/chrome-logs/internal/ingest"
	"github.com/agent-racer/chrome-logs/internal/session"
	"github.com/agent-racer/chrome-logs/internal/tui/client"
	"github.com/agent-racer/chrome-logs/internal/tui/theme"
)

// MaxEntries bounds what the viewer keeps per pane.
const MaxEntries = 500

type Pane int

const (
	PaneLogs Pane = iota
	PaneErrors
)

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.WSClient
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	logs    []ingest.LogEntry   // oldest first
	errors  []ingest.ErrorEntry // oldest first
	session session.Snapshot

	pane   Pane
	offset int // lines scrolled up from the newest

	connected bool
	lastErr   error
	retryIn   time.Duration
}

func New(ws *client.WSClient) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:     ws,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
	}
}

// Init starts the WebSocket connection.
func (m Model) Init() tea.Cmd {
	return m.ws.Listen(m.ctx, 0)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.WSConnectedMsg:
		m.connected = true
		m.lastErr = nil
		m.retryIn = 0
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSRetryMsg:
		m.lastErr = msg.Err
		m.retryIn = msg.Delay
		return m, m.ws.Listen(m.ctx, msg.Delay)

	case client.WSDisconnectedMsg:
		m.connected = false
		m.lastErr = msg.Err
		m.retryIn = client.NextDelay(0)
		return m, m.ws.Listen(m.ctx, m.retryIn)

	case client.WSSnapshotMsg:
		m.session = msg.Payload.Session
		m.logs = keepLast(msg.Payload.Logs, MaxEntries)
		m.errors = keepLast(msg.Payload.Errors, MaxEntries)
		m.offset = 0
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSDeltaMsg:
		m.logs = keepLast(append(m.logs, msg.Payload.Logs...), MaxEntries)
		m.errors = keepLast(append(m.errors, msg.Payload.Errors...), MaxEntries)
		return m, m.ws.ReadLoop(m.ctx)

	case client.WSStatusMsg:
		m.session = msg.Payload.Session
		return m, m.ws.ReadLoop(m.ctx)
	}

	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		m.ws.Close()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Tab):
		m.pane = (m.pane + 1) % 2
		m.offset = 0

	case key.Matches(msg, m.keys.Up):
		if m.offset < m.maxOffset() {
			m.offset++
		}

	case key.Matches(msg, m.keys.Down):
		if m.offset > 0 {
			m.offset--
		}

	case key.Matches(msg, m.keys.Top):
		m.offset = m.maxOffset()

	case key.Matches(msg, m.keys.Bottom):
		m.offset = 0

	case key.Matches(msg, m.keys.Clear):
		if m.pane == PaneLogs {
			m.logs = nil
		} else {
			m.errors = nil
		}
		m.offset = 0
	}
	return m, nil
}

func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	status := m.renderStatus()
	tabs := m.renderTabs()
	help := theme.StyleDimmed.Render("  tab:logs/errors  j/k:scroll  g/G:oldest/follow  c:clear  q:quit")

	bodyHeight := m.height - lipgloss.Height(status) - lipgloss.Height(tabs) - lipgloss.Height(help)
	if bodyHeight < 1 {
		bodyHeight = 1
	}

	return lipgloss.JoinVertical(lipgloss.Left, status, tabs, m.renderBody(bodyHeight), help)
}

func (m Model) renderStatus() string {
	var conn string
	switch {
	case m.connected:
		conn = lipgloss.NewStyle().Foreground(theme.ColorConnected).Render("● feed")
	case m.retryIn > 0:
		conn = lipgloss.NewStyle().Foreground(theme.ColorReconnecting).Render(fmt.Sprintf("◌ feed (retry in %s)", m.retryIn))
	default:
		conn = lipgloss.NewStyle().Foreground(theme.ColorDisconnected).Render("○ feed")
	}

	state := m.session.State.String()
	stateStr := lipgloss.NewStyle().Foreground(theme.StateColor(state)).Render(state)
	if m.session.ReconnectAttempts > 0 {
		stateStr += theme.StyleDimmed.Render(fmt.Sprintf(" (attempt %d)", m.session.ReconnectAttempts))
	}

	tab := m.session.TabTitle
	if tab == "" {
		tab = "no tab"
	}

	line := fmt.Sprintf(" %s  chrome: %s  %s  %s",
		conn, stateStr, theme.StyleHeader.Render(truncate(tab, 48)),
		theme.StyleDimmed.Render(fmt.Sprintf("logs %d · errors %d", len(m.logs), len(m.errors))))
	if gaps := m.ws.Gaps(); gaps > 0 {
		line += "  " + theme.StyleWarn.Render(fmt.Sprintf("%d seq gaps", gaps))
	}
	if !m.connected && m.lastErr != nil {
		line += "  " + theme.StyleError.Render(truncate(m.lastErr.Error(), 60))
	}
	return theme.StyleStatusBar.Width(m.width).Render(line)
}

func (m Model) renderTabs() string {
	logs := fmt.Sprintf("Logs (%d)", len(m.logs))
	errs := fmt.Sprintf("Errors (%d)", len(m.errors))
	if m.pane == PaneLogs {
		return theme.StyleTabActive.Render(logs) + theme.StyleTabInactive.Render(errs)
	}
	return theme.StyleTabInactive.Render(logs) + theme.StyleTabActive.Render(errs)
}

func (m Model) renderBody(height int) string {
	lines := m.paneLines()
	if len(lines) == 0 {
		empty := "  No logs yet"
		if m.pane == PaneErrors {
			empty = "  No errors yet"
		}
		return lipgloss.NewStyle().Height(height).Render(theme.StyleDimmed.Render(empty))
	}

	end := len(lines) - m.offset
	if end < 0 {
		end = 0
	}
	start := max(end-height, 0)
	return lipgloss.NewStyle().Height(height).Render(strings.Join(lines[start:end], "\n"))
}

func (m Model) paneLines() []string {
	if m.pane == PaneLogs {
		lines := make([]string, 0, len(m.logs))
		for _, l := range m.logs {
			lines = append(lines, renderLog(l, m.width))
		}
		return lines
	}

	var lines []string
	for _, e := range m.errors {
		lines = append(lines, renderError(e, m.width)...)
	}
	return lines
}

func (m Model) maxOffset() int {
	return max(len(m.paneLines())-1, 0)
}

func renderLog(l ingest.LogEntry, width int) string {
	return theme.StyleDimmed.Render(clock(l.Timestamp)) + " " + theme.StyleLog.Render(truncate(l.Message, width-14))
}

func renderError(e ingest.ErrorEntry, width int) []string {
	style := theme.StyleError
	if strings.Contains(e.Message, "[warning]") {
		style = theme.StyleWarn
	}
	lines := []string{
		theme.StyleDimmed.Render(clock(e.Timestamp)) + " " + style.Render(truncate(e.Message, width-14)),
	}
	for _, frame := range e.Stack {
		lines = append(lines, theme.StyleFrame.Render("    "+truncate(strings.TrimSpace(frame), width-6)))
	}
	lines = append(lines, theme.StyleDimmed.Render(fmt.Sprintf("    id %s · frame %s · %s", e.ErrorID, e.FrameHash, e.SourceFile)))
	return lines
}

func clock(ms int64) string {
	return time.UnixMilli(ms).Format("15:04:05.000")
}

func keepLast[T any](items []T, n int) []T {
	if len(items) <= n {
		return items
	}
	return append([]T(nil), items[len(items)-n:]...)
}

func truncate(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-1]) + "…"
}
