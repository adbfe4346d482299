// Package monitorui is the mep-monitor terminal UI: a Bubble Tea app
// that mirrors one mep run over its websocket status feed.
package monitorui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mep-live/mep/internal/monitorui/client"
	"github.com/mep-live/mep/internal/monitorui/demo"
	"github.com/mep-live/mep/internal/status"
	"github.com/mep-live/mep/internal/theme"
)

const eventLogLimit = 8

// Model is the root Bubble Tea model.
type Model struct {
	ws     *client.Client
	feed   *demo.Feed
	ctx    context.Context
	cancel context.CancelFunc

	keys   KeyMap
	width  int
	height int

	state     status.State
	haveState bool
	events    []status.Event

	connected bool
	paused    bool
	showHelp  bool
	help      string // glamour output, cached per width

	meter     Meter
	lastCount int64
	lastAt    time.Time
}

// New creates the root model. A non-nil feed replaces the live client.
func New(ws *client.Client, feed *demo.Feed) Model {
	ctx, cancel := context.WithCancel(context.Background())
	return Model{
		ws:     ws,
		feed:   feed,
		ctx:    ctx,
		cancel: cancel,
		keys:   DefaultKeyMap(),
		meter:  NewMeter(),
	}
}

// Init opens the feed and starts the animation clock.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listen(), meterFrame())
}

func (m Model) listen() tea.Cmd {
	if m.feed != nil {
		return m.feed.Next
	}
	if m.ws == nil {
		return nil
	}
	return m.ws.Listen(m.ctx)
}

func (m Model) next() tea.Cmd {
	if m.feed != nil {
		return m.feed.Next
	}
	if m.ws == nil {
		return nil
	}
	return m.ws.ReadLoop()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help = "" // re-render at the new width next time help opens
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case client.ConnectedMsg:
		m.connected = true
		return m, m.next()

	case client.DisconnectedMsg:
		m.connected = false
		return m, m.listen()

	case client.StateMsg:
		if !m.paused {
			m.applyState(msg.State)
		}
		return m, m.next()

	case client.EventMsg:
		if !m.paused {
			m.events = append(m.events, msg.Event)
			if len(m.events) > eventLogLimit {
				m.events = m.events[len(m.events)-eventLogLimit:]
			}
		}
		return m, m.next()

	case meterFrameMsg:
		m.meter.Step()
		return m, meterFrame()
	}

	return m, nil
}

// applyState stores the snapshot and retargets the activity meter from
// the input counter's growth rate.
func (m *Model) applyState(st status.State) {
	now := time.Now()
	if m.haveState && st.MidiIn >= m.lastCount && !m.lastAt.IsZero() {
		if dt := now.Sub(m.lastAt).Seconds(); dt > 0 {
			rate := float64(st.MidiIn-m.lastCount) / dt
			m.meter.SetTarget(rate / meterFullScale)
		}
	}
	m.lastCount = st.MidiIn
	m.lastAt = now

	m.state = st
	m.haveState = true
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.showHelp {
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.cancel()
			return m, tea.Quit
		case key.Matches(msg, m.keys.Escape), key.Matches(msg, m.keys.Help):
			m.showHelp = false
		}
		return m, nil
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		m.cancel()
		return m, tea.Quit

	case key.Matches(msg, m.keys.Help):
		if m.help == "" {
			m.help = renderHelp(m.contentWidth())
		}
		m.showHelp = true
		return m, nil

	case key.Matches(msg, m.keys.Reconnect):
		if m.ws != nil {
			m.ws.Reconnect()
		}
		return m, nil

	case key.Matches(msg, m.keys.Pause):
		m.paused = !m.paused
		return m, nil
	}

	return m, nil
}

// View renders the full monitor.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.showHelp {
		return m.help
	}

	sections := []string{m.renderHeader()}

	switch {
	case !m.connected && !m.haveState:
		sections = append(sections, m.renderWaiting())
	default:
		if !m.connected {
			sections = append(sections, m.renderDisconnected())
		}
		sections = append(sections, m.renderRun(), m.renderCatalog())
		if m.state.LastError != "" {
			sections = append(sections, m.renderError())
		}
		if len(m.events) > 0 {
			sections = append(sections, m.renderEvents())
		}
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader() string {
	var connStr string
	if m.connected {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorHealthy).Render("● Connected")
	} else {
		connStr = lipgloss.NewStyle().Foreground(theme.ColorDanger).Render("○ Reconnecting...")
	}

	phase := m.state.Phase.String()
	phaseStr := lipgloss.NewStyle().Foreground(theme.PhaseColor(phase)).
		Render(theme.PhaseGlyph(phase) + " " + phase)

	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(" | ")
	content := theme.StyleHeader.Render("mep") + sep + connStr + sep + phaseStr
	if m.haveState {
		content += sep + theme.StyleDimmed.Render("run "+shortID(m.state.RunID))
	}
	if m.paused {
		content += sep + theme.StyleHint.Render("⏸ paused")
	}

	return lipgloss.NewStyle().
		Width(m.contentWidth()).
		Padding(0, 1).
		BorderStyle(lipgloss.DoubleBorder()).
		BorderForeground(theme.ColorBorder).
		Render(content)
}

func (m Model) renderWaiting() string {
	body := theme.StyleHeader.Render("Waiting for mep") + "\n" +
		theme.StyleDimmed.Render("Start mep with the status server enabled, or run with -demo.")
	return theme.StyleBorder.Padding(1, 2).Render(body)
}

func (m Model) renderDisconnected() string {
	return "  " + lipgloss.NewStyle().Foreground(theme.ColorDanger).Bold(true).Render("DISCONNECTED") +
		" " + theme.StyleDimmed.Render("Reconnecting with backoff, showing the last snapshot.")
}

func (m Model) renderRun() string {
	st := m.state

	script := st.Script
	if script == "" {
		script = "no script selected"
	}
	title := "  " + theme.StyleHeader.Render(script) + "  " +
		theme.StyleDimmed.Render(fmt.Sprintf("%s ➜ %s", st.PortIn, st.PortOut))

	statStyle := lipgloss.NewStyle().Padding(0, 1)
	sep := lipgloss.NewStyle().Foreground(theme.ColorBorder).Render("|")
	counters := "  " + strings.Join([]string{
		statStyle.Foreground(theme.ColorBright).Render("in: " + formatCount(st.MidiIn)),
		statStyle.Foreground(theme.ColorBright).Render("out: " + formatCount(st.MidiOut)),
		statStyle.Foreground(theme.ColorWarning).Render(fmt.Sprintf("dropped: %d", st.Dropped)),
		statStyle.Foreground(theme.ColorWarning).Render(fmt.Sprintf("violations: %d", st.Violations)),
		statStyle.Foreground(theme.ColorAccent).Render(fmt.Sprintf("reloads: %d", st.Reloads)),
	}, sep)

	meter := "  " + m.meter.View(meterWidth)
	proc := "  " + theme.StyleDimmed.Render(fmt.Sprintf("cpu %.1f%%  rss %s  pid %d",
		st.CPUPercent, formatBytes(st.RSSBytes), st.PID))

	return lipgloss.JoinVertical(lipgloss.Left, title, counters, meter, proc)
}

func (m Model) renderCatalog() string {
	if len(m.state.Catalog) == 0 {
		return theme.StyleDimmed.Render("  No scripts in the catalog")
	}

	lines := []string{theme.StyleDimmed.Render("  Scripts")}
	for _, s := range m.state.Catalog {
		line := fmt.Sprintf("%d: %s", s.Index, s.Name)
		if s.Index == m.state.Index {
			lines = append(lines, theme.StyleSelected.Render("  ▶ "+line))
		} else {
			lines = append(lines, theme.StyleDimmed.Render("    "+line))
		}
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderError() string {
	return theme.StyleError.Render(truncate(m.state.LastError, m.contentWidth()-4))
}

func (m Model) renderEvents() string {
	lines := []string{theme.StyleDimmed.Render("  Recent")}
	for _, ev := range m.events {
		ts := theme.StyleDimmed.Render(ev.Time.Format("15:04:05"))
		kind := lipgloss.NewStyle().Foreground(eventColor(ev.Kind)).
			Render(fmt.Sprintf("%-12s", ev.Kind))
		line := fmt.Sprintf("  %s %s %s", ts, kind, ev.Script)
		if ev.Detail != "" {
			line += " " + theme.StyleDimmed.Render(truncate(ev.Detail, m.contentWidth()-40))
		}
		lines = append(lines, line)
	}
	return lipgloss.JoinVertical(lipgloss.Left, lines...)
}

func (m Model) renderFooter() string {
	return theme.StyleDimmed.Render("  ?:help  r:reconnect  p:pause  q:quit")
}

// contentWidth is the usable width with a small margin, clamped so tiny
// terminals still get a coherent layout.
func (m Model) contentWidth() int {
	if m.width < 44 {
		return 40
	}
	return m.width - 4
}

func eventColor(kind string) lipgloss.Color {
	switch kind {
	case status.EventScriptError:
		return theme.ColorDanger
	case status.EventViolation:
		return theme.ColorWarning
	case status.EventReload, status.EventRecovered:
		return theme.ColorHealthy
	case status.EventSwitch:
		return theme.ColorAccent
	default:
		return theme.ColorDimmed
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, max int) string {
	if max < 4 {
		max = 4
	}
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// formatCount formats large numbers with K/M suffixes.
func formatCount(n int64) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	case n >= 1_000:
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	default:
		return fmt.Sprintf("%d", n)
	}
}

// formatBytes renders a byte count in MiB, the scale a long-lived mep
// process actually occupies.
func formatBytes(b uint64) string {
	return fmt.Sprintf("%.1f MiB", float64(b)/(1<<20))
}
