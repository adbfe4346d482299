package monitorui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/harmonica"
	"github.com/charmbracelet/lipgloss"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mep-live/mep/internal/theme"
)

const (
	meterFPS       = 30
	meterFullScale = 200.0 // messages per second that pin the bar
	meterWidth     = 30
)

type meterFrameMsg time.Time

func meterFrame() tea.Cmd {
	return tea.Tick(time.Second/meterFPS, func(t time.Time) tea.Msg {
		return meterFrameMsg(t)
	})
}

// Meter animates the MIDI throughput bar with a damped spring, so
// bursts rise sharply and then decay smoothly instead of flickering
// with every snapshot.
type Meter struct {
	spring harmonica.Spring
	pos    float64
	vel    float64
	target float64
}

func NewMeter() Meter {
	return Meter{spring: harmonica.NewSpring(harmonica.FPS(meterFPS), 6.0, 0.7)}
}

// SetTarget aims the spring at a normalized level in [0, 1].
func (m *Meter) SetTarget(level float64) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	m.target = level
}

// Step advances the animation one frame.
func (m *Meter) Step() {
	m.pos, m.vel = m.spring.Update(m.pos, m.vel, m.target)
}

// Level reports the smoothed position clamped to [0, 1]; the spring may
// briefly overshoot either bound.
func (m Meter) Level() float64 {
	if m.pos < 0 {
		return 0
	}
	if m.pos > 1 {
		return 1
	}
	return m.pos
}

// View renders the bar at the given width with a msgs/s label.
func (m Meter) View(width int) string {
	if width < 8 {
		width = 8
	}

	level := m.Level()
	filled := int(level * float64(width))
	if filled > width {
		filled = width
	}

	color := theme.MeterColor(level)
	bar := lipgloss.NewStyle().Foreground(color).Render(strings.Repeat("█", filled))
	bar += lipgloss.NewStyle().Foreground(theme.ColorBorder).Render(strings.Repeat("░", width-filled))
	label := fmt.Sprintf(" %3.0f/s", level*meterFullScale)

	return bar + lipgloss.NewStyle().Foreground(color).Render(label)
}
