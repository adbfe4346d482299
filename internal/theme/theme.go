// Package theme provides the Lip Gloss color palette and reusable
// styles shared by the inline renderer and the monitor TUI. It is a
// leaf package with no internal imports to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Phase colors.
var (
	ColorSelecting = lipgloss.Color("#3b82f6")
	ColorRunning   = lipgloss.Color("#22c55e")
	ColorBroken    = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder  = lipgloss.Color("#4b5563")
	ColorDimmed  = lipgloss.Color("#6b7280")
	ColorBright  = lipgloss.Color("#f9fafb")
	ColorAccent  = lipgloss.Color("#a855f7")
	ColorHealthy = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#d97706")
	ColorDanger  = lipgloss.Color("#dc2626")
)

// Activity meter thresholds.
var (
	ColorMeterLow  = lipgloss.Color("#22c55e") // <50%
	ColorMeterMid  = lipgloss.Color("#d97706") // 50-80%
	ColorMeterHigh = lipgloss.Color("#dc2626") // >80%
)

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
			Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorBright)

	StyleError = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorDanger).
			Padding(0, 1)

	StyleWarning = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(ColorWarning).
			Padding(0, 1)

	StyleHint = lipgloss.NewStyle().
			Foreground(ColorWarning)
)

// PhaseColor returns the color for a phase name.
func PhaseColor(phase string) lipgloss.Color {
	switch phase {
	case "selecting":
		return ColorSelecting
	case "running":
		return ColorRunning
	case "broken":
		return ColorBroken
	default:
		return ColorDimmed
	}
}

// PhaseGlyph returns a Unicode glyph representing a phase.
func PhaseGlyph(phase string) string {
	switch phase {
	case "selecting":
		return "◎"
	case "running":
		return "▶"
	case "broken":
		return "✗"
	default:
		return "·"
	}
}

// MeterColor returns the color for a normalized activity level.
func MeterColor(level float64) lipgloss.Color {
	switch {
	case level > 0.8:
		return ColorMeterHigh
	case level > 0.5:
		return ColorMeterMid
	default:
		return ColorMeterLow
	}
}
