// Package theme provides the Lip Gloss palette and styles for the watch
// viewer. It is a leaf package with no internal imports.
package theme

import "github.com/charmbracelet/lipgloss"

// Entry colors.
var (
	ColorLog     = lipgloss.Color("#9ca3af")
	ColorWarning = lipgloss.Color("#d97706")
	ColorError   = lipgloss.Color("#dc2626")
	ColorFrame   = lipgloss.Color("#6b7280")
)

// Connection colors.
var (
	ColorConnected    = lipgloss.Color("#22c55e")
	ColorReconnecting = lipgloss.Color("#d97706")
	ColorDisconnected = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder = lipgloss.Color("#4b5563")
	ColorDimmed = lipgloss.Color("#6b7280")
	ColorBright = lipgloss.Color("#f9fafb")
	ColorAccent = lipgloss.Color("#3b82f6")
)

var (
	StyleHeader = lipgloss.NewStyle().Bold(true).Foreground(ColorBright)
	StyleDimmed = lipgloss.NewStyle().Foreground(ColorDimmed)
	StyleFrame  = lipgloss.NewStyle().Foreground(ColorFrame)
	StyleLog    = lipgloss.NewStyle().Foreground(ColorLog)
	StyleError  = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarn   = lipgloss.NewStyle().Foreground(ColorWarning)

	StyleTabActive   = lipgloss.NewStyle().Bold(true).Foreground(ColorBright).Background(ColorAccent).Padding(0, 1)
	StyleTabInactive = lipgloss.NewStyle().Foreground(ColorDimmed).Padding(0, 1)
	StyleStatusBar   = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderBottom(true).BorderForeground(ColorBorder)
)

// StateColor returns the color for a session state name.
func StateColor(state string) lipgloss.Color {
	switch state {
	case "connected":
		return ColorConnected
	case "reconnecting":
		return ColorReconnecting
	default:
		return ColorDisconnected
	}
}
