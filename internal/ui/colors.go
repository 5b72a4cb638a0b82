package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every styled surface.
var (
	ColorAccent = lipgloss.Color("12") // bright blue
	ColorPass   = lipgloss.Color("10") // green
	ColorWarn   = lipgloss.Color("11") // yellow
	ColorFail   = lipgloss.Color("9")  // red
	ColorMuted  = lipgloss.Color("8")  // grey
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorAccent)

	PassStyle = lipgloss.NewStyle().
			Foreground(ColorPass)

	WarnStyle = lipgloss.NewStyle().
			Foreground(ColorWarn)

	FailStyle = lipgloss.NewStyle().
			Foreground(ColorFail)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorMuted)
)
