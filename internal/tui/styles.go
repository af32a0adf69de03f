package tui

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent  = lipgloss.Color("#89b4fa")
	colorGreen   = lipgloss.Color("#a6e3a1")
	colorYellow  = lipgloss.Color("#f9e2af")
	colorMauve   = lipgloss.Color("#cba6f7")
	colorSurface = lipgloss.Color("#45475a")
	colorText    = lipgloss.Color("#cdd6f4")
	colorMuted   = lipgloss.Color("#6c7086")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)

	axisStyle   = lipgloss.NewStyle().Foreground(colorSurface)
	labelStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	legendStyle = lipgloss.NewStyle().Foreground(colorMuted)

	prefillStyle = lipgloss.NewStyle().Foreground(colorAccent)
	genStyle     = lipgloss.NewStyle().Foreground(colorGreen)

	toolSpanStyle    = lipgloss.NewStyle().Foreground(colorYellow)
	waitingSpanStyle = lipgloss.NewStyle().Foreground(colorSurface)
	thinkSpanStyle   = lipgloss.NewStyle().Foreground(colorMauve)

	listItemStyle     = lipgloss.NewStyle().Foreground(colorText)
	selectedItemStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).Background(colorSurface)

	statusStyle = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f38ba8"))
)
