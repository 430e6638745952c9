package cmd

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"rhythm/provider"
)

var (
	dimColor     = lipgloss.Color("7")
	accentColor  = lipgloss.Color("12")
	successColor = lipgloss.Color("10")
	warningColor = lipgloss.Color("11")
	dangerColor  = lipgloss.Color("9")

	userStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	assistantStyle = lipgloss.NewStyle().
			Foreground(accentColor)

	dimStyle = lipgloss.NewStyle().
			Foreground(dimColor)

	titleStyle = lipgloss.NewStyle().
			Bold(true)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(accentColor)

	successStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(warningColor).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(dangerColor).
			Bold(true)
)

// statusStyle colors a provider health status.
func statusStyle(s provider.Status) lipgloss.Style {
	switch s {
	case provider.StatusReady:
		return successStyle
	case provider.StatusNoKey, provider.StatusNotConfigured, provider.StatusRunningNoModels:
		return warningStyle
	default:
		return errorStyle
	}
}

// truncate shortens s to width terminal cells, accounting for wide runes.
func truncate(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "...")
}

// pad right-pads s to width terminal cells.
func pad(s string, width int) string {
	return runewidth.FillRight(s, width)
}
