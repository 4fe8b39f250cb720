package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	root        lipgloss.Style
	header      lipgloss.Style
	panel       lipgloss.Style
	panelTitle  lipgloss.Style
	inputPanel  lipgloss.Style
	footer      lipgloss.Style
	online      lipgloss.Style
	connecting  lipgloss.Style
	offline     lipgloss.Style
	errorStatus lipgloss.Style
	helpText    lipgloss.Style
	pick        lipgloss.Style
	human       lipgloss.Style
	companion   lipgloss.Style
	care        lipgloss.Style
}

func newTheme() theme {
	pink := lipgloss.Color("#ff8fab")
	rose := lipgloss.Color("#fb6f92")
	mint := lipgloss.Color("#06d6a0")
	amber := lipgloss.Color("#ffd166")
	muted := lipgloss.Color("#9ca3af")

	return theme{
		root: lipgloss.NewStyle().Padding(0, 1),
		header: lipgloss.NewStyle().
			Bold(true).
			Foreground(rose).
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(pink).
			Padding(0, 1),
		panelTitle: lipgloss.NewStyle().Bold(true).Foreground(rose),
		inputPanel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		footer:      lipgloss.NewStyle().Padding(0, 1),
		online:      lipgloss.NewStyle().Foreground(mint).Bold(true),
		connecting:  lipgloss.NewStyle().Foreground(amber).Bold(true),
		offline:     lipgloss.NewStyle().Foreground(muted).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(rose).Bold(true),
		helpText:    lipgloss.NewStyle().Foreground(muted),
		pick:        lipgloss.NewStyle().Foreground(rose).Bold(true),
		human:       lipgloss.NewStyle().Foreground(mint).Bold(true),
		companion:   lipgloss.NewStyle().Foreground(pink).Bold(true),
		care:        lipgloss.NewStyle().Foreground(amber).Bold(true),
	}
}
