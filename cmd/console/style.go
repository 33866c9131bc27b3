package main

import "github.com/charmbracelet/lipgloss"

var (
	// bannerStyle for the startup banner
	bannerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("39")).
			Padding(0, 1)

	// dimStyle for muted metadata text
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	// errorStyle for interpreter and console errors
	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196"))

	// stopStyle for debugger stops
	stopStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("220"))

	// nameStyle for variable names
	nameStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("81")).
			Bold(true)
)
