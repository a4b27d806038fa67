// Package ui renders CLI output with lipgloss.
package ui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/Far3/financial-advisor-ai/internal/task"
)

var (
	ColorPrimary   = lipgloss.Color("205") // Pink
	ColorSecondary = lipgloss.Color("241") // Gray
	ColorSuccess   = lipgloss.Color("42")  // Green
	ColorError     = lipgloss.Color("160") // Red
	ColorWarning   = lipgloss.Color("214") // Orange
	ColorText      = lipgloss.Color("252")
	ColorBlue      = lipgloss.Color("75")

	StyleTitle   = lipgloss.NewStyle().Foreground(ColorText).Bold(true)
	StyleSubtle  = lipgloss.NewStyle().Foreground(ColorSecondary)
	StylePrimary = lipgloss.NewStyle().Foreground(ColorPrimary)
	StyleSuccess = lipgloss.NewStyle().Foreground(ColorSuccess)
	StyleError   = lipgloss.NewStyle().Foreground(ColorError)
	StyleWarning = lipgloss.NewStyle().Foreground(ColorWarning)

	StyleSectionTitle = lipgloss.NewStyle().
				Foreground(ColorPrimary).
				Bold(true).
				Underline(true)

	// Chat transcript prefixes.
	StylePrefixUser      = lipgloss.NewStyle().Foreground(ColorSuccess)
	StylePrefixAssistant = lipgloss.NewStyle().Foreground(ColorBlue).Bold(true)
)

// StatusStyle colors a task status.
func StatusStyle(s task.TaskStatus) lipgloss.Style {
	switch s {
	case task.StatusCompleted:
		return StyleSuccess
	case task.StatusFailed:
		return StyleError
	case task.StatusWaitingResponse:
		return StyleWarning
	case task.StatusInProgress:
		return StylePrimary
	default:
		return StyleSubtle
	}
}
