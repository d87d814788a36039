package main

import (
	"github.com/charmbracelet/lipgloss"

	"tasktracker/domain"
)

var (
	green  = lipgloss.Color("2")
	yellow = lipgloss.Color("3")
	red    = lipgloss.Color("1")
	blue   = lipgloss.Color("4")
	purple = lipgloss.Color("5")
	gray   = lipgloss.Color("8")

	badgeStyle  = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	errorStyle  = lipgloss.NewStyle().Foreground(red)
)

func priorityColor(level string) lipgloss.Color {
	switch level {
	case domain.PriorityLow:
		return green
	case domain.PriorityMedium:
		return yellow
	case domain.PriorityHigh:
		return red
	case domain.PriorityUrgent:
		return purple
	default:
		return gray
	}
}

func statusColor(s domain.Status) lipgloss.Color {
	switch s {
	case domain.StatusPending:
		return yellow
	case domain.StatusInProgress:
		return blue
	case domain.StatusCompleted:
		return green
	case domain.StatusCancelled:
		return red
	default:
		return gray
	}
}

func priorityBadge(p *domain.Priority) string {
	level := ""
	if p != nil {
		level = p.Level
	}
	if level == "" {
		level = "none"
	}
	return badgeStyle.Foreground(priorityColor(level)).Render(level)
}

func statusBadge(s domain.Status) string {
	return badgeStyle.Foreground(statusColor(s)).Render(string(s))
}
