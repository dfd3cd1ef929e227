// Package ui provides terminal rendering helpers for CLI output.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

var colorEnabled = termenv.EnvColorProfile() != termenv.Ascii

var (
	accentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	passStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

// RenderAccent renders informational markers.
func RenderAccent(s string) string { return render(accentStyle, s) }

// RenderPass renders success markers.
func RenderPass(s string) string { return render(passStyle, s) }

// RenderWarn renders warning markers.
func RenderWarn(s string) string { return render(warnStyle, s) }

// RenderFail renders failure markers.
func RenderFail(s string) string { return render(failStyle, s) }

func render(style lipgloss.Style, s string) string {
	if !colorEnabled {
		return s
	}
	return style.Render(s)
}
