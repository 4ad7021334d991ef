package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	accentColor  = lipgloss.AdaptiveColor{Light: "#36EEE0", Dark: "#00FFFF"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "#666666", Dark: "#999999"}
	accentStyle  = lipgloss.NewStyle().Foreground(accentColor)
	boldStyle    = accentStyle.Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(mutedColor)
	maxCellWidth = 64
)

func Bold(text string) string {
	return boldStyle.Render(text)
}

func Muted(text string) string {
	return mutedStyle.Render(text)
}

// Command renders a readaside invocation.
func Command(cmd string, args ...string) string {
	return accentStyle.Render("readaside " + strings.Join(append([]string{cmd}, args...), " "))
}

// MaxWidth truncates text to width runes, ending in an ellipsis.
func MaxWidth(text string, width int) string {
	r := []rune(text)
	if len(r) > width && width > 3 {
		return string(r[:width-3]) + "..."
	}
	return text
}
