package tui

import (
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
)

var (
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#009900", Dark: "#00FF00"})
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FFA500", Dark: "#FFA500"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#990000", Dark: "#FF0000"})
	messageStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#000000", Dark: "#FFFFFF"})
)

func show(mark lipgloss.Style, glyph string, msg string, args []any) {
	fmt.Fprintln(Out, mark.Render(" "+glyph+" ")+messageStyle.Render(fmt.Sprintf(msg, args...)))
}

func ShowSuccess(msg string, args ...any) { show(okStyle, "✓", msg, args) }

func ShowWarning(msg string, args ...any) { show(warningStyle, "⚠", msg, args) }

func ShowError(msg string, args ...any) { show(errorStyle, "✕", msg, args) }

// Ask shows a yes/no prompt. Without a terminal it returns defaultValue.
func Ask(title string, defaultValue bool) (bool, error) {
	if !HasTTY {
		return defaultValue, nil
	}
	confirm := defaultValue
	if err := huh.NewConfirm().
		Title(title).
		Affirmative("Yes").
		Negative("No").
		Value(&confirm).
		Run(); err != nil {
		return false, err
	}
	return confirm, nil
}
