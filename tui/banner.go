package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

var (
	bannerStyle = lipgloss.NewStyle().
			Padding(1).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"})
	bannerTitleStyle = boldStyle.AlignHorizontal(lipgloss.Center)
	bannerBodyStyle  = lipgloss.NewStyle().
				Width(80).
				Foreground(lipgloss.AdaptiveColor{Light: "#a60853", Dark: "#F652A0"})
)

// ShowBanner prints a boxed summary, such as the listen address and backends
// of `serve`. It prints nothing without a terminal.
func ShowBanner(title string, body string) {
	if !HasTTY {
		return
	}
	fmt.Fprintln(Out, bannerStyle.Render(bannerTitleStyle.Render(title)+"\n\n"+bannerBodyStyle.Render(body)))
}
