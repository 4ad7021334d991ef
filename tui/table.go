package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	tableBorderColor = lipgloss.AdaptiveColor{Light: "#999999", Dark: "#AAAAAA"}
	tableBorderStyle = lipgloss.NewStyle().Foreground(tableBorderColor)
)

// RenderTable returns rows framed with headers.
func RenderTable(headers []string, rows [][]string) string {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(tableBorderStyle).
		Headers(headers...).
		Rows(rows...).
		String()
}

func Table(headers []string, rows [][]string) {
	fmt.Fprintln(Out, RenderTable(headers, rows))
}

// Record prints name/value pairs as a two column table. Long values are
// truncated to keep the table inside a terminal.
func Record(pairs [][2]string) {
	rows := make([][]string, 0, len(pairs))
	for _, p := range pairs {
		rows = append(rows, []string{Bold(p[0]), MaxWidth(p[1], maxCellWidth)})
	}
	Table([]string{"Column", "Value"}, rows)
}
