// Package widgets renders small terminal views shared by the UI.
package widgets

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Cell is one pad of a grid view.
type Cell struct {
	Color lipgloss.Color
	Glyph rune
}

// RenderPad renders a single colored pad
func RenderPad(c Cell) string {
	if c.Glyph == 0 {
		return " "
	}
	return lipgloss.NewStyle().Foreground(c.Color).Render(string(c.Glyph))
}

// RenderPadGrid renders rows top to bottom under a header of column labels.
// Labels are at most two cells wide.
func RenderPadGrid(labels []string, rows [][]Cell) string {
	var lines []string
	var head strings.Builder
	for _, l := range labels {
		head.WriteString(fmt.Sprintf("%-3s", l))
	}
	lines = append(lines, strings.TrimRight(head.String(), " "))
	for _, row := range rows {
		var line strings.Builder
		for i, c := range row {
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(RenderPad(c))
		}
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// RenderLegendItem renders a single legend item: "● name"
func RenderLegendItem(c Cell, name string) string {
	return fmt.Sprintf("%s %s", RenderPad(c), name)
}
