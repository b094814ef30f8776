package ui

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// Truncate shortens s to at most width display cells, ending in "…".
func Truncate(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	return runewidth.Truncate(s, width, "…")
}

// Table renders aligned plain-text columns. Cells wider than MaxCell are
// truncated; the last column is never padded.
type Table struct {
	Headers []string
	Rows    [][]string
	MaxCell int
}

func (t *Table) Append(cells ...string) {
	t.Rows = append(t.Rows, cells)
}

func (t *Table) String() string {
	max := t.MaxCell
	if max <= 0 {
		max = 48
	}
	widths := make([]int, len(t.Headers))
	cell := func(row []string, i int) string {
		if i < len(row) {
			return Truncate(strings.ReplaceAll(row[i], "\n", " "), max)
		}
		return ""
	}
	measure := func(row []string) {
		for i := range widths {
			if w := runewidth.StringWidth(cell(row, i)); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.Headers)
	for _, r := range t.Rows {
		measure(r)
	}

	var b strings.Builder
	line := func(row []string, style func(string) string) {
		for i := range widths {
			c := cell(row, i)
			if i < len(widths)-1 {
				c = runewidth.FillRight(c, widths[i]+2)
			}
			b.WriteString(style(c))
		}
		b.WriteString("\n")
	}
	line(t.Headers, func(s string) string { return HeaderStyle.Render(s) })
	for _, r := range t.Rows {
		line(r, func(s string) string { return s })
	}
	return b.String()
}
