package display

import (
	"fmt"
	"io"
	"strings"
	"time"
	"unicode/utf8"
)

// statusColors maps backup and restore lifecycle statuses to colors
var statusColors = map[string]Color{
	"pending":               ColorYellow,
	"processing":            ColorCyan,
	"awaiting_confirmation": ColorMagenta,
	"completed":             ColorGreen,
	"failed":                ColorBrightRed,
	"expired":               ColorGray,
	"rolled_back":           ColorBlue,
}

// StatusBadge colorizes a lifecycle status for terminal output
func StatusBadge(cs ColorSystem, status string) string {
	if clr, ok := statusColors[status]; ok {
		return cs.Colorize(status, clr)
	}
	return status
}

// FormatBytes renders a byte count in human-readable units
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FormatTime renders a timestamp for listings, or a dash for zero times
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04")
}

// FormatTimePtr renders an optional timestamp
func FormatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return FormatTime(*t)
}

// Table renders aligned columnar output for listing commands
type Table struct {
	headers  []string
	rows     [][]string
	colorSys ColorSystem
}

// NewTable creates a table with the given headers
func NewTable(colorSys ColorSystem, headers ...string) *Table {
	return &Table{headers: headers, colorSys: colorSys}
}

// AddRow appends a row. Missing cells render empty, extra cells are dropped.
func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.headers))
	for i := range row {
		if i < len(cells) {
			row[i] = cells[i]
		}
	}
	t.rows = append(t.rows, row)
}

// RenderTo writes the table to the writer
func (t *Table) RenderTo(w io.Writer) {
	widths := make([]int, len(t.headers))
	for i, h := range t.headers {
		widths[i] = utf8.RuneCountInString(h)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if n := visibleWidth(cell); n > widths[i] {
				widths[i] = n
			}
		}
	}

	headerCells := make([]string, len(t.headers))
	for i, h := range t.headers {
		headerCells[i] = t.colorSys.Colorize(pad(h, widths[i]), ColorCyan)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(headerCells, "  "), " "))

	sep := make([]string, len(t.headers))
	for i, width := range widths {
		sep[i] = strings.Repeat("-", width)
	}
	fmt.Fprintln(w, strings.TrimRight(strings.Join(sep, "  "), " "))

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = padVisible(cell, widths[i])
		}
		fmt.Fprintln(w, strings.TrimRight(strings.Join(cells, "  "), " "))
	}
}

func pad(s string, width int) string {
	if n := utf8.RuneCountInString(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// padVisible pads using the visible width so colored cells stay aligned
func padVisible(s string, width int) string {
	if n := visibleWidth(s); n < width {
		return s + strings.Repeat(" ", width-n)
	}
	return s
}

// visibleWidth counts runes excluding ANSI escape sequences
func visibleWidth(s string) int {
	width := 0
	inEscape := false
	for _, r := range s {
		switch {
		case inEscape:
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
				inEscape = false
			}
		case r == '\x1b':
			inEscape = true
		default:
			width++
		}
	}
	return width
}
