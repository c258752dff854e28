package main

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

type TableColumn struct {
	Header     string
	Width      int
	Alignment  string // "left", "right", "center"
	FormatFunc func(interface{}) string
}

// Table prints boxed rows to out.
type Table struct {
	out     io.Writer
	columns []TableColumn
	title   string
}

func NewTable(out io.Writer, title string) *Table {
	return &Table{out: out, title: title}
}

func (t *Table) AddColumn(header string, width int, alignment string, formatFunc func(interface{}) string) *Table {
	t.columns = append(t.columns, TableColumn{
		Header:     header,
		Width:      width,
		Alignment:  alignment,
		FormatFunc: formatFunc,
	})
	return t
}

func (t *Table) border(left, mid, right string) {
	fmt.Fprint(t.out, left)
	for i, col := range t.columns {
		if i > 0 {
			fmt.Fprint(t.out, mid)
		}
		fmt.Fprint(t.out, strings.Repeat("─", col.Width))
	}
	fmt.Fprintln(t.out, right)
}

func (t *Table) PrintHeader() {
	if t.title != "" {
		fmt.Fprintf(t.out, "%s:\n", t.title)
	}
	t.border("┌", "┬", "┐")

	cells := make([]string, len(t.columns))
	for i, col := range t.columns {
		cells[i] = pad(col.Header, col.Width-1, "left")
	}
	fmt.Fprintln(t.out, "│ "+strings.Join(cells, "│ ")+"│")

	t.border("├", "┼", "┤")
}

// PrintRow ignores rows whose arity does not match the columns.
func (t *Table) PrintRow(data []interface{}) {
	if len(data) != len(t.columns) {
		return
	}

	cells := make([]string, len(t.columns))
	for i, col := range t.columns {
		var value string
		if col.FormatFunc != nil {
			value = col.FormatFunc(data[i])
		} else {
			value = fmt.Sprintf("%v", data[i])
		}
		cells[i] = pad(truncateString(value, col.Width-1), col.Width-1, col.Alignment)
	}
	fmt.Fprintln(t.out, "│ "+strings.Join(cells, "│ ")+"│")
}

func (t *Table) PrintEmptyRow(message string) {
	width := -1
	for _, col := range t.columns {
		width += col.Width + 1
	}
	fmt.Fprintln(t.out, "│"+pad(truncateString(message, width), width, "center")+"│")
}

func (t *Table) PrintFooter() {
	t.border("└", "┴", "┘")
}

func pad(value string, width int, alignment string) string {
	gap := width - utf8.RuneCountInString(value)
	if gap <= 0 {
		return value
	}
	switch alignment {
	case "right":
		return strings.Repeat(" ", gap) + value
	case "center":
		left := gap / 2
		return strings.Repeat(" ", left) + value + strings.Repeat(" ", gap-left)
	default:
		return value + strings.Repeat(" ", gap)
	}
}

func truncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string([]rune(s)[:maxLen])
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
