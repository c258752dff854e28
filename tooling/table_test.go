package main

import (
	"bytes"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableRowsLineUp(t *testing.T) {
	var buf bytes.Buffer
	table := NewTable(&buf, "Orders").
		AddColumn("Order ID", 12, "left", nil).
		AddColumn("Amount", 10, "right", nil).
		AddColumn("Status", 9, "center", nil)

	table.PrintHeader()
	table.PrintRow([]interface{}{"O1", "2500.00", "paid"})
	table.PrintRow([]interface{}{"0192f3a4-aaaa-bbbb", "1.00", "pending"})
	table.PrintRow([]interface{}{"ignored"})
	table.PrintEmptyRow("nothing else")
	table.PrintFooter()

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 8)
	assert.Equal(t, "Orders:", lines[0])

	width := utf8.RuneCountInString(lines[1])
	for _, line := range lines[1:] {
		assert.Equal(t, width, utf8.RuneCountInString(line), line)
	}
	assert.Contains(t, lines[4], "│   2500.00│")
	assert.Contains(t, lines[5], "0192f3a4...")
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "short", truncateString("short", 10))
	assert.Equal(t, "abcd...", truncateString("abcdefghij", 7))
	assert.Equal(t, "ab", truncateString("abcdef", 2))
}
