package ui

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// Table renders rows under a bold header, padding columns to the widest cell
type Table struct {
	writer   io.Writer
	headers  []string
	rows     [][]string
	noColor  bool
	colorize map[int]func(string) *color.Color
}

// TableOptions configures table behavior
type TableOptions struct {
	NoColor bool
}

// NewTable creates a new table with the given headers
func NewTable(w io.Writer, headers []string, opts *TableOptions) *Table {
	noColor := false
	if opts != nil {
		noColor = opts.NoColor
	}

	return &Table{
		writer:   w,
		headers:  headers,
		noColor:  noColor,
		colorize: make(map[int]func(string) *color.Color),
	}
}

// ColorColumn picks a color per cell of column col from the cell's value.
// A nil color leaves the cell plain.
func (t *Table) ColorColumn(col int, fn func(cell string) *color.Color) {
	t.colorize[col] = fn
}

// AddRow adds a row; cells beyond the header count are dropped
func (t *Table) AddRow(cells ...string) {
	if len(cells) > len(t.headers) {
		cells = cells[:len(t.headers)]
	}
	t.rows = append(t.rows, cells)
}

// Len returns the number of rows added so far
func (t *Table) Len() int {
	return len(t.rows)
}

// Render renders the table to the writer
func (t *Table) Render() {
	if len(t.headers) == 0 {
		return
	}

	widths := make([]int, len(t.headers))
	for i, header := range t.headers {
		widths[i] = width(header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			if w := width(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	bold := t.color(color.Bold, color.FgCyan)
	for i, header := range t.headers {
		if i < len(t.headers)-1 {
			header = padRight(header, widths[i])
		}
		bold.Fprint(t.writer, header)
		t.gap(i)
	}
	fmt.Fprintln(t.writer)

	gray := t.color(color.FgHiBlack)
	for i, w := range widths {
		gray.Fprint(t.writer, strings.Repeat("─", w))
		t.gap(i)
	}
	fmt.Fprintln(t.writer)

	for _, row := range t.rows {
		for i := range t.headers {
			cell := ""
			if i < len(row) {
				cell = row[i]
			}
			padded := padRight(cell, widths[i])
			if i == len(t.headers)-1 {
				padded = cell
			}

			c := t.cellColor(i, cell)
			if c != nil {
				c.Fprint(t.writer, padded)
			} else {
				fmt.Fprint(t.writer, padded)
			}
			t.gap(i)
		}
		fmt.Fprintln(t.writer)
	}
}

func (t *Table) gap(col int) {
	if col < len(t.headers)-1 {
		fmt.Fprint(t.writer, "  ")
	}
}

func (t *Table) cellColor(col int, cell string) *color.Color {
	fn, ok := t.colorize[col]
	if !ok {
		return nil
	}
	c := fn(cell)
	if c != nil && t.noColor {
		c.DisableColor()
	}
	return c
}

func (t *Table) color(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if t.noColor {
		c.DisableColor()
	}
	return c
}

// KeyValueTable renders a simple key-value table (2 columns)
type KeyValueTable struct {
	writer  io.Writer
	rows    [][2]string
	noColor bool
}

// NewKeyValueTable creates a new key-value table
func NewKeyValueTable(w io.Writer, noColor bool) *KeyValueTable {
	return &KeyValueTable{writer: w, noColor: noColor}
}

// AddRow adds a key-value pair to the table
func (t *KeyValueTable) AddRow(key, value string) {
	t.rows = append(t.rows, [2]string{key, value})
}

// Render renders the key-value table
func (t *KeyValueTable) Render() {
	maxKeyWidth := 0
	for _, row := range t.rows {
		if w := width(row[0]); w > maxKeyWidth {
			maxKeyWidth = w
		}
	}

	cyan := color.New(color.FgCyan)
	if t.noColor {
		cyan.DisableColor()
	}
	for _, row := range t.rows {
		cyan.Fprint(t.writer, padRight(row[0]+":", maxKeyWidth+1))
		fmt.Fprintf(t.writer, " %s\n", row[1])
	}
}

// width counts runes so diagnostics with non-ASCII text still line up
func width(s string) int {
	return utf8.RuneCountInString(s)
}

func padRight(s string, w int) string {
	if n := width(s); n < w {
		return s + strings.Repeat(" ", w-n)
	}
	return s
}
