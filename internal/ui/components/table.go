package components

import (
	"github.com/charmbracelet/lipgloss"
	ltable "github.com/charmbracelet/lipgloss/table"
	"github.com/charmbracelet/x/ansi"

	"github.com/willibrandon/vperf/internal/ui/styles"
)

// Table renders static tabular output with a header rule.
type Table struct {
	width int

	// Data
	headers []string
	rows    [][]string

	// Display options
	maxCellWidth int
	numeric      map[int]bool
}

// NewTable creates a new table component
func NewTable(headers ...string) *Table {
	return &Table{
		headers:      headers,
		maxCellWidth: 40,
		numeric:      make(map[int]bool),
	}
}

// SetWidth caps the rendered table width. Zero means natural width.
func (t *Table) SetWidth(width int) {
	t.width = width
}

// SetMaxCellWidth sets the width past which cells are truncated.
func (t *Table) SetMaxCellWidth(n int) {
	t.maxCellWidth = n
}

// AlignRight right-aligns the given columns.
func (t *Table) AlignRight(cols ...int) {
	for _, c := range cols {
		t.numeric[c] = true
	}
}

// AddRow appends a row. Cells may carry ANSI styling.
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// Len returns the number of data rows.
func (t *Table) Len() int {
	return len(t.rows)
}

// View renders the table
func (t *Table) View() string {
	if len(t.rows) == 0 {
		return styles.MutedStyle.Render("No data to display")
	}

	tbl := ltable.New().
		Headers(t.headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == ltable.HeaderRow {
				return styles.TableHeaderStyle
			}
			style := styles.TableCellStyle
			if row%2 == 1 {
				style = styles.TableRowAltStyle
			}
			if t.numeric[col] {
				style = style.Align(lipgloss.Right)
			}
			return style
		}).
		BorderStyle(styles.TableBorderStyle).
		BorderTop(false).
		BorderBottom(false).
		BorderLeft(false).
		BorderRight(false).
		BorderHeader(true).
		BorderColumn(false)

	if t.width > 0 {
		tbl = tbl.Width(t.width)
	}

	for _, row := range t.rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = truncateCell(cell, t.maxCellWidth)
		}
		tbl = tbl.Row(cells...)
	}

	return tbl.Render()
}

// truncateCell shortens a possibly styled cell to maxLen display cells.
func truncateCell(cell string, maxLen int) string {
	if maxLen <= 0 || ansi.StringWidth(cell) <= maxLen {
		return cell
	}
	return ansi.Truncate(cell, maxLen, "…")
}
