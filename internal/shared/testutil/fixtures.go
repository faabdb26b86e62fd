package testutil

import (
	"bytes"
	"encoding/csv"
	"strings"
)

// StatementBuilder assembles a QuickBooks-style profit-and-loss export:
// row 1 clinic identity, rows 2-3 report titles, row 4 alternating month
// headers, data rows from row 5.
type StatementBuilder struct {
	title  string
	months []string
	rows   [][]string
}

// NewStatement starts a statement whose first row is title.
func NewStatement(title string, months ...string) *StatementBuilder {
	return &StatementBuilder{title: title, months: months}
}

// Row appends a data row; values are placed under the month columns in order.
func (b *StatementBuilder) Row(label string, values ...string) *StatementBuilder {
	row := make([]string, 1+2*len(b.months))
	row[0] = label
	for i, v := range values {
		if i >= len(b.months) {
			break
		}
		row[1+2*i] = v
	}
	b.rows = append(b.rows, row)
	return b
}

// Grid returns the statement as parsed rows.
func (b *StatementBuilder) Grid() [][]string {
	width := 1 + 2*len(b.months)
	header := make([]string, width)
	for i, m := range b.months {
		header[1+2*i] = m
		header[2+2*i] = "% of Income"
	}

	grid := [][]string{
		pad([]string{b.title}, width),
		pad([]string{"Profit & Loss"}, width),
		pad([]string{"Accrual Basis"}, width),
		header,
	}
	return append(grid, b.rows...)
}

// CSV renders the statement as CSV bytes.
func (b *StatementBuilder) CSV() []byte {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.WriteAll(b.Grid())
	return buf.Bytes()
}

// ShortCSV returns a CSV with fewer rows than any valid statement.
func ShortCSV() []byte {
	return []byte(strings.Join([]string{
		`"American Pain Partners LLC - Katy"`,
		`"Profit & Loss"`,
	}, "\n"))
}

func pad(row []string, width int) []string {
	for len(row) < width {
		row = append(row, "")
	}
	return row
}
