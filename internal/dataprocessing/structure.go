package dataprocessing

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	apperrors "clinicledger/internal/errors"
)

// Layout describes the positional structure of an export.
type Layout struct {
	MinRows          int
	HeaderRow        int
	FirstMonthColumn int
	ColumnStep       int
}

// DefaultLayout is the QuickBooks profit-and-loss export layout: clinic identity in
// row 1, month headers in row 4 on every other column, data from row 5.
func DefaultLayout() Layout {
	return Layout{MinRows: 5, HeaderRow: 3, FirstMonthColumn: 1, ColumnStep: 2}
}

// MonthColumn locates one month's values in the grid.
type MonthColumn struct {
	Year   int
	Month  int
	Column int
}

// Structure is the result of structural parsing.
type Structure struct {
	ClinicName string
	Months     []MonthColumn
}

var (
	monthToken    = regexp.MustCompile(`^([A-Za-z]{3})[A-Za-z]*\.?\s+'?(\d{2})$`)
	parenthesized = regexp.MustCompile(`\(([^()]+)\)`)
	monthNumbers  = map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}
)

// ParseStructure locates the clinic name and month columns of a grid.
func ParseStructure(layout Layout, fileName string, grid [][]string) (*Structure, error) {
	if len(grid) < layout.MinRows || len(grid) <= layout.HeaderRow {
		return nil, apperrors.NewFormatError(fileName,
			fmt.Sprintf("file has %d rows, at least %d required", len(grid), layout.MinRows))
	}

	months := parseMonthHeader(layout, grid[layout.HeaderRow])
	if len(months) == 0 {
		return nil, apperrors.NewFormatError(fileName,
			fmt.Sprintf("no month headers found in row %d", layout.HeaderRow+1))
	}

	return &Structure{
		ClinicName: ResolveClinicName(grid[0], fileName),
		Months:     months,
	}, nil
}

func parseMonthHeader(layout Layout, header []string) []MonthColumn {
	step := layout.ColumnStep
	if step < 1 {
		step = 1
	}
	var months []MonthColumn
	for col := layout.FirstMonthColumn; col < len(header); col += step {
		year, month, ok := ParseMonthToken(header[col])
		if !ok {
			continue
		}
		months = append(months, MonthColumn{Year: year, Month: month, Column: col})
	}
	return months
}

// ParseMonthToken parses "<Mon> <YY>". Years below 50 are 20YY, others 19YY.
func ParseMonthToken(token string) (year, month int, ok bool) {
	m := monthToken.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return 0, 0, false
	}
	month, ok = monthNumbers[strings.ToLower(m[1])]
	if !ok {
		return 0, 0, false
	}
	yy, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, 0, false
	}
	if yy < 50 {
		return 2000 + yy, month, true
	}
	return 1900 + yy, month, true
}

// ResolveClinicName takes the location of an "<Org> - <Location>" title in the
// first row, then a parenthesized name in the file name, then the file name itself.
func ResolveClinicName(firstRow []string, fileName string) string {
	for _, cell := range firstRow {
		cell = strings.TrimSpace(cell)
		if cell == "" {
			continue
		}
		if idx := strings.LastIndex(cell, " - "); idx >= 0 {
			if loc := strings.TrimSpace(cell[idx+3:]); loc != "" {
				return loc
			}
		}
		break
	}

	base := filepath.Base(fileName)
	if m := parenthesized.FindStringSubmatch(base); m != nil {
		if name := strings.TrimSpace(m[1]); name != "" {
			return name
		}
	}
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}
