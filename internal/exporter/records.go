package exporter

import (
	"fmt"
	"io"
	"sort"

	"github.com/gocarina/gocsv"

	"clinicledger/internal/dataprocessing"
	"clinicledger/pkg/contracts/domain"
)

// utf8BOM helps Excel recognize UTF-8 output.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Row is one line item of one clinic month.
type Row struct {
	Clinic string `csv:"clinic"`
	Year   int    `csv:"year"`
	Month  int    `csv:"month"`
	Group  string `csv:"group"`
	Field  string `csv:"field"`
	Label  string `csv:"label"`
	Amount string `csv:"amount"`
}

// Options configures WriteCSV.
type Options struct {
	BOMPrefix bool
	// Totals appends the derived statement totals after each month's items.
	Totals bool
}

// Rows flattens records ordered by clinic, year and month, with line items in
// catalog order. Zero amounts are left out.
func Rows(records []dataprocessing.AssembledRecord, withTotals bool) []Row {
	sorted := make([]dataprocessing.AssembledRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.ClinicName != b.ClinicName {
			return a.ClinicName < b.ClinicName
		}
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		return a.Month < b.Month
	})

	var rows []Row
	for _, rec := range sorted {
		for _, f := range rec.LineItems.SortedFields() {
			amount := rec.LineItems.Get(f)
			if amount.IsZero() {
				continue
			}
			row := Row{Clinic: rec.ClinicName, Year: rec.Year, Month: rec.Month, Field: string(f), Amount: amount.StringFixed(2)}
			if def, ok := domain.LookupField(f); ok {
				row.Group = string(def.Group)
				if len(def.Labels) > 0 {
					row.Label = def.Labels[0]
				}
			}
			rows = append(rows, row)
		}
		if withTotals {
			rows = append(rows, totalRows(rec)...)
		}
	}
	return rows
}

func totalRows(rec dataprocessing.AssembledRecord) []Row {
	t := rec.LineItems.Totals()
	lines := []struct {
		field string
		label string
		value string
	}{
		{"totalIncome", "Total Income", t.TotalIncome.StringFixed(2)},
		{"totalCogs", "Total COGS", t.TotalCOGS.StringFixed(2)},
		{"grossProfit", "Gross Profit", t.GrossProfit.StringFixed(2)},
		{"totalExpenses", "Total Expense", t.TotalExpenses.StringFixed(2)},
		{"netOrdinaryIncome", "Net Ordinary Income", t.NetOrdinaryIncome.StringFixed(2)},
		{"netIncome", "Net Income", t.NetIncome.StringFixed(2)},
	}
	rows := make([]Row, len(lines))
	for i, l := range lines {
		rows[i] = Row{Clinic: rec.ClinicName, Year: rec.Year, Month: rec.Month, Group: "total", Field: l.field, Label: l.label, Amount: l.value}
	}
	return rows
}

// WriteCSV writes the flattened records to w with a header row.
func WriteCSV(w io.Writer, records []dataprocessing.AssembledRecord, opts Options) error {
	if opts.BOMPrefix {
		if _, err := w.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write BOM: %w", err)
		}
	}
	rows := Rows(records, opts.Totals)
	if rows == nil {
		rows = []Row{}
	}
	if err := gocsv.Marshal(rows, w); err != nil {
		return fmt.Errorf("failed to write csv: %w", err)
	}
	return nil
}
