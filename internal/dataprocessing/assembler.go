package dataprocessing

import (
	"clinicledger/pkg/contracts/domain"
)

// AssembledRecord is one month of canonical amounts read from a file.
type AssembledRecord struct {
	ClinicName string           `json:"clinicName" csv:"clinic" validate:"required"`
	Year       int              `json:"year" csv:"year" validate:"min=2020,max=2030"`
	Month      int              `json:"month" csv:"month" validate:"min=1,max=12"`
	LineItems  domain.LineItems `json:"lineItems" csv:"-"`
}

// ParsedFile is the assembler output for one file.
type ParsedFile struct {
	FileName   string
	ClinicName string
	Records    []AssembledRecord
	// Unmapped holds each label without a canonical field, once, in file order.
	Unmapped []string
}

// Assembler builds monthly records from a grid.
type Assembler struct {
	layout     Layout
	normalizer *Normalizer
}

// NewAssembler creates an assembler for layout backed by the catalog normalizer.
func NewAssembler(layout Layout) *Assembler {
	return &Assembler{layout: layout, normalizer: NewNormalizer()}
}

// Normalizer exposes the label normalizer in use.
func (a *Assembler) Normalizer() *Normalizer {
	return a.normalizer
}

// Assemble parses the grid structure and produces one record per month that
// carries at least one non-zero amount.
func (a *Assembler) Assemble(fileName string, grid [][]string) (*ParsedFile, error) {
	structure, err := ParseStructure(a.layout, fileName, grid)
	if err != nil {
		return nil, err
	}

	type mappedRow struct {
		field domain.Field
		cells []string
	}

	out := &ParsedFile{FileName: fileName, ClinicName: structure.ClinicName}
	seen := make(map[string]bool)
	var rows []mappedRow
	for _, row := range grid[a.layout.HeaderRow+1:] {
		if len(row) == 0 {
			continue
		}
		label := CleanLabel(row[0])
		if label == "" {
			continue
		}
		field, ok := a.normalizer.Lookup(label)
		if !ok {
			if !seen[label] {
				seen[label] = true
				out.Unmapped = append(out.Unmapped, label)
			}
			continue
		}
		rows = append(rows, mappedRow{field: field, cells: row})
	}

	for _, mc := range structure.Months {
		items := make(domain.LineItems)
		for _, r := range rows {
			cell := ""
			if mc.Column < len(r.cells) {
				cell = r.cells[mc.Column]
			}
			amount := ParseAmount(cell)
			if amount.IsZero() {
				continue
			}
			// a later row for the same field replaces the earlier value
			items[r.field] = amount
		}
		if !items.HasNonZero() {
			continue
		}
		out.Records = append(out.Records, AssembledRecord{
			ClinicName: structure.ClinicName,
			Year:       mc.Year,
			Month:      mc.Month,
			LineItems:  items,
		})
	}
	return out, nil
}
