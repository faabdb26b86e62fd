// Package dataprocessing turns profit-and-loss exports into assembled monthly records.
//
// # Pipeline
//
// A file moves through four steps:
//
//  1. Reader: CSV (UTF-8 or Windows-1252) or the first sheet of an XLSX workbook becomes a grid of cells.
//  2. Structural parser: the grid yields the clinic name and the ordered month columns.
//  3. Normalizer: each data row label is mapped onto a canonical field of the catalog.
//  4. Assembler: each month column becomes one record of canonical amounts.
//
// Example:
//
//	grid, err := dataprocessing.ReadGrid("Katy.csv", content)
//	if err != nil {
//	    return err
//	}
//	parsed, err := dataprocessing.NewAssembler(dataprocessing.DefaultLayout()).Assemble("Katy.csv", grid)
//
// # Tolerance
//
// Cells never fail to parse: empty, dash and garbage text are zero. Labels that do not map onto
// the catalog are reported as warnings. Only a file that lacks the minimal layout fails, with a
// FORMAT error from internal/errors.
package dataprocessing
