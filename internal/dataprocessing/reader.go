package dataprocessing

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	apperrors "clinicledger/internal/errors"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Supported content types of uploaded exports.
const (
	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// IsSupported reports whether fileName has an extension ReadGrid understands.
func IsSupported(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv", ".txt", ".xlsx", ".xlsm":
		return true
	}
	return false
}

// ContentTypeFor returns the content type recorded for fileName.
func ContentTypeFor(fileName string) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".xlsx", ".xlsm":
		return ContentTypeXLSX
	}
	return ContentTypeCSV
}

// ReadGrid decodes an export into rows of cells. XLSX workbooks are read
// from their first sheet; anything else is treated as CSV.
func ReadGrid(fileName string, content []byte) ([][]string, error) {
	if ContentTypeFor(fileName) == ContentTypeXLSX {
		return readXLSX(fileName, content)
	}
	return readCSV(fileName, content)
}

func readCSV(fileName string, content []byte) ([][]string, error) {
	content = bytes.TrimPrefix(content, utf8BOM)

	var r io.Reader = bytes.NewReader(content)
	if !utf8.Valid(content) {
		r = transform.NewReader(r, charmap.Windows1252.NewDecoder())
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = false

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, apperrors.NewFormatError(fileName, fmt.Sprintf("invalid CSV: %v", err))
	}
	return rows, nil
}

func readXLSX(fileName string, content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, apperrors.NewFormatError(fileName, fmt.Sprintf("invalid workbook: %v", err))
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, apperrors.NewFormatError(fileName, "workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, apperrors.NewFormatError(fileName, fmt.Sprintf("failed to read sheet %q: %v", sheets[0], err))
	}
	return rows, nil
}
