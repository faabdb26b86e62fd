package dataprocessing

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"

	apperrors "clinicledger/internal/errors"
	"clinicledger/internal/shared/testutil"
)

func TestReadGrid_CSVWithBOM(t *testing.T) {
	content := append([]byte{0xEF, 0xBB, 0xBF}, testutil.NewStatement("APP - Katy", "Jan 24").CSV()...)

	grid, err := ReadGrid("katy.csv", content)
	require.NoError(t, err)
	assert.Equal(t, "APP - Katy", grid[0][0])
	assert.Equal(t, "Jan 24", grid[3][1])
}

func TestReadGrid_Windows1252(t *testing.T) {
	utf8CSV := testutil.NewStatement("APP - Katy", "Jan 24").Row("44500 · Practice Income", "12").CSV()
	encoded, err := charmap.Windows1252.NewEncoder().Bytes(utf8CSV)
	require.NoError(t, err)
	require.NotEqual(t, utf8CSV, encoded)

	grid, err := ReadGrid("katy.csv", encoded)
	require.NoError(t, err)
	assert.Equal(t, "44500 · Practice Income", grid[4][0])
}

func TestReadGrid_RaggedRows(t *testing.T) {
	grid, err := ReadGrid("ragged.csv", []byte("a\nb,c,d\n\"e\"\"\",f\n"))
	require.NoError(t, err)
	require.Len(t, grid, 3)
	assert.Len(t, grid[1], 3)
}

func TestReadGrid_XLSX(t *testing.T) {
	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	for r, row := range testutil.NewStatement("APP - Sugar Land", "Mar 24").
		Row("44500 · Practice Income", "300").Grid() {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			require.NoError(t, err)
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))

	grid, err := ReadGrid("sugarland.xlsx", buf.Bytes())
	require.NoError(t, err)

	parsed, err := NewAssembler(DefaultLayout()).Assemble("sugarland.xlsx", grid)
	require.NoError(t, err)
	require.Len(t, parsed.Records, 1)
	assert.Equal(t, "Sugar Land", parsed.ClinicName)
	assert.Equal(t, 3, parsed.Records[0].Month)
}

func TestReadGrid_InvalidWorkbook(t *testing.T) {
	_, err := ReadGrid("broken.xlsx", []byte("not a zip"))
	require.Error(t, err)
	assert.True(t, apperrors.IsFormat(err))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, ContentTypeXLSX, ContentTypeFor("A.XLSX"))
	assert.Equal(t, ContentTypeCSV, ContentTypeFor("a.csv"))
	assert.True(t, IsSupported("a.csv"))
	assert.False(t, IsSupported("a.pdf"))
}
