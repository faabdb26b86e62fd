package exporter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/gocarina/gocsv"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/dataprocessing"
	"clinicledger/pkg/contracts/domain"
)

func sampleRecords() []dataprocessing.AssembledRecord {
	return []dataprocessing.AssembledRecord{
		{ClinicName: "Katy", Year: 2024, Month: 2, LineItems: domain.LineItems{
			domain.PracticeIncome: decimal.NewFromInt(900),
		}},
		{ClinicName: "Katy", Year: 2024, Month: 1, LineItems: domain.LineItems{
			domain.RentExpense:    decimal.NewFromInt(300),
			domain.PracticeIncome: decimal.RequireFromString("1200.5"),
			domain.Travel:         decimal.Zero,
		}},
	}
}

func TestRowsOrdering(t *testing.T) {
	rows := Rows(sampleRecords(), false)
	require.Len(t, rows, 3)

	assert.Equal(t, 1, rows[0].Month)
	assert.Equal(t, string(domain.PracticeIncome), rows[0].Field)
	assert.Equal(t, "1200.50", rows[0].Amount)
	assert.Equal(t, "44500 · Practice Income", rows[0].Label)
	assert.Equal(t, string(domain.RentExpense), rows[1].Field)
	assert.Equal(t, 2, rows[2].Month)
}

func TestRowsWithTotals(t *testing.T) {
	rows := Rows(sampleRecords()[1:], true)
	require.Len(t, rows, 8)

	last := rows[len(rows)-1]
	assert.Equal(t, "total", last.Group)
	assert.Equal(t, "netIncome", last.Field)
	assert.Equal(t, "900.50", last.Amount)
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleRecords(), Options{BOMPrefix: true}))
	require.True(t, bytes.HasPrefix(buf.Bytes(), utf8BOM))

	body := strings.TrimPrefix(buf.String(), string(utf8BOM))
	assert.True(t, strings.HasPrefix(body, "clinic,year,month,group,field,label,amount\n"))

	var decoded []Row
	require.NoError(t, gocsv.UnmarshalString(body, &decoded))
	assert.Len(t, decoded, 3)
	assert.Equal(t, "Katy", decoded[2].Clinic)
}

func TestWriteCSVEmpty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, nil, Options{}))
	assert.Equal(t, "clinic,year,month,group,field,label,amount\n", buf.String())
}
