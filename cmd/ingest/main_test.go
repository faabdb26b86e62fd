package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinicledger/internal/shared/testutil"
)

func writeFile(t *testing.T, dir, name string, content []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), content, 0o644))
}

func TestRunDryRun(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "katy.csv", testutil.NewStatement("American Pain Partners LLC - Katy", "Jan 24", "Feb 24").
		Row("44500 · Practice Income", "1,200.00", "900").
		Row("Mystery Line", "5", "5").
		CSV())
	writeFile(t, dir, "notes.txt", []byte("ignored"))

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-dry-run", dir}, &stdout, &stderr)

	assert.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "clinic,year,month,group,field,label,amount")
	assert.Contains(t, stdout.String(), "Katy,2024,1,income,practiceIncome,44500 · Practice Income,1200.00")
	assert.Contains(t, stdout.String(), "Katy,2024,2,income,practiceIncome,44500 · Practice Income,900.00")
	assert.Contains(t, stderr.String(), "katy.csv: 1 unmapped labels")
}

func TestRunDryRunReportsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "short.csv", testutil.ShortCSV())

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-dry-run", dir}, &stdout, &stderr)

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "short.csv")
}

func TestRunUsage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, run(context.Background(), nil, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "usage")

	assert.Equal(t, 1, run(context.Background(), []string{filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr))
}
