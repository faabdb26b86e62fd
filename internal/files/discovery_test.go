package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscovery_Find(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.XLSX", "notes.txt", "c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "nested.csv"), 0o755))

	explicit := filepath.Join(t.TempDir(), "explicit.dat")
	require.NoError(t, os.WriteFile(explicit, []byte("xyz"), 0o644))

	found, err := NewDiscovery(".csv", ".xlsx").Find(dir, explicit)
	require.NoError(t, err)

	var names []string
	for _, f := range found {
		names = append(names, f.Name)
	}
	assert.Equal(t, []string{"a.XLSX", "b.csv", "explicit.dat"}, names)
	assert.Equal(t, int64(3), found[2].Size)
}

func TestDiscovery_MissingPath(t *testing.T) {
	_, err := NewDiscovery(".csv").Find(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
