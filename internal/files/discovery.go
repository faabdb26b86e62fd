package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo represents information about a discovered file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery finds exports on the local filesystem
type Discovery struct {
	extensions map[string]bool
}

// NewDiscovery matches files whose extension is one of exts, case-insensitively.
func NewDiscovery(exts ...string) *Discovery {
	d := &Discovery{extensions: make(map[string]bool, len(exts))}
	for _, ext := range exts {
		d.extensions[strings.ToLower(ext)] = true
	}
	return d
}

// Find expands each argument: directories are listed (non-recursive) and plain
// files are taken as given. Results are sorted by name.
func (d *Discovery) Find(paths ...string) ([]FileInfo, error) {
	var found []FileInfo
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", p, err)
		}
		if !info.IsDir() {
			found = append(found, FileInfo{Path: p, Name: info.Name(), Size: info.Size(), ModTime: info.ModTime()})
			continue
		}

		entries, err := os.ReadDir(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read directory %s: %w", p, err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !d.extensions[strings.ToLower(filepath.Ext(entry.Name()))] {
				continue
			}
			fi, err := entry.Info()
			if err != nil {
				continue
			}
			found = append(found, FileInfo{
				Path:    filepath.Join(p, entry.Name()),
				Name:    entry.Name(),
				Size:    fi.Size(),
				ModTime: fi.ModTime(),
			})
		}
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Name < found[j].Name })
	return found, nil
}
