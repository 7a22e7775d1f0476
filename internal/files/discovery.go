package files

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// FileInfo represents information about a discovered input file
type FileInfo struct {
	Path    string
	Name    string
	Size    int64
	ModTime time.Time
}

// Discovery provides input file discovery over an inbox directory
type Discovery struct {
	inboxDir string
}

// NewDiscovery creates a new file discovery instance
func NewDiscovery(inboxDir string) *Discovery {
	return &Discovery{inboxDir: inboxDir}
}

// Find returns the inbox files matching any of the given glob patterns.
// Matches across patterns are deduplicated and sorted by name so that a run
// processes files in a deterministic order.
func (d *Discovery) Find(globs []string) ([]FileInfo, error) {
	seen := make(map[string]FileInfo)

	for _, pattern := range globs {
		matches, err := filepath.Glob(filepath.Join(d.inboxDir, pattern))
		if err != nil {
			return nil, fmt.Errorf("invalid pattern %s: %w", pattern, err)
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil || info.IsDir() {
				continue
			}
			seen[match] = FileInfo{
				Path:    match,
				Name:    filepath.Base(match),
				Size:    info.Size(),
				ModTime: info.ModTime(),
			}
		}
	}

	files := make([]FileInfo, 0, len(seen))
	for _, file := range seen {
		files = append(files, file)
	}
	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})

	return files, nil
}
