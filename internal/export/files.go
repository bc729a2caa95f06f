package export

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Files manages previously exported datasets on disk.
type Files struct {
	dataDir string
}

// NewFiles creates a Files manager over the export directory.
func NewFiles(dataDir string) *Files {
	if dataDir == "" {
		dataDir = "data/processed"
	}
	return &Files{dataDir: dataDir}
}

// Find returns the newest export for a scrape id in the given format.
func (f *Files) Find(scrapeID, format string) (string, error) {
	pattern := filepath.Join(f.dataDir, "scrape_"+scrapeID+"_*."+format)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", eris.Wrapf(err, "export: glob %s", pattern)
	}
	if len(matches) == 0 {
		return "", eris.Errorf("export: no %s file for scrape %s", format, scrapeID)
	}
	// Timestamped names sort chronologically.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

// Delete removes all exports and the metadata sidecar for a scrape id.
// Returns the number of files removed.
func (f *Files) Delete(scrapeID string) (int, error) {
	matches, err := filepath.Glob(filepath.Join(f.dataDir, "scrape_"+scrapeID+"_*"))
	if err != nil {
		return 0, eris.Wrap(err, "export: glob")
	}
	metaPath := filepath.Join(f.dataDir, scrapeID+"_metadata.json")
	if _, serr := os.Stat(metaPath); serr == nil {
		matches = append(matches, metaPath)
	}

	removed := 0
	for _, path := range matches {
		if err := os.Remove(path); err != nil {
			return removed, eris.Wrapf(err, "export: remove %s", path)
		}
		removed++
	}
	return removed, nil
}

// History returns metadata for all exports, newest first.
func (f *Files) History() ([]Metadata, error) {
	matches, err := filepath.Glob(filepath.Join(f.dataDir, "*_metadata.json"))
	if err != nil {
		return nil, eris.Wrap(err, "export: glob metadata")
	}

	var out []Metadata
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrapf(err, "export: read %s", path)
		}
		var meta Metadata
		if err := json.Unmarshal(data, &meta); err != nil {
			// A corrupt sidecar should not hide the rest of the history.
			zap.L().Warn("skipping unreadable metadata file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// CleanupOlderThan removes exports whose files are older than the given age.
// Returns the number of files removed.
func (f *Files) CleanupOlderThan(age time.Duration) (int, error) {
	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		return 0, eris.Wrapf(err, "export: read dir %s", f.dataDir)
	}
	cutoff := time.Now().Add(-age)

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "scrape_") && !strings.HasSuffix(name, "_metadata.json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(f.dataDir, entry.Name())
			if err := os.Remove(path); err != nil {
				return removed, eris.Wrapf(err, "export: remove %s", path)
			}
			removed++
		}
	}
	if removed > 0 {
		zap.L().Info("export cleanup", zap.Int("removed", removed))
	}
	return removed, nil
}

// Stats describes the export directory.
type Stats struct {
	FileCount  int   `json:"file_count"`
	TotalBytes int64 `json:"total_bytes"`
}

// Stats totals the files in the export directory.
func (f *Files) Stats() (Stats, error) {
	entries, err := os.ReadDir(f.dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, eris.Wrapf(err, "export: read dir %s", f.dataDir)
	}
	var st Stats
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		st.FileCount++
		st.TotalBytes += info.Size()
	}
	return st, nil
}
