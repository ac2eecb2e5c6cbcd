package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ReportStore keeps audit reports on disk under a base directory.
type ReportStore struct {
	baseDir string
}

// NewReportStore ensures the base directory exists and returns a handle.
func NewReportStore(baseDir string) (*ReportStore, error) {
	if baseDir == "" {
		baseDir = "./reports"
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create reports directory: %w", err)
	}
	return &ReportStore{baseDir: baseDir}, nil
}

// Create opens name for writing, truncating an existing report. Relative
// names resolve under the base directory; absolute ones are used as given.
func (s *ReportStore) Create(name string) (io.WriteCloser, string, error) {
	path := s.Path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, "", fmt.Errorf("prepare report directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, "", fmt.Errorf("create report file: %w", err)
	}
	return file, path, nil
}

// Prune removes reports last written before now-ttl and returns their
// names relative to the base directory. keep is never removed.
func (s *ReportStore) Prune(ttl time.Duration, now time.Time, keep string) ([]string, error) {
	if ttl <= 0 {
		return nil, nil
	}
	cutoff := now.Add(-ttl)
	keepPath := filepath.Clean(keep)
	removed := make([]string, 0)
	err := filepath.WalkDir(s.baseDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Clean(path) == keepPath {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		rel, err := filepath.Rel(s.baseDir, path)
		if err != nil {
			rel = path
		}
		removed = append(removed, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("prune reports: %w", err)
	}
	return removed, nil
}

// Path resolves name against the base directory.
func (s *ReportStore) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.baseDir, name)
}
