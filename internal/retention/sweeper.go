// Package retention removes data files older than the configured
// retention window and prunes the period directories they leave empty.
package retention

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/couchcryptid/atmos-regrid/internal/domain"
)

// Report summarizes one sweep.
type Report struct {
	RemovedFiles   int
	RemovedDirs    int
	ReclaimedBytes int64
}

// Sweeper deletes files whose modification time is older than the
// retention cutoff. Patterns restrict which file names are eligible;
// an empty pattern list matches everything. Files newer than the cutoff
// are never touched, whatever their name.
type Sweeper struct {
	retentionDays int
	patterns      []string
	logger        *slog.Logger
}

// NewSweeper creates a sweeper. retentionDays <= 0 disables sweeping
// entirely; Sweep becomes a no-op.
func NewSweeper(retentionDays int, patterns []string, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		retentionDays: retentionDays,
		patterns:      patterns,
		logger:        logger,
	}
}

// Sweep removes expired files under dir and then prunes directories
// emptied by the removal, deepest first. The root dir itself is never
// removed. Individual removal failures are logged and skipped so one
// stubborn file cannot stall housekeeping.
func (s *Sweeper) Sweep(dir string) Report {
	var report Report
	if s.retentionDays <= 0 {
		return report
	}
	if _, err := os.Stat(dir); err != nil {
		s.logger.Warn("retention sweep skipped, directory missing", "dir", dir)
		return report
	}

	cutoff := domain.Now().AddDate(0, 0, -s.retentionDays)

	var dirs []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.Warn("retention walk error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() {
			if path != dir {
				dirs = append(dirs, path)
			}
			return nil
		}
		if !s.matches(d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if !info.ModTime().Before(cutoff) {
			return nil
		}

		if err := os.Remove(path); err != nil {
			s.logger.Error("remove expired file failed", "path", path, "error", err)
			return nil
		}
		s.logger.Info("removed expired file", "path", path, "age_days", int(domain.Now().Sub(info.ModTime()).Hours()/24))
		report.RemovedFiles++
		report.ReclaimedBytes += info.Size()
		return nil
	})
	if err != nil {
		s.logger.Error("retention sweep aborted", "dir", dir, "error", err)
		return report
	}

	// Deepest directories first so a parent emptied by a child's
	// removal is pruned in the same sweep.
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })
	for _, d := range dirs {
		entries, err := os.ReadDir(d)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(d); err != nil {
			s.logger.Error("remove empty directory failed", "path", d, "error", err)
			continue
		}
		s.logger.Info("removed empty directory", "path", d)
		report.RemovedDirs++
	}
	return report
}

func (s *Sweeper) matches(name string) bool {
	if len(s.patterns) == 0 {
		return true
	}
	for _, p := range s.patterns {
		if ok, err := filepath.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}
