package observers

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harunnryd/voxstream/pkg/errorsx"
)

const (
	timelineSuffix = ".jsonl"
	usageSuffix    = ".usage.json"
)

// isArtifact reports whether name is a timeline trace or usage summary.
// Other files in the directory are never touched.
func isArtifact(name string) bool {
	return strings.HasSuffix(name, timelineSuffix) || strings.HasSuffix(name, usageSuffix)
}

// PurgeArtifacts removes timeline and usage files in dir whose modification
// time is older than maxAge and returns the names it removed. A missing dir
// is not an error.
func PurgeArtifacts(dir string, maxAge time.Duration, log *slog.Logger) ([]string, error) {
	if dir == "" || maxAge <= 0 {
		return nil, nil
	}
	if log == nil {
		log = slog.Default()
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonArtifactIO)
	}
	var removed []string
	var errs error
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() || !isArtifact(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
			errs = errors.Join(errs, err)
			continue
		}
		removed = append(removed, entry.Name())
	}
	if len(removed) > 0 {
		log.Info("artifacts_purged",
			slog.String("dir", dir),
			slog.Int("count", len(removed)),
			slog.Any("files", removed),
			slog.Duration("max_age", maxAge))
	}
	return removed, errorsx.Wrap(errs, errorsx.ReasonArtifactIO)
}
