package staging

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledgermark/internal/logging"
)

// CleanResult contains the outcome of a staging cleanup.
type CleanResult struct {
	Removed []string
	Errors  []CleanupError
}

// CleanupError pairs a directory path with its cleanup error.
type CleanupError struct {
	Path  string
	Error error
}

// DirInfo describes one session staging directory.
type DirInfo struct {
	SessionID string
	Path      string
	ModTime   time.Time
	Size      int64
}

// ListDirectories returns the session directories under stagingDir. Entries
// whose name is not a session id are ignored.
func ListDirectories(stagingDir string) ([]DirInfo, error) {
	stagingDir = strings.TrimSpace(stagingDir)
	if stagingDir == "" {
		return nil, nil
	}

	entries, err := os.ReadDir(stagingDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var dirs []DirInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		id, ok := sessionID(entry.Name())
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		dirPath := filepath.Join(stagingDir, entry.Name())
		size, _ := dirSize(dirPath)
		dirs = append(dirs, DirInfo{
			SessionID: id,
			Path:      dirPath,
			ModTime:   info.ModTime(),
			Size:      size,
		})
	}
	return dirs, nil
}

// Orphaned filters dirs to those whose session is not in active and whose
// last change is older than minAge.
func Orphaned(dirs []DirInfo, active map[string]struct{}, minAge time.Duration, now time.Time) []DirInfo {
	cutoff := now.Add(-minAge)
	var orphans []DirInfo
	for _, dir := range dirs {
		if _, ok := active[dir.SessionID]; ok {
			continue
		}
		if dir.ModTime.After(cutoff) {
			continue
		}
		orphans = append(orphans, dir)
	}
	return orphans
}

// CleanOrphaned removes staging directories that no active session owns.
// Directories changed within minAge are kept so a session being created
// concurrently does not lose its artifacts.
func CleanOrphaned(ctx context.Context, stagingDir string, active map[string]struct{}, minAge time.Duration, logger *slog.Logger) CleanResult {
	result := CleanResult{}

	dirs, err := ListDirectories(stagingDir)
	if err != nil {
		result.Errors = append(result.Errors, CleanupError{Path: stagingDir, Error: err})
		return result
	}

	for _, dir := range Orphaned(dirs, active, minAge, time.Now()) {
		if err := ctx.Err(); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			return result
		}
		if err := os.RemoveAll(dir.Path); err != nil {
			result.Errors = append(result.Errors, CleanupError{Path: dir.Path, Error: err})
			if logger != nil {
				logger.Warn("failed to remove orphaned staging directory",
					logging.String("path", dir.Path),
					logging.Error(err),
					logging.String(logging.FieldEventType, "staging_cleanup_failed"),
					logging.String(logging.FieldErrorHint, "check staging_dir permissions"),
					logging.String(logging.FieldImpact, "disk space not reclaimed"),
				)
			}
			continue
		}
		result.Removed = append(result.Removed, dir.Path)
		if logger != nil {
			logger.Info("removed orphaned staging directory",
				logging.String("path", dir.Path),
				logging.String(logging.FieldSessionID, dir.SessionID),
				logging.Duration("age", time.Since(dir.ModTime)),
				logging.String(logging.FieldEventType, "staging_cleanup"),
			)
		}
	}
	return result
}

func sessionID(name string) (string, bool) {
	id, err := uuid.Parse(name)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// dirSize calculates the total size of a directory recursively.
func dirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // best effort
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}
