package staging

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"ledgermark/internal/logging"
)

func makeSessionDir(t *testing.T, root string, age time.Duration) (string, string) {
	t.Helper()
	id := uuid.NewString()
	dir := filepath.Join(root, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("create dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "original.png"), []byte("payload"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	if age > 0 {
		old := time.Now().Add(-age)
		if err := os.Chtimes(dir, old, old); err != nil {
			t.Fatalf("set time: %v", err)
		}
	}
	return id, dir
}

func TestListDirectoriesInvalidPaths(t *testing.T) {
	for _, path := range []string{"", "   ", "/nonexistent/path/12345"} {
		dirs, err := ListDirectories(path)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", path, err)
		}
		if dirs != nil {
			t.Fatalf("expected nil for %q, got %v", path, dirs)
		}
	}
}

func TestListDirectoriesSkipsNonSessionEntries(t *testing.T) {
	root := t.TempDir()
	id, dir := makeSessionDir(t, root, 0)
	if err := os.Mkdir(filepath.Join(root, "scratch"), 0o755); err != nil {
		t.Fatalf("create scratch: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, uuid.NewString()), []byte("x"), 0o644); err != nil {
		t.Fatalf("create file: %v", err)
	}

	dirs, err := ListDirectories(root)
	if err != nil {
		t.Fatalf("ListDirectories: %v", err)
	}
	if len(dirs) != 1 {
		t.Fatalf("expected 1 directory, got %d: %+v", len(dirs), dirs)
	}
	if dirs[0].SessionID != id || dirs[0].Path != dir {
		t.Fatalf("unexpected dir info: %+v", dirs[0])
	}
	if dirs[0].Size != int64(len("payload")) {
		t.Fatalf("size = %d", dirs[0].Size)
	}
}

func TestOrphanedRespectsActiveAndAge(t *testing.T) {
	now := time.Now()
	dirs := []DirInfo{
		{SessionID: "active", ModTime: now.Add(-48 * time.Hour)},
		{SessionID: "fresh", ModTime: now.Add(-time.Minute)},
		{SessionID: "orphan", ModTime: now.Add(-48 * time.Hour)},
	}
	got := Orphaned(dirs, map[string]struct{}{"active": {}}, time.Hour, now)
	if len(got) != 1 || got[0].SessionID != "orphan" {
		t.Fatalf("orphaned = %+v", got)
	}
	if got := Orphaned(dirs, nil, 0, now); len(got) != 3 {
		t.Fatalf("expected every dir with no active set and zero age, got %d", len(got))
	}
}

func TestCleanOrphanedRemovesUnknownSessions(t *testing.T) {
	root := t.TempDir()
	activeID, activeDir := makeSessionDir(t, root, 2*time.Hour)
	_, orphanDir := makeSessionDir(t, root, 2*time.Hour)
	_, freshDir := makeSessionDir(t, root, 0)

	result := CleanOrphaned(context.Background(), root, map[string]struct{}{activeID: {}}, time.Hour, logging.NewNop())
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected errors: %+v", result.Errors)
	}
	if len(result.Removed) != 1 || result.Removed[0] != orphanDir {
		t.Fatalf("removed = %v, want [%s]", result.Removed, orphanDir)
	}
	if _, err := os.Stat(orphanDir); !os.IsNotExist(err) {
		t.Fatal("orphaned directory should have been removed")
	}
	for _, keep := range []string{activeDir, freshDir} {
		if _, err := os.Stat(keep); err != nil {
			t.Fatalf("%s should still exist: %v", keep, err)
		}
	}
}

func TestCleanOrphanedEmptyDir(t *testing.T) {
	for _, dir := range []string{"", "   "} {
		result := CleanOrphaned(context.Background(), dir, nil, 0, logging.NewNop())
		if len(result.Removed) != 0 || len(result.Errors) != 0 {
			t.Errorf("expected empty result for path %q", dir)
		}
	}
}

func TestCleanOrphanedStopsOnCancel(t *testing.T) {
	root := t.TempDir()
	_, dir := makeSessionDir(t, root, 2*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := CleanOrphaned(ctx, root, nil, time.Hour, nil)
	if len(result.Removed) != 0 || len(result.Errors) != 1 {
		t.Fatalf("result = %+v", result)
	}
	if _, err := os.Stat(dir); err != nil {
		t.Fatalf("directory should survive a cancelled cleanup: %v", err)
	}
}
