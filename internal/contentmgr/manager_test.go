package contentmgr

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"contentdir/internal/cds"
	"contentdir/internal/fs"
	"contentdir/internal/storage"
	"contentdir/internal/testutil"
)

func newTestManager(t *testing.T) (*ContentManager, cds.Storage) {
	t.Helper()
	db, err := storage.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mgr := New(db, nil, nil, nil, nil, cds.NewNopLogger(), cds.RealClock{}, nil)
	return mgr, db
}

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return p
}

func TestAddFileCreatesPhysicalItemUnderEnsuredParent(t *testing.T) {
	mgr, store := newTestManager(t)
	dir := t.TempDir()
	p := writeTempFile(t, dir, "track.mp3", "fake audio")

	id, err := mgr.AddFile(context.Background(), p, dir, AutoScanSetting{}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if id == cds.UnassignedID {
		t.Fatal("expected assigned id")
	}

	obj, err := store.Load(context.Background(), id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if obj.Head().Location != p {
		t.Fatalf("location = %q, want %q", obj.Head().Location, p)
	}
	if obj.Head().Title != "track" {
		t.Fatalf("title = %q, want %q", obj.Head().Title, "track")
	}
	if obj.Head().ParentID == cds.UnassignedID {
		t.Fatal("expected a real parent container")
	}
}

func TestAddFileIsIdempotentWhenMtimeUnchanged(t *testing.T) {
	mgr, store := newTestManager(t)
	dir := t.TempDir()
	p := writeTempFile(t, dir, "track.mp3", "fake audio")
	ctx := context.Background()

	id1, err := mgr.AddFile(ctx, p, dir, AutoScanSetting{}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile #1: %v", err)
	}
	id2, err := mgr.AddFile(ctx, p, dir, AutoScanSetting{}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile #2: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("re-import produced a new id: %d != %d", id1, id2)
	}

	objs, count, err := store.Browse(ctx, cds.FSRootID, 0, 0, nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	_ = objs
	if count != 1 {
		t.Fatalf("expected 1 child under fs root, got %d", count)
	}
}

func TestAddFileBumpsUtimeOnlyWhenMtimeUnchanged(t *testing.T) {
	db, err := storage.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := testutil.FixedClock()
	mgr := New(db, nil, nil, nil, nil, cds.NewNopLogger(), clock, nil)

	dir := t.TempDir()
	p := writeTempFile(t, dir, "track.mp3", "fake audio")
	ctx := context.Background()

	id, err := mgr.AddFile(ctx, p, dir, AutoScanSetting{}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile #1: %v", err)
	}
	obj, err := db.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	firstUtime := obj.Head().Utime
	if firstUtime != clock.Now().Unix() {
		t.Fatalf("utime = %d, want %d", firstUtime, clock.Now().Unix())
	}

	clock.Advance(time.Hour)
	if _, err := mgr.AddFile(ctx, p, dir, AutoScanSetting{}, false, false, false); err != nil {
		t.Fatalf("AddFile #2: %v", err)
	}
	obj, err = db.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if obj.Head().Utime != clock.Now().Unix() {
		t.Fatalf("utime after re-import = %d, want bumped to %d", obj.Head().Utime, clock.Now().Unix())
	}
}

func TestEnsurePathExistenceCreatesNestedContainers(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()

	id, err := mgr.EnsurePathExistence(ctx, "/music/rock/90s")
	if err != nil {
		t.Fatalf("EnsurePathExistence: %v", err)
	}
	if id == cds.UnassignedID {
		t.Fatal("expected assigned id")
	}
	obj, err := store.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if obj.Head().Title != "90s" || !obj.IsContainer() {
		t.Fatalf("unexpected terminal container: %+v", obj.Head())
	}

	id2, err := mgr.EnsurePathExistence(ctx, "/music/rock/90s")
	if err != nil {
		t.Fatalf("EnsurePathExistence (repeat): %v", err)
	}
	if id2 != id {
		t.Fatalf("repeat call created a duplicate: %d != %d", id2, id)
	}
}

func TestAddFileRecursesIntoDirectory(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeTempFile(t, dir, "a.mp3", "a")
	writeTempFile(t, dir, "b.mp3", "b")

	_, err := mgr.AddFile(ctx, dir, dir, AutoScanSetting{Recursive: true}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}

	containerID, err := mgr.EnsurePathExistence(ctx, dir)
	if err != nil {
		t.Fatalf("EnsurePathExistence: %v", err)
	}
	_, count, err := store.Browse(ctx, containerID, 0, 0, nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 imported files, got %d", count)
	}
}

func TestAddFileSkipsHiddenUnlessEnabled(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	writeTempFile(t, dir, ".hidden.mp3", "h")

	_, err := mgr.AddFile(ctx, dir, dir, AutoScanSetting{Recursive: true, Hidden: false}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	containerID, err := mgr.EnsurePathExistence(ctx, dir)
	if err != nil {
		t.Fatalf("EnsurePathExistence: %v", err)
	}
	_, count, err := store.Browse(ctx, containerID, 0, 0, nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected hidden file to be skipped, got %d children", count)
	}
}

func TestAddFileSkipsIgnoredPatterns(t *testing.T) {
	mgr, store := newTestManager(t)
	mgr.SetIgnoreMatcher(fs.NewIgnoreMatcher([]string{"*.tmp"}))
	ctx := context.Background()
	dir := t.TempDir()
	writeTempFile(t, dir, "track.mp3", "a")
	writeTempFile(t, dir, "cache.tmp", "b")

	_, err := mgr.AddFile(ctx, dir, dir, AutoScanSetting{Recursive: true}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	containerID, err := mgr.EnsurePathExistence(ctx, dir)
	if err != nil {
		t.Fatalf("EnsurePathExistence: %v", err)
	}
	_, count, err := store.Browse(ctx, containerID, 0, 0, nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the .tmp file to be ignored, got %d children", count)
	}
}

func TestRemoveObjectDeletesSubtree(t *testing.T) {
	mgr, store := newTestManager(t)
	ctx := context.Background()
	dir := t.TempDir()
	p := writeTempFile(t, dir, "track.mp3", "fake audio")

	id, err := mgr.AddFile(ctx, p, dir, AutoScanSetting{}, false, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if err := mgr.RemoveObject(ctx, nil, id, false); err != nil {
		t.Fatalf("RemoveObject: %v", err)
	}
	if _, err := store.Load(ctx, id); err == nil {
		t.Fatal("expected object to be gone after RemoveObject")
	}
}

func TestAddFileAsyncEnqueuesOnPool(t *testing.T) {
	mgr, store := newTestManager(t)
	pool := NewTaskPool(context.Background(), 1)
	mgr.pool = pool
	defer pool.Shutdown()

	dir := t.TempDir()
	p := writeTempFile(t, dir, "track.mp3", "fake audio")

	id, err := mgr.AddFile(context.Background(), p, dir, AutoScanSetting{}, true, false, false)
	if err != nil {
		t.Fatalf("AddFile: %v", err)
	}
	if id != cds.UnassignedID {
		t.Fatalf("async AddFile should return unassigned id immediately, got %d", id)
	}

	deadline := time.Now().Add(2 * time.Second)
	var found int32 = cds.UnassignedID
	for time.Now().Before(deadline) {
		found, err = store.FindByPath(context.Background(), p, true)
		if err != nil {
			t.Fatalf("FindByPath: %v", err)
		}
		if found != cds.UnassignedID {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if found == cds.UnassignedID {
		t.Fatal("expected the async task to have imported the file")
	}
}
