package autoscan

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"contentdir/internal/cds"
	"contentdir/internal/contentmgr"
	"contentdir/internal/storage"
)

func writeFile(path string) error {
	return os.WriteFile(path, []byte("data"), 0o644)
}

type fakeEvent struct {
	wd   int
	mask uint32
	name string
}

type fakeNotifier struct {
	mu      sync.Mutex
	nextWd  int
	events  chan fakeEvent
	stopped bool
}

// newFakeNotifier hands out wds from 101 upward so they never collide with
// the small wds tests register by hand in e.wds.
func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{nextWd: 100, events: make(chan fakeEvent, 16)}
}

func (f *fakeNotifier) AddWatch(path string, mask uint32) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextWd++
	return f.nextWd, nil
}

func (f *fakeNotifier) RemoveWatch(wd int) error { return nil }

func (f *fakeNotifier) NextEvent() (int, uint32, string, error) {
	e, ok := <-f.events
	if !ok {
		return 0, 0, "", errors.New("stopped")
	}
	return e.wd, e.mask, e.name, nil
}

func (f *fakeNotifier) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

var _ cds.FsNotifier = (*fakeNotifier)(nil)

type recordedCall struct {
	kind string
	path string
}

type fakeRescanner struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (r *fakeRescanner) RescanDirectory(ctx context.Context, adir *cds.AutoscanDirectory, containerID int32, location string, cancellable bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{"rescan", location})
	return nil
}

func (r *fakeRescanner) AddFile(ctx context.Context, path, rootPath string, setting contentmgr.AutoScanSetting, async, lowPriority, cancellable bool) (int32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{"add", path})
	return 42, nil
}

func (r *fakeRescanner) RemoveObject(ctx context.Context, adir *cds.AutoscanDirectory, id int32, rescanResource bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, recordedCall{"remove", ""})
	return nil
}

func (r *fakeRescanner) EnsurePathExistence(ctx context.Context, path string) (int32, error) {
	return cds.FSRootID, nil
}

func (r *fakeRescanner) snapshot() []recordedCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]recordedCall(nil), r.calls...)
}

func newTestEngine(t *testing.T, notifier cds.FsNotifier) (*Engine, *fakeRescanner, cds.Storage) {
	t.Helper()
	db, err := storage.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mgr := &fakeRescanner{}
	e := New(db, mgr, notifier, cds.NewNopLogger(), cds.RealClock{})
	return e, mgr, db
}

func TestTimedScanFiresAfterInterval(t *testing.T) {
	e, mgr, _ := newTestEngine(t, nil)
	defer e.Shutdown()

	adir := &cds.AutoscanDirectory{ID: "a1", ScanMode: cds.ScanTimed, Location: "/music", Interval: 20 * time.Millisecond}
	if err := e.Register(context.Background(), adir); err != nil {
		t.Fatalf("Register: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(mgr.snapshot()) > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	calls := mgr.snapshot()
	if len(calls) == 0 {
		t.Fatal("expected timed scan to fire at least once")
	}
	if calls[0].kind != "rescan" || calls[0].path != "/music" {
		t.Fatalf("unexpected call: %+v", calls[0])
	}
}

func TestAppropriateAutoscanRequiresPathComponentBoundary(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeNotifier())
	defer e.Shutdown()

	shortAdir := &cds.AutoscanDirectory{ID: "short", Location: "/foo"}
	wdObj := NewWd("/foo", 1, -1)
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: shortAdir})

	if got := e.appropriateAutoscanForPath(wdObj, "/foobar/x.mp3"); got != nil {
		t.Fatalf("expected no match for /foobar under /foo watch, got %+v", got)
	}
	if got := e.appropriateAutoscanForPath(wdObj, "/foo/x.mp3"); got == nil {
		t.Fatal("expected a match for /foo/x.mp3 under /foo watch")
	}
}

func TestAppropriateAutoscanPicksLongestPrefix(t *testing.T) {
	e, _, _ := newTestEngine(t, newFakeNotifier())
	defer e.Shutdown()

	outer := &cds.AutoscanDirectory{ID: "outer", Location: "/media"}
	inner := &cds.AutoscanDirectory{ID: "inner", Location: "/media/music"}
	wdObj := NewWd("/media/music", 1, -1)
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: outer})
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: inner})

	got := e.appropriateAutoscanForPath(wdObj, "/media/music/track.mp3")
	if got == nil || got.ID != "inner" {
		t.Fatalf("expected longest-prefix match 'inner', got %+v", got)
	}
}

func TestHandleEventMovedFromDeletesObjectWithoutCookieMatching(t *testing.T) {
	db, err := storage.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	defer db.Close()

	h := cds.Header{ID: cds.UnassignedID, ParentID: cds.FSRootID, RefID: cds.UnassignedID,
		Title: "track", UpnpClass: "object.item", Location: "/music/track.mp3", Auxdata: map[string]string{}}
	item := &cds.Item{Header: h, MimeType: "audio/mpeg"}
	if _, err := db.Insert(context.Background(), item); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	mgr := &fakeRescanner{}
	notifier := newFakeNotifier()
	e := New(db, mgr, notifier, cds.NewNopLogger(), cds.RealClock{})
	defer e.Shutdown()

	adir := &cds.AutoscanDirectory{ID: "a1", Location: "/music"}
	wdObj := NewWd("/music", 1, -1)
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir})
	e.mu.Lock()
	e.wds[1] = wdObj
	e.mu.Unlock()

	e.handleEvent(context.Background(), 1, MaskMovedFrom, "track.mp3")

	found := false
	for _, c := range mgr.snapshot() {
		if c.kind == "remove" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected MOVED_FROM to trigger RemoveObject")
	}
}

func TestHandleEventCloseWriteAddsFile(t *testing.T) {
	e, mgr, _ := newTestEngine(t, newFakeNotifier())
	defer e.Shutdown()

	adir := &cds.AutoscanDirectory{ID: "a1", Location: "/tmp"}
	wdObj := NewWd("/tmp", 1, -1)
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir})
	e.mu.Lock()
	e.wds[1] = wdObj
	e.mu.Unlock()

	dir := t.TempDir()
	adir.Location = dir
	wdObj.Path = dir

	p := dir + "/new.mp3"
	if err := writeFile(p); err != nil {
		t.Fatalf("writeFile: %v", err)
	}

	e.handleEvent(context.Background(), 1, MaskCloseWrite, "new.mp3")

	found := false
	for _, c := range mgr.snapshot() {
		if c.kind == "add" && c.path == p {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected CLOSE_WRITE to trigger AddFile, calls=%+v", mgr.snapshot())
	}
}

func TestPersistentUnmountDetachesAndRediscoversOnRemount(t *testing.T) {
	e, mgr, _ := newTestEngine(t, newFakeNotifier())
	defer e.Shutdown()

	dir := t.TempDir()
	adir := &cds.AutoscanDirectory{ID: "p1", Location: dir, Persistent: true}

	wdObj := NewWd(dir, 1, -1)
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir})
	e.mu.Lock()
	e.wds[1] = wdObj
	e.mu.Unlock()

	e.handleEvent(context.Background(), 1, MaskDeleteSelf, "")

	if adir.LastScanError == "" {
		t.Fatal("expected LastScanError to record the detached state")
	}
	e.mu.Lock()
	_, stillTracked := e.wds[1]
	e.mu.Unlock()
	if stillTracked {
		t.Fatal("expected the torn-down watch to be forgotten")
	}

	e.mu.Lock()
	var nonexisting *Wd
	var nwd int
	for wd, w := range e.wds {
		if len(w.Watches) == 1 {
			if wa, ok := w.Watches[0].(*WatchAutoscan); ok && len(wa.NonexistingPath) != 0 {
				nonexisting = w
				nwd = wd
			}
		}
	}
	e.mu.Unlock()
	if nonexisting == nil {
		t.Fatal("expected a non-existing-path watch chain to be armed")
	}

	name := ""
	e.mu.Lock()
	if wa, ok := nonexisting.Watches[0].(*WatchAutoscan); ok {
		name = wa.NonexistingPath[0]
	}
	e.mu.Unlock()

	e.handleEvent(context.Background(), nwd, MaskCreate, name)

	if adir.LastScanError != "" {
		t.Fatalf("expected LastScanError to clear on rediscovery, got %q", adir.LastScanError)
	}
	rescanned := false
	for _, c := range mgr.snapshot() {
		if c.kind == "rescan" && c.path == dir {
			rescanned = true
		}
	}
	if !rescanned {
		t.Fatalf("expected rediscovery to trigger a rescan of %s, calls=%+v", dir, mgr.snapshot())
	}
}

func TestCheckMoveWatchesRewatchesWhenTargetStillExists(t *testing.T) {
	e, mgr, _ := newTestEngine(t, newFakeNotifier())
	defer e.Shutdown()

	root := t.TempDir()
	adir := &cds.AutoscanDirectory{ID: "m1", Location: root, Recursive: true, Persistent: false}

	childWdObj := NewWd(root, 2, -1)
	childWdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir})
	ancestorWdObj := NewWd(filepath.Dir(root), 1, -1)
	ancestorWdObj.AddWatch(&WatchMove{RemoveWd: 2})

	e.mu.Lock()
	e.wds[2] = childWdObj
	e.wds[1] = ancestorWdObj
	e.mu.Unlock()

	e.checkMoveWatches(context.Background(), 1, ancestorWdObj)

	rescanned := false
	for _, c := range mgr.snapshot() {
		if c.kind == "rescan" && c.path == root {
			rescanned = true
		}
	}
	if !rescanned {
		t.Fatalf("expected move-tracking rediscovery to rescan %s, calls=%+v", root, mgr.snapshot())
	}

	e.mu.Lock()
	_, movePruned := e.wds[1]
	e.mu.Unlock()
	if movePruned {
		var hasMove bool
		for _, w := range ancestorWdObj.Watches {
			if mv, ok := w.(*WatchMove); ok && mv.RemoveWd == 2 {
				hasMove = true
			}
		}
		if hasMove {
			t.Fatal("expected the fired WatchMove entry to be consumed")
		}
	}
}

func TestCheckMoveWatchesCascadeDeletesWhenTargetGone(t *testing.T) {
	db, err := storage.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	defer db.Close()

	missing := t.TempDir() + "/gone.mp3"
	h := cds.Header{ID: cds.UnassignedID, ParentID: cds.FSRootID, RefID: cds.UnassignedID,
		Title: "gone", UpnpClass: "object.item", Location: missing, Auxdata: map[string]string{}}
	item := &cds.Item{Header: h, MimeType: "audio/mpeg"}
	if _, err := db.Insert(context.Background(), item); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	mgr := &fakeRescanner{}
	notifier := newFakeNotifier()
	e := New(db, mgr, notifier, cds.NewNopLogger(), cds.RealClock{})
	defer e.Shutdown()

	adir := &cds.AutoscanDirectory{ID: "m2", Location: missing, Persistent: false}
	childWdObj := NewWd(missing, 2, -1)
	childWdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir})
	ancestorWdObj := NewWd(filepath.Dir(missing), 1, -1)
	ancestorWdObj.AddWatch(&WatchMove{RemoveWd: 2})

	e.mu.Lock()
	e.wds[2] = childWdObj
	e.wds[1] = ancestorWdObj
	e.mu.Unlock()

	e.checkMoveWatches(context.Background(), 1, ancestorWdObj)

	removed := false
	for _, c := range mgr.snapshot() {
		if c.kind == "remove" {
			removed = true
		}
	}
	if !removed {
		t.Fatal("expected move-tracking to cascade-delete an object whose path no longer resolves")
	}
}
