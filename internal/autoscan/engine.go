package autoscan

import (
	"context"
	"sync"

	"contentdir/internal/cds"
	"contentdir/internal/contentmgr"
)

// Rescanner is the slice of the content manager the autoscan engine drives.
// Narrowed to an interface so tests can substitute a recording double
// without standing up a full ContentManager.
type Rescanner interface {
	RescanDirectory(ctx context.Context, adir *cds.AutoscanDirectory, containerID int32, location string, cancellable bool) error
	AddFile(ctx context.Context, path, rootPath string, setting contentmgr.AutoScanSetting, async, lowPriority, cancellable bool) (int32, error)
	RemoveObject(ctx context.Context, adir *cds.AutoscanDirectory, id int32, rescanResource bool) error
	EnsurePathExistence(ctx context.Context, path string) (int32, error)
}

// Engine owns every AutoscanDirectory's runtime state: the timed scheduler
// and, when a notifier is supplied, the event-driven watcher (spec §4.6).
type Engine struct {
	storage  cds.Storage
	mgr      Rescanner
	notifier cds.FsNotifier
	log      cds.Logger
	clock    cds.Clock

	mu    sync.Mutex
	dirs  map[string]*cds.AutoscanDirectory
	wds   map[int]*Wd
	timed map[string]*timedScan

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New returns an Engine. notifier may be nil — on platforms without a
// kernel watch facility the engine runs timed-only, exactly as spec §4.6
// describes.
func New(storage cds.Storage, mgr Rescanner, notifier cds.FsNotifier, log cds.Logger, clock cds.Clock) *Engine {
	if log == nil {
		log = cds.NewNopLogger()
	}
	if clock == nil {
		clock = cds.RealClock{}
	}
	return &Engine{
		storage: storage, mgr: mgr, notifier: notifier, log: log, clock: clock,
		dirs: map[string]*cds.AutoscanDirectory{}, wds: map[int]*Wd{},
		timed: map[string]*timedScan{}, stopCh: make(chan struct{}),
	}
}

// Start loads every persisted AutoscanDirectory and arms its scanner.
func (e *Engine) Start(ctx context.Context) error {
	adirs, err := e.storage.ListAutoscans(ctx)
	if err != nil {
		return err
	}
	for _, adir := range adirs {
		if err := e.Register(ctx, adir); err != nil {
			e.log.Warn("failed to arm autoscan directory", "location", adir.Location, "error", err)
		}
	}
	if e.notifier != nil {
		e.wg.Add(1)
		go e.inotifyLoop()
	}
	return nil
}

// Register arms adir's scanner (timed or inotify) and, for inotify, kicks
// off an immediate non-recursive-aware rescan per the original watcher's
// monitor() behavior.
func (e *Engine) Register(ctx context.Context, adir *cds.AutoscanDirectory) error {
	e.mu.Lock()
	e.dirs[adir.ID] = adir
	e.mu.Unlock()

	switch adir.ScanMode {
	case cds.ScanTimed:
		e.armTimed(ctx, adir)
	case cds.ScanInotify:
		if e.notifier == nil {
			e.log.Warn("inotify autoscan requested but no notifier configured, falling back to timed", "location", adir.Location)
			e.armTimed(ctx, adir)
			return nil
		}
		if err := e.monitorRecursive(adir.Location, adir, true); err != nil {
			return err
		}
		return e.mgr.RescanDirectory(ctx, adir, adir.ObjectID, adir.Location, false)
	}
	return nil
}

// Unregister disarms adir. Timed watches are simply removed; inotify
// watches are unmonitored unless adir is persistent (spec §4.6, a
// persistent directory keeps a watch on its nearest existing ancestor).
func (e *Engine) Unregister(adir *cds.AutoscanDirectory) {
	e.mu.Lock()
	delete(e.dirs, adir.ID)
	if t, ok := e.timed[adir.ID]; ok {
		t.stop()
		delete(e.timed, adir.ID)
	}
	e.mu.Unlock()

	if adir.ScanMode == cds.ScanInotify && e.notifier != nil && !adir.Persistent {
		e.unmonitorRecursive(adir.Location, adir)
	}
}

// Shutdown stops every timed scheduler and the inotify loop.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	for _, t := range e.timed {
		t.stop()
	}
	e.mu.Unlock()

	close(e.stopCh)
	if e.notifier != nil {
		e.notifier.Stop()
	}
	e.wg.Wait()
}

func (e *Engine) findByPath(ctx context.Context, path string, itemsOnly bool) (int32, error) {
	return e.storage.FindByPath(ctx, path, itemsOnly)
}

var _ Rescanner = (*contentmgr.ContentManager)(nil)
