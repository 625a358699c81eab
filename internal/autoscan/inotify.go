package autoscan

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"contentdir/internal/cds"
	"contentdir/internal/contentmgr"
)

// Inotify event bits the engine subscribes to (spec §4.6), using the
// kernel's actual numeric values since no Go inotify binding exists to
// import a symbolic set from.
const (
	MaskCloseWrite = 0x00000008
	MaskCreate     = 0x00000100
	MaskDelete     = 0x00000200
	MaskDeleteSelf = 0x00000400
	MaskMoveSelf   = 0x00000800
	MaskMovedFrom  = 0x00000040
	MaskMovedTo    = 0x00000080
	MaskUnmount    = 0x00002000
	MaskIgnored    = 0x00008000
	MaskIsDir      = 0x40000000

	subscribedEvents = MaskCloseWrite | MaskCreate | MaskMovedFrom | MaskMovedTo |
		MaskDelete | MaskDeleteSelf | MaskMoveSelf | MaskUnmount
)

func (e *Engine) inotifyLoop() {
	defer e.wg.Done()
	ctx := context.Background()
	for {
		wd, mask, name, err := e.notifier.NextEvent()
		if err != nil {
			select {
			case <-e.stopCh:
				return
			default:
				e.log.Warn("inotify NextEvent failed", "error", err)
				return
			}
		}
		e.handleEvent(ctx, wd, mask, name)
	}
}

func (e *Engine) handleEvent(ctx context.Context, wd int, mask uint32, name string) {
	e.mu.Lock()
	wdObj, ok := e.wds[wd]
	e.mu.Unlock()
	if !ok {
		e.notifier.RemoveWatch(wd)
		return
	}

	if mask&(MaskCreate|MaskMovedTo) != 0 && e.checkNonexistingWatches(ctx, wdObj, name) {
		return
	}

	path := wdObj.Path
	if mask&(MaskDeleteSelf|MaskMoveSelf|MaskUnmount) == 0 {
		path = filepath.Join(path, name)
	}

	adir := e.appropriateAutoscanForPath(wdObj, path)

	if mask&MaskMoveSelf != 0 {
		e.checkMoveWatches(ctx, wd, wdObj)
	}

	if adir == nil {
		if mask&MaskIgnored != 0 {
			e.forgetWd(wd)
		}
		return
	}

	if mask&MaskIsDir != 0 && mask&MaskCreate != 0 && adir.Recursive {
		if adir.Hidden || !strings.HasPrefix(name, ".") {
			e.monitorRecursive(path, adir, false)
		}
	}

	if mask&(MaskDelete|MaskDeleteSelf|MaskMoveSelf|MaskCloseWrite|MaskMovedFrom|MaskMovedTo|MaskUnmount|MaskCreate) != 0 {
		if mask&(MaskDeleteSelf|MaskMoveSelf|MaskUnmount) != 0 && adir.Persistent && wdObj.isStartPointFor(adir) {
			e.detachPersistent(wd, adir)
		} else {
			if mask&(MaskMovedTo|MaskCreate) == 0 {
				e.handleRemoval(ctx, adir, path, mask)
			}
			if mask&(MaskCloseWrite|MaskMovedTo|MaskCreate) != 0 {
				e.handleArrival(ctx, adir, path, mask)
			}
		}
	}

	if mask&MaskIgnored != 0 {
		e.forgetWd(wd)
	}
}

// handleRemoval implements the REDESIGN FLAG decision (spec §9): on
// MOVED_FROM without a matching MOVED_TO, the object is deleted outright —
// no cookie-based rename tracking is implemented.
func (e *Engine) handleRemoval(ctx context.Context, adir *cds.AutoscanDirectory, path string, mask uint32) {
	itemsOnly := mask&MaskIsDir == 0
	id, err := e.findByPath(ctx, path, itemsOnly)
	if err != nil || id == cds.UnassignedID {
		return
	}
	if err := e.mgr.RemoveObject(ctx, adir, id, mask&MaskMovedTo == 0); err != nil {
		e.log.Warn("autoscan remove failed", "path", path, "error", err)
	}
}

func (e *Engine) handleArrival(ctx context.Context, adir *cds.AutoscanDirectory, path string, mask uint32) {
	if _, err := os.Lstat(path); err != nil {
		return
	}
	setting := contentmgr.AutoScanSetting{
		Adir:           adir,
		FollowSymlinks: false,
		Recursive:      adir.Recursive,
		Hidden:         adir.Hidden,
		RescanResource: true,
	}
	if _, err := e.mgr.AddFile(ctx, path, adir.Location, setting, true, true, false); err != nil {
		e.log.Warn("autoscan add failed", "path", path, "error", err)
	}
}

// appropriateAutoscanForPath picks the WatchAutoscan on wdObj whose
// directory location is the longest prefix of path, matched on path
// component boundaries — the REDESIGN FLAG fix for the original's raw
// string-prefix bug that misclassified "/foo" as a prefix of "/foobar"
// (spec §9).
func (e *Engine) appropriateAutoscanForPath(wdObj *Wd, path string) *cds.AutoscanDirectory {
	var best *cds.AutoscanDirectory
	bestLen := -1
	for _, w := range wdObj.Watches {
		wa, ok := w.(*WatchAutoscan)
		if !ok || len(wa.NonexistingPath) != 0 {
			continue
		}
		loc := wa.Adir.Location
		if !pathHasPrefix(path, loc) {
			continue
		}
		if len(loc) > bestLen {
			bestLen = len(loc)
			best = wa.Adir
		}
	}
	return best
}

func pathHasPrefix(path, prefix string) bool {
	prefix = filepath.Clean(prefix)
	path = filepath.Clean(path)
	if path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+string(filepath.Separator))
}

// checkMoveWatches handles MOVE_SELF firing on an ancestor that is watched
// purely for move tracking (spec §4.6 "Move tracking"): each WatchMove
// attached to wdObj points at a descendant wd whose recorded path is now
// potentially stale, even though the inode it watches was never touched.
// The descendant is rediscovered at its recorded path: if something still
// resolves there it is rewatched and rescanned, otherwise its start points
// are detached (persistent) or cascade-deleted (not persistent) exactly as
// handleEvent's own DELETE_SELF/MOVE_SELF/UNMOUNT handling would.
func (e *Engine) checkMoveWatches(ctx context.Context, wd int, wdObj *Wd) {
	e.mu.Lock()
	var moves []*WatchMove
	for _, w := range wdObj.Watches {
		if mv, ok := w.(*WatchMove); ok {
			moves = append(moves, mv)
		}
	}
	for _, mv := range moves {
		wdObj.RemoveWatch(mv)
	}
	e.mu.Unlock()

	for _, mv := range moves {
		e.mu.Lock()
		target, ok := e.wds[mv.RemoveWd]
		e.mu.Unlock()
		if !ok {
			continue
		}

		if e.notifier != nil {
			e.notifier.RemoveWatch(mv.RemoveWd)
		}
		e.forgetWd(mv.RemoveWd)

		if fi, err := os.Lstat(target.Path); err == nil && fi.IsDir() {
			e.log.Info("ancestor moved, rediscovering watch", "path", target.Path)
			for _, tw := range target.Watches {
				wa, ok := tw.(*WatchAutoscan)
				if !ok {
					continue
				}
				e.monitorRecursive(target.Path, wa.Adir, wa.StartPoint)
				if wa.StartPoint {
					if err := e.mgr.RescanDirectory(ctx, wa.Adir, wa.Adir.ObjectID, target.Path, false); err != nil {
						e.log.Warn("rediscovery rescan failed", "path", target.Path, "error", err)
					}
				}
			}
			continue
		}

		for _, tw := range target.Watches {
			wa, ok := tw.(*WatchAutoscan)
			if !ok || !wa.StartPoint {
				continue
			}
			if wa.Adir.Persistent {
				e.monitorNonexisting(target.Path, wa.Adir)
				continue
			}
			if id, err := e.findByPath(ctx, target.Path, true); err == nil && id != cds.UnassignedID {
				e.mgr.RemoveObject(ctx, wa.Adir, id, false)
			}
		}
	}
}

func (e *Engine) forgetWd(wd int) {
	e.mu.Lock()
	delete(e.wds, wd)
	e.mu.Unlock()
}

// wdByPath finds a tracked Wd by path. Callers must hold e.mu.
func (e *Engine) wdByPath(path string) *Wd {
	for _, w := range e.wds {
		if w.Path == path {
			return w
		}
	}
	return nil
}

// detachPersistent implements spec §4.6 rule 4 for a persistent autoscan's
// start point: rather than cascade-deleting the subtree on
// DELETE_SELF/MOVE_SELF/UNMOUNT, the live watch is torn down and a chain of
// non-existing watches is armed on the nearest existing ancestor so the
// directory can be rediscovered once it reappears (S7, e.g. after a
// remount).
func (e *Engine) detachPersistent(wd int, adir *cds.AutoscanDirectory) {
	e.log.Info("autoscan start point unavailable, waiting for remount", "location", adir.Location)
	adir.LastScanError = "awaiting remount"
	if e.notifier != nil {
		e.notifier.RemoveWatch(wd)
	}
	e.forgetWd(wd)
	e.monitorNonexisting(adir.Location, adir)
}

// monitorNonexisting arms a watch on the nearest existing ancestor of path
// and records the missing path components as a WatchAutoscan.NonexistingPath
// chain; checkNonexistingWatches extends the chain one component at a time
// as components reappear, until path itself is rediscovered and rewatched.
func (e *Engine) monitorNonexisting(path string, adir *cds.AutoscanDirectory) {
	if e.notifier == nil {
		return
	}
	ancestor := filepath.Dir(path)
	remaining := []string{filepath.Base(path)}
	for {
		if fi, err := os.Stat(ancestor); err == nil && fi.IsDir() {
			break
		}
		remaining = append([]string{filepath.Base(ancestor)}, remaining...)
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			e.log.Warn("no existing ancestor found for autoscan location", "location", path)
			return
		}
		ancestor = parent
	}
	e.armNonexistingWatch(ancestor, remaining, adir)
}

func (e *Engine) armNonexistingWatch(ancestor string, remaining []string, adir *cds.AutoscanDirectory) {
	wdHandle, err := e.notifier.AddWatch(ancestor, subscribedEvents)
	if err != nil {
		e.log.Warn("failed to watch ancestor for rediscovery", "path", ancestor, "error", err)
		return
	}
	e.mu.Lock()
	wdObj, ok := e.wds[wdHandle]
	if !ok {
		wdObj = NewWd(ancestor, wdHandle, -1)
		e.wds[wdHandle] = wdObj
	}
	wdObj.AddWatch(&WatchAutoscan{StartPoint: true, Adir: adir, NonexistingPath: remaining})
	e.mu.Unlock()
}

// checkNonexistingWatches advances any pending rediscovery chain on wdObj
// when name matches the next expected path component, consuming the event
// rather than letting it fall through to normal autoscan processing.
func (e *Engine) checkNonexistingWatches(ctx context.Context, wdObj *Wd, name string) bool {
	e.mu.Lock()
	var matched []*WatchAutoscan
	for _, w := range wdObj.Watches {
		if wa, ok := w.(*WatchAutoscan); ok && len(wa.NonexistingPath) != 0 && wa.NonexistingPath[0] == name {
			matched = append(matched, wa)
		}
	}
	for _, wa := range matched {
		wdObj.RemoveWatch(wa)
	}
	e.mu.Unlock()
	if len(matched) == 0 {
		return false
	}

	newPath := filepath.Join(wdObj.Path, name)
	for _, wa := range matched {
		remaining := wa.NonexistingPath[1:]
		if len(remaining) == 0 {
			e.log.Info("autoscan location rediscovered, rescanning", "location", newPath)
			wa.Adir.LastScanError = ""
			if err := e.monitorRecursive(newPath, wa.Adir, true); err != nil {
				e.log.Warn("failed to rewatch rediscovered location", "path", newPath, "error", err)
				continue
			}
			if err := e.mgr.RescanDirectory(ctx, wa.Adir, wa.Adir.ObjectID, newPath, false); err != nil {
				e.log.Warn("rediscovery rescan failed", "path", newPath, "error", err)
			}
			continue
		}
		e.armNonexistingWatch(newPath, remaining, wa.Adir)
	}
	return true
}

// monitorRecursive adds a watch on path and, when adir.Recursive, on every
// existing subdirectory beneath it, skipping dot-directories unless
// adir.Hidden; symlinked directories are not followed. It also extends the
// move-tracking ancestor chain (spec §4.6 "Move tracking") for the new watch.
func (e *Engine) monitorRecursive(path string, adir *cds.AutoscanDirectory, startPoint bool) error {
	if e.notifier == nil {
		return nil
	}
	wdHandle, err := e.notifier.AddWatch(path, subscribedEvents)
	if err != nil {
		if startPoint && adir.Persistent {
			e.monitorNonexisting(path, adir)
		}
		return nil
	}

	e.mu.Lock()
	wdObj, ok := e.wds[wdHandle]
	if !ok {
		wdObj = NewWd(path, wdHandle, -1)
		e.wds[wdHandle] = wdObj
	}
	already := e.appropriateAutoscanForPath(wdObj, path) != nil
	if !already {
		wdObj.AddWatch(&WatchAutoscan{StartPoint: startPoint, Adir: adir})
	}
	e.mu.Unlock()

	e.armMoveTracking(wdHandle, path)

	if !adir.Recursive {
		return nil
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil
	}
	for _, ent := range entries {
		if !ent.IsDir() {
			continue
		}
		if !adir.Hidden && strings.HasPrefix(ent.Name(), ".") {
			continue
		}
		if err := e.monitorRecursive(filepath.Join(path, ent.Name()), adir, false); err != nil {
			e.log.Warn("failed to extend recursive watch", "path", path, "error", err)
		}
	}
	return nil
}

// armMoveTracking walks from childPath's parent up toward the filesystem
// root, ensuring each ancestor carries a WatchMove entry pointing back at
// childWd, and stops as soon as an already-tracked ancestor is reached —
// its own ancestors were already covered when it was itself added (spec
// §4.6 "Move tracking": "On any added watch, walk from the root to the
// watched path adding WatchMove entries on each ancestor").
func (e *Engine) armMoveTracking(childWd int, childPath string) {
	if e.notifier == nil {
		return
	}
	dir := filepath.Dir(childPath)
	for {
		e.mu.Lock()
		if wdObj := e.wdByPath(dir); wdObj != nil {
			exists := false
			for _, w := range wdObj.Watches {
				if mv, ok := w.(*WatchMove); ok && mv.RemoveWd == childWd {
					exists = true
					break
				}
			}
			if !exists {
				wdObj.AddWatch(&WatchMove{RemoveWd: childWd})
			}
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		wdHandle, err := e.notifier.AddWatch(dir, subscribedEvents)
		if err != nil {
			return
		}
		e.mu.Lock()
		newWd := NewWd(dir, wdHandle, -1)
		newWd.AddWatch(&WatchMove{RemoveWd: childWd})
		e.wds[wdHandle] = newWd
		e.mu.Unlock()

		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func (e *Engine) unmonitorRecursive(path string, adir *cds.AutoscanDirectory) {
	if e.notifier == nil {
		return
	}
	e.mu.Lock()
	for wd, wdObj := range e.wds {
		if !pathHasPrefix(wdObj.Path, path) {
			continue
		}
		for _, w := range wdObj.Watches {
			if wa, ok := w.(*WatchAutoscan); ok && wa.Adir == adir {
				wdObj.RemoveWatch(wa)
			}
		}
		if len(wdObj.Watches) == 0 {
			e.notifier.RemoveWatch(wd)
			delete(e.wds, wd)
		}
	}
	e.mu.Unlock()

	e.pruneStaleMoveWatches()
}

// pruneStaleMoveWatches drops WatchMove entries left pointing at wds that
// unmonitorRecursive already tore down, and releases the ancestor watch
// once nothing else still depends on it.
func (e *Engine) pruneStaleMoveWatches() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for wd, wdObj := range e.wds {
		var stale []Watch
		for _, w := range wdObj.Watches {
			if mv, ok := w.(*WatchMove); ok {
				if _, ok := e.wds[mv.RemoveWd]; !ok {
					stale = append(stale, mv)
				}
			}
		}
		for _, mv := range stale {
			wdObj.RemoveWatch(mv)
		}
		if len(wdObj.Watches) == 0 {
			if e.notifier != nil {
				e.notifier.RemoveWatch(wd)
			}
			delete(e.wds, wd)
		}
	}
}
