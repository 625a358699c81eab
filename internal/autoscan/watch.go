// Package autoscan implements the C6 autoscan engine: timed rescans and an
// event-driven watcher layered over the cds.FsNotifier seam, both replaying
// changes through the content manager (spec §4.6).
package autoscan

import "contentdir/internal/cds"

// WatchType discriminates the two kinds of Watch attached to a Wd.
type WatchType int

const (
	WatchTypeAutoscan WatchType = iota
	WatchTypeMove
)

// Watch is one reason a Wd is held open.
type Watch interface {
	Type() WatchType
}

// WatchAutoscan ties a watch descriptor back to the AutoscanDirectory that
// requested it. StartPoint marks the root of that directory's subtree, as
// opposed to a descendant watch added while walking it recursively.
// NonexistingPath is set while the directory is waiting for a missing
// ancestor to reappear (spec §4.6, persistent mounts).
type WatchAutoscan struct {
	StartPoint      bool
	Adir            *cds.AutoscanDirectory
	NonexistingPath []string
	Descendants     []int
}

func (*WatchAutoscan) Type() WatchType { return WatchTypeAutoscan }

// WatchMove pairs a rename-tracking watch (added along the path to a moved
// directory) with the watch descriptor that should be torn down once the
// move completes.
type WatchMove struct {
	RemoveWd int
}

func (*WatchMove) Type() WatchType { return WatchTypeMove }

// Wd is one kernel watch descriptor's bookkeeping: the path it watches, its
// parent watch (for move tracking, -1 if none), and every Watch relying on
// it.
type Wd struct {
	Path     string
	Handle   int
	ParentWd int
	Watches  []Watch
}

func NewWd(path string, handle, parentWd int) *Wd {
	return &Wd{Path: path, Handle: handle, ParentWd: parentWd}
}

func (w *Wd) AddWatch(watch Watch) {
	w.Watches = append(w.Watches, watch)
}

// isStartPointFor reports whether w carries the start-point WatchAutoscan
// for adir, as opposed to a plain recursive-descendant watch that merely
// happens to fall under adir's location.
func (w *Wd) isStartPointFor(adir *cds.AutoscanDirectory) bool {
	for _, watch := range w.Watches {
		if wa, ok := watch.(*WatchAutoscan); ok && wa.StartPoint && wa.Adir == adir {
			return true
		}
	}
	return false
}

// RemoveWatch drops one entry by identity; returns true if found.
func (w *Wd) RemoveWatch(watch Watch) bool {
	for i, wt := range w.Watches {
		if wt == watch {
			w.Watches = append(w.Watches[:i], w.Watches[i+1:]...)
			return true
		}
	}
	return false
}
