package cds

import "time"

// ScanMode is how an AutoscanDirectory stays synchronized with the
// filesystem (spec §4.6, §6).
type ScanMode int

const (
	ScanTimed ScanMode = iota
	ScanInotify
)

func (m ScanMode) String() string {
	if m == ScanInotify {
		return "inotify"
	}
	return "timed"
}

// AutoscanDirectory is the persisted autoscan configuration entity (spec
// §6): `(objectId, scanMode, location, recursive, hidden, interval,
// persistent, lastScanEpoch)`, supplemented with the
// ScanInProgress/LastScanError fields the original's admin UI surfaces.
type AutoscanDirectory struct {
	ID       string
	ObjectID int32
	ScanMode ScanMode
	Location string

	Recursive bool
	Hidden    bool
	Interval  time.Duration

	// Persistent directories survive remounts: an UNMOUNT event re-arms a
	// watch on an ancestor and waits for the mount to return instead of
	// deleting the autoscan (spec §4.6 S7).
	Persistent bool

	LastScanEpoch int64

	// ScanInProgress/LastScanError are supplemental to the original
	// persisted row — surfaced by admin tooling. Storage writes both
	// columns and ListAutoscans reads them back.
	ScanInProgress bool
	LastScanError  string
}
