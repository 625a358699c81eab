package cds

import "context"

// SearchExpr is a backend predicate compiled by the search/sort package
// (C7) from a UPnP search string. It is opaque to Storage beyond the
// ContainerID scoping — Storage never parses search syntax itself.
type SearchExpr struct {
	SQL  string
	Args []any
}

// SortKey is one column of a compiled sort expression (spec §4.7.3).
type SortKey struct {
	Column string
	Desc   bool
}

// Filter narrows which fields Browse/Search populate on returned objects.
// A nil or empty Filter returns every field.
type Filter []string

// Storage is the persistent catalog (C2). Concurrency: one writer at a
// time, readers run concurrently under read-consistent snapshots (spec §5).
type Storage interface {
	// Insert stores obj and returns its assigned id. Runs inside a
	// transaction that also writes metadata/resource rows and bumps the
	// parent's updateId.
	Insert(ctx context.Context, obj CdsObject) (int32, error)

	// Load returns the object with the given id, or a *NotFoundError.
	Load(ctx context.Context, id int32) (CdsObject, error)

	// FindByPath returns the id of the object at path, or UnassignedID if
	// none exists. When itemsOnly is true, containers are not matched.
	FindByPath(ctx context.Context, path string, itemsOnly bool) (int32, error)

	// Update diff-writes obj, preserving its id and child links. The
	// parent's updateId is bumped only when a DIDL-visible field changed.
	Update(ctx context.Context, obj CdsObject) error

	// RemoveSubtree deletes the subtree rooted at id. If allowRefs is
	// false and a referrer from outside the subtree exists, returns
	// *InUseError; otherwise referrers inside the subtree are cascaded.
	RemoveSubtree(ctx context.Context, id int32, allowRefs bool) error

	// Browse lists parentId's children ordered by sortPriority, then
	// case-folded title, then id.
	Browse(ctx context.Context, parentID int32, offset, count int, filter Filter) ([]CdsObject, int, error)

	// Search evaluates expr against descendants of containerID.
	Search(ctx context.Context, containerID int32, expr SearchExpr, sort []SortKey, offset, count int) ([]CdsObject, int, error)

	// IncrementUpdateID bumps containerID's updateId and returns the new
	// value.
	IncrementUpdateID(ctx context.Context, containerID int32) (uint32, error)

	// SnapshotUpdateIDs returns the current updateId of every container,
	// for the eventing layer to diff against.
	SnapshotUpdateIDs(ctx context.Context) (map[int32]uint32, error)

	// InsertAutoscan persists a new autoscan directory row.
	InsertAutoscan(ctx context.Context, adir *AutoscanDirectory) error

	// UpdateAutoscan writes back adir's mutable fields (ScanInProgress,
	// LastScanEpoch, LastScanError, ...).
	UpdateAutoscan(ctx context.Context, adir *AutoscanDirectory) error

	// DeleteAutoscan removes the autoscan directory with the given id.
	DeleteAutoscan(ctx context.Context, id string) error

	// ListAutoscans returns every persisted autoscan directory, for the
	// engine to re-arm on startup.
	ListAutoscans(ctx context.Context) ([]*AutoscanDirectory, error)

	Close() error
}
