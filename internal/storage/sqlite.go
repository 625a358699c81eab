// Package storage implements the Content Directory's persistent catalog
// (C2) on top of SQLite: CRUD for objects, the path→id index, ref-integrity,
// search/sort query execution, and update-id bookkeeping.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"contentdir/internal/cds"
	"contentdir/internal/storage/migrations"
)

// SQLiteDatabase implements cds.Storage using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string

	// writeMu serializes writers; readers run concurrently (spec §5: one
	// writer at a time, readers under read-consistent snapshots).
	writeMu sync.Mutex
}

// NewSQLiteDatabase opens path (or ":memory:") and returns a ready Storage.
// Schema migrations are run once at startup, guarded by golang-migrate's
// version row.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing, already-migrated connection.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{db: db}
}

// OpenConnection opens and configures a SQLite connection with the PRAGMAs
// the catalog depends on.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}
	// Future SQLite optimizations can be added here:
	// - PRAGMA journal_mode = WAL (better read/write concurrency)
	// - PRAGMA busy_timeout = 5000
	return db, nil
}

func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// --- Insert ---------------------------------------------------------------

func (s *SQLiteDatabase) Insert(ctx context.Context, obj cds.CdsObject) (int32, error) {
	if err := cds.Validate(obj); err != nil {
		return cds.UnassignedID, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "insert", Cause: err}
	}
	defer tx.Rollback()

	h := obj.Head()
	objType, mime, part, track, svc, bookmark, updateID, autoscanType := fieldsFor(obj)

	res, err := tx.ExecContext(ctx, `
		INSERT INTO objects
			(parent_id, ref_id, object_type, title, upnp_class, location, mtime,
			 utime, size_on_disk, virtual, flags, sort_priority, mime_type,
			 part_number, track_number, service_id, bookmark_pos_millis,
			 update_id, autoscan_type)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		h.ParentID, h.RefID, objType, h.Title, h.UpnpClass, h.Location, h.Mtime,
		h.Utime, h.SizeOnDisk, boolToInt(h.Virtual), h.Flags, h.SortPriority, mime,
		part, track, svc, bookmark, updateID, autoscanType,
	)
	if err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "insert object", Cause: err}
	}
	id64, err := res.LastInsertId()
	if err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "insert object", Cause: err}
	}
	id := int32(id64)

	if err := writeMetadata(ctx, tx, id, h.Metadata); err != nil {
		return cds.UnassignedID, err
	}
	if err := writeResources(ctx, tx, id, h.Resources); err != nil {
		return cds.UnassignedID, err
	}

	if h.ParentID != cds.UnassignedID {
		if _, err := bumpUpdateID(ctx, tx, h.ParentID); err != nil {
			return cds.UnassignedID, err
		}
	}

	if err := tx.Commit(); err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "insert", Cause: err}
	}
	return id, nil
}

// --- Load ------------------------------------------------------------------

func (s *SQLiteDatabase) Load(ctx context.Context, id int32) (cds.CdsObject, error) {
	row := s.db.QueryRowContext(ctx, objectSelectSQL+" WHERE id = ?", id)
	obj, err := scanObject(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &cds.NotFoundError{What: fmt.Sprintf("object %d", id)}
	}
	if err != nil {
		return nil, &cds.DbError{Op: "load", Cause: err}
	}
	if err := s.hydrate(ctx, obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func (s *SQLiteDatabase) hydrate(ctx context.Context, obj cds.CdsObject) error {
	h := obj.Head()
	meta, err := readMetadata(ctx, s.db, h.ID)
	if err != nil {
		return &cds.DbError{Op: "load metadata", Cause: err}
	}
	h.Metadata = meta

	res, err := readResources(ctx, s.db, h.ID)
	if err != nil {
		return &cds.DbError{Op: "load resources", Cause: err}
	}
	h.Resources = res

	if c, ok := obj.(*cds.Container); ok {
		n, err := s.childCount(ctx, h.ID)
		if err != nil {
			return err
		}
		c.ChildCount = n
	}
	return nil
}

func (s *SQLiteDatabase) childCount(ctx context.Context, id int32) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE parent_id = ?`, id).Scan(&n); err != nil {
		return 0, &cds.DbError{Op: "child count", Cause: err}
	}
	return n, nil
}

// --- FindByPath --------------------------------------------------------------

func (s *SQLiteDatabase) FindByPath(ctx context.Context, path string, itemsOnly bool) (int32, error) {
	q := `SELECT id FROM objects WHERE location = ? AND virtual = 0`
	args := []any{path}
	if itemsOnly {
		q += ` AND object_type != 0`
	}
	q += ` LIMIT 1`

	var id int32
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return cds.UnassignedID, nil
	}
	if err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "find by path", Cause: err}
	}
	return id, nil
}

// --- Update ------------------------------------------------------------------

func (s *SQLiteDatabase) Update(ctx context.Context, obj cds.CdsObject) error {
	if err := cds.Validate(obj); err != nil {
		return err
	}
	h := obj.Head()
	if h.ID == cds.UnassignedID {
		return &cds.InvalidObjectError{Reason: "cannot update an object without an id"}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// Load before opening the transaction: a second pooled connection to
	// ":memory:" would see a fresh, empty database.
	before, err := s.Load(ctx, h.ID)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &cds.DbError{Op: "update", Cause: err}
	}
	defer tx.Rollback()

	objType, mime, part, track, svc, bookmark, updateID, autoscanType := fieldsFor(obj)
	_, err = tx.ExecContext(ctx, `
		UPDATE objects SET
			parent_id=?, ref_id=?, object_type=?, title=?, upnp_class=?, location=?,
			mtime=?, utime=?, size_on_disk=?, virtual=?, flags=?, sort_priority=?,
			mime_type=?, part_number=?, track_number=?, service_id=?,
			bookmark_pos_millis=?, update_id=?, autoscan_type=?
		WHERE id = ?`,
		h.ParentID, h.RefID, objType, h.Title, h.UpnpClass, h.Location, h.Mtime,
		h.Utime, h.SizeOnDisk, boolToInt(h.Virtual), h.Flags, h.SortPriority, mime,
		part, track, svc, bookmark, updateID, autoscanType, h.ID,
	)
	if err != nil {
		return &cds.DbError{Op: "update object", Cause: err}
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM object_metadata WHERE object_id = ?`, h.ID); err != nil {
		return &cds.DbError{Op: "update metadata", Cause: err}
	}
	if err := writeMetadata(ctx, tx, h.ID, h.Metadata); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM object_resources WHERE object_id = ?`, h.ID); err != nil {
		return &cds.DbError{Op: "update resources", Cause: err}
	}
	if err := writeResources(ctx, tx, h.ID, h.Resources); err != nil {
		return err
	}

	if h.ParentID != cds.UnassignedID && didlVisibleChanged(before, obj) {
		if _, err := bumpUpdateID(ctx, tx, h.ParentID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &cds.DbError{Op: "update", Cause: err}
	}
	return nil
}

// didlVisibleChanged reports whether any field visible in a DIDL-Lite
// response differs between before and after (spec §4.2: Update bumps the
// parent's updateId only when DIDL-visible fields changed).
func didlVisibleChanged(before, after cds.CdsObject) bool {
	return !cds.Equals(before, after, false)
}

// --- RemoveSubtree -----------------------------------------------------------

func (s *SQLiteDatabase) RemoveSubtree(ctx context.Context, id int32, allowRefs bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &cds.DbError{Op: "remove subtree", Cause: err}
	}
	defer tx.Rollback()

	subtree, err := collectSubtree(ctx, tx, id)
	if err != nil {
		return err
	}
	inSubtree := make(map[int32]bool, len(subtree))
	for _, sid := range subtree {
		inSubtree[sid] = true
	}

	referrers, err := findReferrers(ctx, tx, subtree)
	if err != nil {
		return err
	}

	if !allowRefs {
		for _, r := range referrers {
			if !inSubtree[r.id] && !hasFlag(r.flags, cds.FlagPlaylistRef) {
				return &cds.InUseError{ObjectID: id}
			}
		}
	}

	// Cascade referrers inside the subtree's reach (both inside and, when
	// allowRefs is set, outside) — PLAYLIST_REF referrers are left dangling
	// and repaired on next import (spec invariant 3).
	toDelete := append([]int32{}, subtree...)
	for _, r := range referrers {
		if hasFlag(r.flags, cds.FlagPlaylistRef) {
			continue
		}
		if !inSubtree[r.id] {
			toDelete = append(toDelete, r.id)
		}
	}

	parentID, err := objectParent(ctx, tx, id)
	if err != nil {
		return err
	}

	for _, did := range toDelete {
		if _, err := tx.ExecContext(ctx, `DELETE FROM objects WHERE id = ?`, did); err != nil {
			return &cds.DbError{Op: "remove subtree", Cause: err}
		}
	}

	if parentID != cds.UnassignedID {
		if _, err := bumpUpdateID(ctx, tx, parentID); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return &cds.DbError{Op: "remove subtree", Cause: err}
	}
	return nil
}

func hasFlag(flags int64, f cds.ObjectFlag) bool {
	return cds.ObjectFlag(flags).Has(f)
}

type referrer struct {
	id    int32
	flags int64
}

func findReferrers(ctx context.Context, q querier, ids []int32) ([]referrer, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(
		`SELECT id, flags FROM objects WHERE ref_id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, &cds.DbError{Op: "find referrers", Cause: err}
	}
	defer rows.Close()

	var out []referrer
	for rows.Next() {
		var r referrer
		if err := rows.Scan(&r.id, &r.flags); err != nil {
			return nil, &cds.DbError{Op: "find referrers", Cause: err}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func collectSubtree(ctx context.Context, q querier, root int32) ([]int32, error) {
	out := []int32{root}
	frontier := []int32{root}
	for len(frontier) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(frontier)), ",")
		args := make([]any, len(frontier))
		for i, id := range frontier {
			args[i] = id
		}
		rows, err := q.QueryContext(ctx, fmt.Sprintf(
			`SELECT id FROM objects WHERE parent_id IN (%s)`, placeholders), args...)
		if err != nil {
			return nil, &cds.DbError{Op: "collect subtree", Cause: err}
		}
		var next []int32
		for rows.Next() {
			var id int32
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, &cds.DbError{Op: "collect subtree", Cause: err}
			}
			next = append(next, id)
		}
		rows.Close()
		out = append(out, next...)
		frontier = next
	}
	return out, nil
}

func objectParent(ctx context.Context, q querier, id int32) (int32, error) {
	var parent int32
	err := q.QueryRowContext(ctx, `SELECT parent_id FROM objects WHERE id = ?`, id).Scan(&parent)
	if errors.Is(err, sql.ErrNoRows) {
		return cds.UnassignedID, nil
	}
	if err != nil {
		return cds.UnassignedID, &cds.DbError{Op: "find parent", Cause: err}
	}
	return parent, nil
}

// --- Browse / Search ----------------------------------------------------------

func (s *SQLiteDatabase) Browse(ctx context.Context, parentID int32, offset, count int, filter cds.Filter) ([]cds.CdsObject, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM objects WHERE parent_id = ?`, parentID).Scan(&total); err != nil {
		return nil, 0, &cds.DbError{Op: "browse count", Cause: err}
	}

	q := objectSelectSQL + ` WHERE parent_id = ? ORDER BY sort_priority ASC, LOWER(title) ASC, id ASC`
	args := []any{parentID}
	if count > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, count, offset)
	} else if offset > 0 {
		q += ` LIMIT -1 OFFSET ?`
		args = append(args, offset)
	}

	objs, err := s.queryObjects(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return objs, total, nil
}

func (s *SQLiteDatabase) Search(ctx context.Context, containerID int32, expr cds.SearchExpr, sortKeys []cds.SortKey, offset, count int) ([]cds.CdsObject, int, error) {
	descendants, err := collectSubtree(ctx, s.db, containerID)
	if err != nil {
		return nil, 0, err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(descendants)), ",")
	args := make([]any, 0, len(descendants)+len(expr.Args))
	for _, id := range descendants {
		args = append(args, id)
	}

	where := fmt.Sprintf("id IN (%s)", placeholders)
	if expr.SQL != "" {
		where += " AND (" + rewriteSearchSQL(expr.SQL) + ")"
		args = append(args, expr.Args...)
	}

	var total int
	countQ := `SELECT COUNT(*) FROM objects WHERE ` + where
	if err := s.db.QueryRowContext(ctx, countQ, args...).Scan(&total); err != nil {
		return nil, 0, &cds.DbError{Op: "search count", Cause: err}
	}

	q := objectSelectSQL + ` WHERE ` + where + orderBySQL(sortKeys)
	if count > 0 {
		q += ` LIMIT ? OFFSET ?`
		args = append(args, count, offset)
	}

	objs, err := s.queryObjects(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	return objs, total, nil
}

// rewriteSearchSQL renames "LOWER(class)" to "LOWER(upnp_class)". Metadata
// predicates from the search compiler already arrive as correlated EXISTS
// subqueries against object_metadata, and attribute-family predicates
// (e.g. @id, @refID) already refer to objects columns; both pass through
// unchanged.
func rewriteSearchSQL(sql string) string {
	sql = strings.ReplaceAll(sql, "LOWER(class)", "LOWER(upnp_class)")
	return sql
}

func orderBySQL(keys []cds.SortKey) string {
	if len(keys) == 0 {
		return ` ORDER BY sort_priority ASC, LOWER(title) ASC, id ASC`
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		dir := "ASC"
		if k.Desc {
			dir = "DESC"
		}
		parts = append(parts, fmt.Sprintf("%s %s", k.Column, dir))
	}
	return " ORDER BY " + strings.Join(parts, ", ") + ", id ASC"
}

// --- update-id bookkeeping -----------------------------------------------

func (s *SQLiteDatabase) IncrementUpdateID(ctx context.Context, containerID int32) (uint32, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &cds.DbError{Op: "increment update id", Cause: err}
	}
	defer tx.Rollback()

	v, err := bumpUpdateID(ctx, tx, containerID)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, &cds.DbError{Op: "increment update id", Cause: err}
	}
	return v, nil
}

func bumpUpdateID(ctx context.Context, tx *sql.Tx, containerID int32) (uint32, error) {
	res, err := tx.ExecContext(ctx, `UPDATE objects SET update_id = update_id + 1 WHERE id = ? AND object_type = 0`, containerID)
	if err != nil {
		return 0, &cds.DbError{Op: "bump update id", Cause: err}
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Not a container (or doesn't exist) — nothing to bump.
		return 0, nil
	}
	var v uint32
	if err := tx.QueryRowContext(ctx, `SELECT update_id FROM objects WHERE id = ?`, containerID).Scan(&v); err != nil {
		return 0, &cds.DbError{Op: "bump update id", Cause: err}
	}
	return v, nil
}

func (s *SQLiteDatabase) SnapshotUpdateIDs(ctx context.Context) (map[int32]uint32, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, update_id FROM objects WHERE object_type = 0`)
	if err != nil {
		return nil, &cds.DbError{Op: "snapshot update ids", Cause: err}
	}
	defer rows.Close()

	out := make(map[int32]uint32)
	for rows.Next() {
		var id int32
		var v uint32
		if err := rows.Scan(&id, &v); err != nil {
			return nil, &cds.DbError{Op: "snapshot update ids", Cause: err}
		}
		out[id] = v
	}
	return out, rows.Err()
}

// --- autoscan directories ---------------------------------------------------

func (s *SQLiteDatabase) InsertAutoscan(ctx context.Context, adir *cds.AutoscanDirectory) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO autoscan_directories
			(id, object_id, scan_mode, location, recursive, hidden,
			 interval_seconds, persistent, last_scan_epoch, scan_in_progress, last_scan_error)
		VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		adir.ID, adir.ObjectID, adir.ScanMode.String(), adir.Location,
		boolToInt(adir.Recursive), boolToInt(adir.Hidden), int64(adir.Interval.Seconds()),
		boolToInt(adir.Persistent), adir.LastScanEpoch, boolToInt(adir.ScanInProgress), adir.LastScanError,
	)
	if err != nil {
		return &cds.DbError{Op: "insert autoscan", Cause: err}
	}
	return nil
}

func (s *SQLiteDatabase) UpdateAutoscan(ctx context.Context, adir *cds.AutoscanDirectory) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE autoscan_directories SET
			object_id=?, scan_mode=?, location=?, recursive=?, hidden=?,
			interval_seconds=?, persistent=?, last_scan_epoch=?, scan_in_progress=?, last_scan_error=?
		WHERE id = ?`,
		adir.ObjectID, adir.ScanMode.String(), adir.Location, boolToInt(adir.Recursive),
		boolToInt(adir.Hidden), int64(adir.Interval.Seconds()), boolToInt(adir.Persistent),
		adir.LastScanEpoch, boolToInt(adir.ScanInProgress), adir.LastScanError, adir.ID,
	)
	if err != nil {
		return &cds.DbError{Op: "update autoscan", Cause: err}
	}
	return nil
}

func (s *SQLiteDatabase) DeleteAutoscan(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM autoscan_directories WHERE id = ?`, id); err != nil {
		return &cds.DbError{Op: "delete autoscan", Cause: err}
	}
	return nil
}

func (s *SQLiteDatabase) ListAutoscans(ctx context.Context) ([]*cds.AutoscanDirectory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, object_id, scan_mode, location, recursive, hidden,
		       interval_seconds, persistent, last_scan_epoch, scan_in_progress, last_scan_error
		FROM autoscan_directories`)
	if err != nil {
		return nil, &cds.DbError{Op: "list autoscans", Cause: err}
	}
	defer rows.Close()

	var out []*cds.AutoscanDirectory
	for rows.Next() {
		var (
			a                                  cds.AutoscanDirectory
			mode                               string
			recursiveInt, hiddenInt            int
			persistentInt, scanInProgressInt   int
			intervalSeconds                    int64
		)
		if err := rows.Scan(&a.ID, &a.ObjectID, &mode, &a.Location, &recursiveInt, &hiddenInt,
			&intervalSeconds, &persistentInt, &a.LastScanEpoch, &scanInProgressInt, &a.LastScanError); err != nil {
			return nil, &cds.DbError{Op: "list autoscans", Cause: err}
		}
		a.Recursive = recursiveInt != 0
		a.Hidden = hiddenInt != 0
		a.Persistent = persistentInt != 0
		a.ScanInProgress = scanInProgressInt != 0
		a.Interval = time.Duration(intervalSeconds) * time.Second
		if mode == "inotify" {
			a.ScanMode = cds.ScanInotify
		} else {
			a.ScanMode = cds.ScanTimed
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- scanning helpers -------------------------------------------------------

const objectSelectSQL = `SELECT
	id, parent_id, ref_id, object_type, title, upnp_class, location, mtime,
	utime, size_on_disk, virtual, flags, sort_priority, mime_type,
	part_number, track_number, service_id, bookmark_pos_millis, update_id,
	autoscan_type
	FROM objects`

type scanner interface {
	Scan(dest ...any) error
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanObject(row scanner) (cds.CdsObject, error) {
	var (
		id, parentID, refID               int32
		objType                           int
		title, upnpClass, location        string
		mtime, utime, sizeOnDisk          int64
		virtualInt                        int
		flags                             int64
		sortPriority                      int
		mimeType, serviceID               string
		partNumber, trackNumber           int
		bookmark                          int64
		updateID                          uint32
		autoscanType                      int
	)
	err := row.Scan(&id, &parentID, &refID, &objType, &title, &upnpClass, &location,
		&mtime, &utime, &sizeOnDisk, &virtualInt, &flags, &sortPriority, &mimeType,
		&partNumber, &trackNumber, &serviceID, &bookmark, &updateID, &autoscanType)
	if err != nil {
		return nil, err
	}

	h := cds.Header{
		ID: id, ParentID: parentID, RefID: refID, Title: title, UpnpClass: upnpClass,
		Location: location, Mtime: mtime, Utime: utime, SizeOnDisk: sizeOnDisk,
		Virtual: virtualInt != 0, Flags: cds.ObjectFlag(flags), SortPriority: sortPriority,
		Auxdata: make(map[string]string),
	}

	switch objType {
	case int(cds.TypeContainer):
		return &cds.Container{Header: h, UpdateID: updateID, AutoscanType: cds.AutoscanType(autoscanType)}, nil
	case int(cds.TypeItem):
		return &cds.Item{Header: h, MimeType: mimeType, PartNumber: partNumber,
			TrackNumber: trackNumber, ServiceID: serviceID, BookmarkPosMillis: bookmark}, nil
	case int(cds.TypeExternalItem):
		return &cds.ExternalItem{Header: h, MimeType: mimeType}, nil
	default:
		return nil, fmt.Errorf("storage: unknown object_type %d", objType)
	}
}

func (s *SQLiteDatabase) queryObjects(ctx context.Context, q string, args ...any) ([]cds.CdsObject, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, &cds.DbError{Op: "query objects", Cause: err}
	}
	defer rows.Close()

	var objs []cds.CdsObject
	for rows.Next() {
		obj, err := scanObject(rows)
		if err != nil {
			return nil, &cds.DbError{Op: "scan object", Cause: err}
		}
		objs = append(objs, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, &cds.DbError{Op: "query objects", Cause: err}
	}

	for _, obj := range objs {
		if err := s.hydrate(ctx, obj); err != nil {
			return nil, err
		}
	}
	return objs, nil
}

func readMetadata(ctx context.Context, q querier, id int32) (cds.MetadataList, error) {
	rows, err := q.QueryContext(ctx, `SELECT key, value FROM object_metadata WHERE object_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out cds.MetadataList
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out = out.Append(k, v)
	}
	return out, rows.Err()
}

func writeMetadata(ctx context.Context, tx *sql.Tx, id int32, meta cds.MetadataList) error {
	for seq, p := range meta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO object_metadata (object_id, seq, key, value) VALUES (?,?,?,?)`,
			id, seq, p.Key, p.Value); err != nil {
			return &cds.DbError{Op: "write metadata", Cause: err}
		}
	}
	return nil
}

func readResources(ctx context.Context, q querier, id int32) ([]cds.CdsResource, error) {
	rows, err := q.QueryContext(ctx, `SELECT handler_type, attributes, parameters, options FROM object_resources WHERE object_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []cds.CdsResource
	for rows.Next() {
		var handler, attrs, params, opts string
		if err := rows.Scan(&handler, &attrs, &params, &opts); err != nil {
			return nil, err
		}
		r, err := cds.DecodeResource(strings.Join([]string{handler, attrs, params, opts}, "~"))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func writeResources(ctx context.Context, tx *sql.Tx, id int32, resources []cds.CdsResource) error {
	for seq, r := range resources {
		encoded := r.Encode()
		parts := strings.SplitN(encoded, "~", 4)
		for len(parts) < 4 {
			parts = append(parts, "")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO object_resources (object_id, seq, handler_type, attributes, parameters, options) VALUES (?,?,?,?,?,?)`,
			id, seq, parts[0], parts[1], parts[2], parts[3]); err != nil {
			return &cds.DbError{Op: "write resources", Cause: err}
		}
	}
	return nil
}

func fieldsFor(obj cds.CdsObject) (objType int, mime string, part, track int, svc string, bookmark int64, updateID uint32, autoscanType int) {
	switch v := obj.(type) {
	case *cds.Container:
		return int(cds.TypeContainer), "", 0, 0, "", 0, v.UpdateID, int(v.AutoscanType)
	case *cds.Item:
		return int(cds.TypeItem), v.MimeType, v.PartNumber, v.TrackNumber, v.ServiceID, v.BookmarkPosMillis, 0, 0
	case *cds.ExternalItem:
		return int(cds.TypeExternalItem), v.MimeType, 0, 0, "", 0, 0, 0
	default:
		panic("storage: unknown object type")
	}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

var _ cds.Storage = (*SQLiteDatabase)(nil)
