package storage

import (
	"context"
	"testing"

	"contentdir/internal/cds"
)

func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()
	db, err := NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteDatabase: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func newItem(parent int32, title, location, mime string) *cds.Item {
	h := cds.Header{
		ID: cds.UnassignedID, ParentID: parent, RefID: cds.UnassignedID,
		Title: title, UpnpClass: "object.item", Location: location,
		Auxdata: map[string]string{},
	}
	return &cds.Item{Header: h, MimeType: mime}
}

func TestInsertLoadRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := newItem(cds.FSRootID, "Track One", "/music/track1.mp3", "audio/mpeg")
	item.Metadata = item.Metadata.Append(cds.MetaArtist, "Example Artist")
	item.Resources = []cds.CdsResource{cds.NewResource(cds.HandlerDefault)}
	item.Resources[0].Attributes[cds.AttrProtocolInfo] = "http-get:*:audio/mpeg:*"

	id, err := db.Insert(ctx, item)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if id == cds.UnassignedID {
		t.Fatal("Insert returned UnassignedID")
	}

	loaded, err := db.Load(ctx, id)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cds.Equals(item, loaded, false) {
		t.Fatalf("loaded object does not match inserted object:\n got %+v\nwant %+v", loaded.Head(), item.Head())
	}
	li, ok := loaded.(*cds.Item)
	if !ok {
		t.Fatalf("loaded object is not an Item: %T", loaded)
	}
	if v, ok := li.Metadata.First(cds.MetaArtist); !ok || v != "Example Artist" {
		t.Fatalf("artist metadata not round-tripped, got %q ok=%v", v, ok)
	}
	if len(li.Resources) != 1 || li.Resources[0].Attributes[cds.AttrProtocolInfo] != "http-get:*:audio/mpeg:*" {
		t.Fatalf("resources not round-tripped: %+v", li.Resources)
	}
}

func TestInsertDuplicateLocationRejected(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	a := newItem(cds.FSRootID, "A", "/music/dup.mp3", "audio/mpeg")
	if _, err := db.Insert(ctx, a); err != nil {
		t.Fatalf("Insert a: %v", err)
	}
	b := newItem(cds.FSRootID, "B", "/music/dup.mp3", "audio/mpeg")
	if _, err := db.Insert(ctx, b); err == nil {
		t.Fatal("expected duplicate location insert to fail (invariant 4)")
	}
}

func TestChildCountReflectsInserts(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	container := &cds.Container{Header: cds.Header{
		ID: cds.UnassignedID, ParentID: cds.FSRootID, RefID: cds.UnassignedID,
		Title: "Album", UpnpClass: "object.container", Auxdata: map[string]string{},
	}}
	cid, err := db.Insert(ctx, container)
	if err != nil {
		t.Fatalf("Insert container: %v", err)
	}

	for i := 0; i < 3; i++ {
		item := newItem(cid, "Track", "/music/album/t"+string(rune('0'+i))+".mp3", "audio/mpeg")
		if _, err := db.Insert(ctx, item); err != nil {
			t.Fatalf("Insert track %d: %v", i, err)
		}
	}

	loaded, err := db.Load(ctx, cid)
	if err != nil {
		t.Fatalf("Load container: %v", err)
	}
	lc := loaded.(*cds.Container)
	if lc.ChildCount != 3 {
		t.Fatalf("ChildCount = %d, want 3", lc.ChildCount)
	}

	objs, total, err := db.Browse(ctx, cid, 0, 0, nil)
	if err != nil {
		t.Fatalf("Browse: %v", err)
	}
	if total != 3 || len(objs) != 3 {
		t.Fatalf("Browse returned total=%d len=%d, want 3/3", total, len(objs))
	}
}

func TestUpdateIDMonotonic(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first, err := db.IncrementUpdateID(ctx, cds.FSRootID)
	if err != nil {
		t.Fatalf("IncrementUpdateID: %v", err)
	}
	second, err := db.IncrementUpdateID(ctx, cds.FSRootID)
	if err != nil {
		t.Fatalf("IncrementUpdateID: %v", err)
	}
	if second <= first {
		t.Fatalf("updateId did not increase: first=%d second=%d", first, second)
	}

	snap, err := db.SnapshotUpdateIDs(ctx)
	if err != nil {
		t.Fatalf("SnapshotUpdateIDs: %v", err)
	}
	if snap[cds.FSRootID] != second {
		t.Fatalf("snapshot[%d] = %d, want %d", cds.FSRootID, snap[cds.FSRootID], second)
	}
}

func TestInsertBumpsParentUpdateID(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	before, err := db.SnapshotUpdateIDs(ctx)
	if err != nil {
		t.Fatalf("SnapshotUpdateIDs: %v", err)
	}

	item := newItem(cds.FSRootID, "New Track", "/music/new.mp3", "audio/mpeg")
	if _, err := db.Insert(ctx, item); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	after, err := db.SnapshotUpdateIDs(ctx)
	if err != nil {
		t.Fatalf("SnapshotUpdateIDs: %v", err)
	}
	if after[cds.FSRootID] <= before[cds.FSRootID] {
		t.Fatalf("parent updateId not bumped by Insert: before=%d after=%d", before[cds.FSRootID], after[cds.FSRootID])
	}
}

func TestRemoveSubtreeRejectsExternalReferrer(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := newItem(cds.FSRootID, "Source", "/music/source.mp3", "audio/mpeg")
	srcID, err := db.Insert(ctx, item)
	if err != nil {
		t.Fatalf("Insert source: %v", err)
	}

	ref := newItem(cds.VirtualRootID, "Playlisted", "/music/source.mp3", "audio/mpeg")
	ref.RefID = srcID
	ref.Header.Virtual = true
	if _, err := db.Insert(ctx, ref); err != nil {
		t.Fatalf("Insert ref: %v", err)
	}

	if err := db.RemoveSubtree(ctx, srcID, false); err == nil {
		t.Fatal("expected RemoveSubtree to fail with an external referrer present")
	}

	if err := db.RemoveSubtree(ctx, srcID, true); err != nil {
		t.Fatalf("RemoveSubtree with allowRefs=true: %v", err)
	}
	if _, err := db.Load(ctx, srcID); err == nil {
		t.Fatal("expected source object to be gone after RemoveSubtree")
	}
}

func TestFindByPath(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	item := newItem(cds.FSRootID, "Findable", "/music/findable.mp3", "audio/mpeg")
	id, err := db.Insert(ctx, item)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	found, err := db.FindByPath(ctx, "/music/findable.mp3", true)
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if found != id {
		t.Fatalf("FindByPath = %d, want %d", found, id)
	}

	missing, err := db.FindByPath(ctx, "/music/missing.mp3", true)
	if err != nil {
		t.Fatalf("FindByPath: %v", err)
	}
	if missing != cds.UnassignedID {
		t.Fatalf("FindByPath for missing path = %d, want UnassignedID", missing)
	}
}
