package contentmgr

import (
	"context"

	"contentdir/internal/cds"
)

// storageCallbacks adapts ContentManager to the transformer.Callbacks seam
// (spec §4.4), backed directly by Storage and the manager's own
// container-chain logic.
type storageCallbacks struct {
	mgr *ContentManager
}

func (c *storageCallbacks) CopyObject(o cds.CdsObject) cds.CdsObject {
	return deepCopy(o)
}

func (c *storageCallbacks) AddContainerTree(ctx context.Context, chain []cds.CdsObject) (int32, error) {
	id, _, err := c.mgr.AddContainerTree(ctx, chain)
	return id, err
}

func (c *storageCallbacks) AddCdsObject(ctx context.Context, o cds.CdsObject, parentID int32, orig cds.CdsObject, playlistRef bool) (int32, error) {
	h := o.Head()
	h.ID = cds.UnassignedID
	h.ParentID = parentID
	if orig != nil {
		h.RefID = orig.Head().ID
		if playlistRef {
			h.Flags |= cds.FlagPlaylistRef
		} else {
			h.Flags |= cds.FlagUseResourceRef
		}
	}
	return c.mgr.storage.Insert(ctx, o)
}

func deepCopy(o cds.CdsObject) cds.CdsObject {
	switch v := o.(type) {
	case *cds.Container:
		cp := *v
		cp.Header = copyHeader(v.Header)
		return &cp
	case *cds.Item:
		cp := *v
		cp.Header = copyHeader(v.Header)
		return &cp
	case *cds.ExternalItem:
		cp := *v
		cp.Header = copyHeader(v.Header)
		return &cp
	default:
		return o
	}
}

func copyHeader(h cds.Header) cds.Header {
	cp := h
	if h.Auxdata != nil {
		cp.Auxdata = make(map[string]string, len(h.Auxdata))
		for k, v := range h.Auxdata {
			cp.Auxdata[k] = v
		}
	}
	cp.Metadata = append(cds.MetadataList(nil), h.Metadata...)
	cp.Resources = append([]cds.CdsResource(nil), h.Resources...)
	return cp
}

var _ interface {
	CopyObject(cds.CdsObject) cds.CdsObject
	AddContainerTree(context.Context, []cds.CdsObject) (int32, error)
	AddCdsObject(context.Context, cds.CdsObject, int32, cds.CdsObject, bool) (int32, error)
} = (*storageCallbacks)(nil)
