// Package cds implements the Content Directory object model: containers,
// items, external items, their metadata and resources, and the shared
// validation/equality rules every storage and dispatch component relies on.
package cds

// ObjectFlag is a bit in an object's flag set.
type ObjectFlag uint32

const (
	FlagRestricted ObjectFlag = 1 << iota
	FlagSearchable
	FlagUseResourceRef
	FlagPersistentContainer
	FlagPlaylistRef
	FlagProxyURL
	FlagOnlineService
	FlagPlayed
)

// Has reports whether f is set in flags.
func (flags ObjectFlag) Has(f ObjectFlag) bool { return flags&f != 0 }

// Set returns flags with f added.
func (flags ObjectFlag) Set(f ObjectFlag) ObjectFlag { return flags | f }

// Clear returns flags with f removed.
func (flags ObjectFlag) Clear(f ObjectFlag) ObjectFlag { return flags &^ f }

// Reserved object ids (spec §6).
const (
	VirtualRootID int32 = 0
	FSRootID      int32 = 1
	UnassignedID  int32 = -1
)

// ObjectType discriminates the CdsObject variants. Go has no tagged-union
// sugar, so dispatch goes through this discriminant rather than type
// assertions sprinkled through the codebase.
type ObjectType int

const (
	TypeContainer ObjectType = iota
	TypeItem
	TypeExternalItem
)

func (t ObjectType) String() string {
	switch t {
	case TypeContainer:
		return "container"
	case TypeItem:
		return "item"
	case TypeExternalItem:
		return "externalItem"
	default:
		return "unknown"
	}
}

// Header holds the fields every CdsObject variant shares (spec §3.1).
type Header struct {
	ID           int32
	ParentID     int32
	RefID        int32 // UnassignedID when absent
	Title        string
	UpnpClass    string
	Location     string
	Mtime        int64
	Utime        int64
	SizeOnDisk   int64
	Virtual      bool
	Flags        ObjectFlag
	SortPriority int
	Metadata     MetadataList
	Auxdata      map[string]string
	Resources    []CdsResource
}

// CdsObject is the tagged sum Container | Item | ExternalItem. Every variant
// embeds Header and reports its own ObjectType.
type CdsObject interface {
	Type() ObjectType
	Head() *Header
	IsItem() bool
	IsContainer() bool
	IsExternalItem() bool
}

// Container is a CDS container node. UpdateID/ChildCount/AutoscanType are
// container-only per spec §3.1.
type Container struct {
	Header
	UpdateID     uint32
	ChildCount   int
	AutoscanType AutoscanType
}

// AutoscanType records how (if at all) a container is kept in sync.
type AutoscanType int

const (
	AutoscanNone AutoscanType = iota
	AutoscanUI
	AutoscanConfig
)

func (c *Container) Type() ObjectType      { return TypeContainer }
func (c *Container) Head() *Header         { return &c.Header }
func (c *Container) IsItem() bool          { return false }
func (c *Container) IsContainer() bool     { return true }
func (c *Container) IsExternalItem() bool  { return false }

// Item is a physical CDS item (1:1 filesystem mapping, possibly virtual).
type Item struct {
	Header
	MimeType           string
	PartNumber         int
	TrackNumber        int
	ServiceID          string
	BookmarkPosMillis  int64
}

func (i *Item) Type() ObjectType     { return TypeItem }
func (i *Item) Head() *Header        { return &i.Header }
func (i *Item) IsItem() bool         { return true }
func (i *Item) IsContainer() bool    { return false }
func (i *Item) IsExternalItem() bool { return false }

// ExternalItem is an item whose Location is a URL; byte serving delegates to
// a proxy/redirect resource handler rather than a local file.
type ExternalItem struct {
	Header
	MimeType string
}

func (e *ExternalItem) Type() ObjectType     { return TypeExternalItem }
func (e *ExternalItem) Head() *Header        { return &e.Header }
func (e *ExternalItem) IsItem() bool         { return false }
func (e *ExternalItem) IsContainer() bool    { return false }
func (e *ExternalItem) IsExternalItem() bool { return true }

// Create returns a zero-value object of the requested type with sane
// defaults (spec §4.1).
func Create(t ObjectType) CdsObject {
	switch t {
	case TypeContainer:
		return &Container{Header: newHeader()}
	case TypeItem:
		return &Item{Header: newHeader()}
	case TypeExternalItem:
		return &ExternalItem{Header: newHeader()}
	default:
		panic("cds: unknown object type")
	}
}

func newHeader() Header {
	return Header{
		ID:       UnassignedID,
		ParentID: UnassignedID,
		RefID:    UnassignedID,
		Auxdata:  make(map[string]string),
	}
}

// CopyTo deep-copies src onto a freshly allocated object of the same type,
// including ID and ParentID; metadata, auxdata and resources are copied so
// the result can be mutated without touching src.
func CopyTo(src CdsObject) CdsObject {
	switch o := src.(type) {
	case *Container:
		cp := *o
		cp.Header = copyHeader(o.Header)
		return &cp
	case *Item:
		cp := *o
		cp.Header = copyHeader(o.Header)
		return &cp
	case *ExternalItem:
		cp := *o
		cp.Header = copyHeader(o.Header)
		return &cp
	default:
		panic("cds: unknown object type")
	}
}

func copyHeader(h Header) Header {
	cp := h
	cp.Metadata = append(MetadataList(nil), h.Metadata...)
	cp.Auxdata = make(map[string]string, len(h.Auxdata))
	for k, v := range h.Auxdata {
		cp.Auxdata[k] = v
	}
	cp.Resources = append([]CdsResource(nil), h.Resources...)
	return cp
}

// Equals compares two objects. In exact=false mode only DIDL-visible fields
// are compared (title, class, location, mime, metadata, resources). In
// exact=true mode id/parentId/flags/utime/bookmarkPosMillis are compared too.
//
// bookmarkPosMillis IS included in exact mode: the original implementation's
// omission is treated here as a bug rather than an intentional carve-out,
// since it is the one DIDL-invisible identity field exact mode otherwise
// exists to catch (see DESIGN.md).
func Equals(a, b CdsObject, exact bool) bool {
	if a.Type() != b.Type() {
		return false
	}
	ah, bh := a.Head(), b.Head()

	if ah.Title != bh.Title || ah.UpnpClass != bh.UpnpClass || ah.Location != bh.Location {
		return false
	}
	if !metadataEqual(ah.Metadata, bh.Metadata) {
		return false
	}
	if !resourcesEqual(ah.Resources, bh.Resources) {
		return false
	}
	if mimeOf(a) != mimeOf(b) {
		return false
	}

	if !exact {
		return true
	}

	if ah.ID != bh.ID || ah.ParentID != bh.ParentID || ah.Flags != bh.Flags || ah.Utime != bh.Utime {
		return false
	}
	if ai, aok := a.(*Item); aok {
		bi := b.(*Item)
		if ai.BookmarkPosMillis != bi.BookmarkPosMillis {
			return false
		}
	}
	return true
}

func mimeOf(o CdsObject) string {
	switch v := o.(type) {
	case *Item:
		return v.MimeType
	case *ExternalItem:
		return v.MimeType
	default:
		return ""
	}
}

func metadataEqual(a, b MetadataList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func resourcesEqual(a, b []CdsResource) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(&b[i]) {
			return false
		}
	}
	return true
}
