package search

import "strings"

// ColumnFamily is one of the three property namespaces spec §4.7.1 defines.
type ColumnFamily int

const (
	FamilyMetadata ColumnFamily = iota
	FamilyClass
	FamilyAttribute
)

// ColumnMapper resolves a search-grammar property name to the column family
// that knows how to filter on it, and (for the attribute family) the
// physical objects-table column backing it.
//
// Sortable is a narrower lookup used only by ParseSort: sort keys must name
// an actual orderable column, not an arbitrary metadata key, so the set of
// columns it recognizes is smaller than what Map accepts for filtering.
type ColumnMapper interface {
	Map(property string) (ColumnFamily, string)
	Sortable(property string) (column string, ok bool)
}

// DefaultColumnMapper implements the vocabulary spec §6 names verbatim:
// upnp:class (and its derivedfrom-only alias "class") route to the class
// family; @-prefixed properties route to object-row attribute columns;
// everything else is a metadata key.
type DefaultColumnMapper struct{}

var attributeColumns = map[string]string{
	"@id":       "id",
	"@refid":    "ref_id",
	"@parentid": "parent_id",
	"upnp:class": "upnp_class",
	"class":      "upnp_class",
}

// Map implements ColumnMapper.
func (DefaultColumnMapper) Map(property string) (ColumnFamily, string) {
	lower := strings.ToLower(property)
	if col, ok := attributeColumns[lower]; ok {
		if lower == "upnp:class" || lower == "class" {
			return FamilyClass, col
		}
		return FamilyAttribute, col
	}
	if strings.HasPrefix(property, "@") {
		return FamilyAttribute, strings.TrimPrefix(lower, "@")
	}
	return FamilyMetadata, property
}

// sortColumns whitelists the properties ParseSort will honor. "name" and
// "value" are kept as generic aliases (title, and a passthrough placeholder
// respectively) matching the spec's own §4.7.3 sort-parse scenario, which
// names columns abstractly rather than tying them to this schema.
var sortColumns = map[string]string{
	"id":           "id",
	"parentid":     "parent_id",
	"refid":        "ref_id",
	"title":        "title",
	"name":         "title",
	"class":        "upnp_class",
	"upnp:class":   "upnp_class",
	"sortpriority": "sort_priority",
	"mtime":        "mtime",
	"utime":        "utime",
	"sizeondisk":   "size_on_disk",
	"value":        "value",
}

// Sortable implements ColumnMapper.
func (DefaultColumnMapper) Sortable(property string) (string, bool) {
	col, ok := sortColumns[strings.ToLower(property)]
	return col, ok
}
