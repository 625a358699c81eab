package search

import (
	"strings"

	"contentdir/internal/cds"
)

// ParseSort parses a "+col1,-col2,col3" sort string into an ordered list of
// (column, direction) per spec §4.7.3. Missing sign defaults to ascending.
// Columns the mapper doesn't recognize are silently skipped — not an error,
// per the spec's S4 scenario.
func ParseSort(s string, mapper ColumnMapper) []cds.SortKey {
	var keys []cds.SortKey
	for _, field := range strings.Split(s, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		desc := false
		switch field[0] {
		case '-':
			desc = true
			field = field[1:]
		case '+':
			field = field[1:]
		}
		if field == "" {
			continue
		}
		column, ok := mapper.Sortable(field)
		if !ok {
			continue
		}
		keys = append(keys, cds.SortKey{Column: column, Desc: desc})
	}
	return keys
}
