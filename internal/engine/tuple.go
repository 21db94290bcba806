package engine

import (
	"strconv"
	"strings"

	"bdqcore/internal/dataset"
)

// Tuple is the ordered, normalized value vector one test reads from one
// record: acted-upon values first, then consulted, each with surrounding
// whitespace stripped. Two records with equal tuples share one provider
// invocation and one cached outcome.
type Tuple []string

// tupleAt extracts the planned test's tuple from row.
func (p *PlannedTest) tupleAt(ds *dataset.Dataset, row int) Tuple {
	out := make(Tuple, len(p.Columns))
	for i, col := range p.Columns {
		out[i] = strings.TrimSpace(ds.Value(row, col))
	}
	return out
}

// Key renders the tuple into a stable length-prefixed encoding. Unlike a
// plain join, the encoding cannot collide across values containing the
// separator character.
func (t Tuple) Key() string {
	var b strings.Builder
	for _, v := range t {
		b.WriteString(strconv.Itoa(len(v)))
		b.WriteByte(':')
		b.WriteString(v)
	}
	return b.String()
}

// Values renders the tuple for the raw-results values column.
func (t Tuple) Values() string {
	return strings.Join(t, "|")
}

// cacheKey scopes a tuple key to the test it belongs to. The descriptor GUID
// is preferred so registry aliases of the same implementation share entries.
func (p *PlannedTest) cacheKey(t Tuple) string {
	return p.Descriptor.Key() + "\x00" + t.Key()
}
