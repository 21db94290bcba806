// Package dataset parses delimited Darwin Core tables into the immutable
// row-oriented form the assessment pipeline consumes. Delimiter, header, and
// core type are detected from the payload itself; the advisory filename is
// used for diagnostics only.
package dataset

import (
	"bdqcore/pkg/bdq"
)

// Dataset is a fully parsed table. It is read-only after Read returns and is
// safe to share across executor workers without further locking.
type Dataset struct {
	// Header holds the original header tokens in input order, including any
	// duplicates that were dropped from lookups. Output tables reproduce it
	// verbatim.
	Header []string
	// Delimiter is the detected field separator.
	Delimiter rune
	// Core is the detected record grain (occurrence or taxon).
	Core bdq.CoreType
	// Filename is the advisory name the payload arrived under.
	Filename string

	idColumn int
	rows     [][]string
	colByKey map[string]int
	warnings []string
}

// Len reports the number of data rows.
func (d *Dataset) Len() int { return len(d.rows) }

// Row returns the cells of row i aligned to Header. Callers must not mutate
// the returned slice.
func (d *Dataset) Row(i int) []string { return d.rows[i] }

// Value returns the cell at (row, column index).
func (d *Dataset) Value(row, col int) string { return d.rows[row][col] }

// ResolveColumn maps a column name to its header index. Matching is
// case-insensitive on the local name and tolerant of a namespace prefix;
// duplicate header names resolve to their first occurrence.
func (d *Dataset) ResolveColumn(name string) (int, bool) {
	idx, ok := d.colByKey[bdq.ColumnKey(name)]
	return idx, ok
}

// IDColumn returns the header index of the record-identifier column.
func (d *Dataset) IDColumn() int { return d.idColumn }

// RecordID returns the record-identifier value of row i, reproduced verbatim.
func (d *Dataset) RecordID(i int) string { return d.rows[i][d.idColumn] }

// Warnings returns parse-time warnings (dropped duplicate header columns).
func (d *Dataset) Warnings() []string {
	out := make([]string, len(d.warnings))
	copy(out, d.warnings)
	return out
}
