package engine

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Table is a delimited output table. The amended dataset carries the input's
// detected delimiter so it round-trips; the raw-results table is always
// comma separated.
type Table struct {
	Header    []string
	Rows      [][]string
	Delimiter rune
}

// Encode writes the table as delimiter-separated text with a header row.
func (t *Table) Encode(w io.Writer) error {
	cw := csv.NewWriter(w)
	if t.Delimiter != 0 {
		cw.Comma = t.Delimiter
	}
	if err := cw.Write(t.Header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, row := range t.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Bytes renders the table to memory.
func (t *Table) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
