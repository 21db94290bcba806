package dataset

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"bdqcore/pkg/bdq"
)

// candidate delimiters in the order the header scan recognizes them.
var delimiters = []rune{'\t', ',', ';', '|'}

// Read parses payload into a Dataset. The delimiter is taken from the first
// separator character found on the header line (comma when none occurs);
// duplicate header columns are dropped from lookups with a warning; the core
// type comes from the presence of an occurrenceID or taxonID column. Ragged
// rows are fatal: the caller gets a MalformedRow error rather than a silently
// truncated table.
func Read(payload []byte, filename string) (*Dataset, error) {
	if len(payload) == 0 {
		return nil, bdq.Errorf(bdq.ErrNoAttachment, "no tabular payload")
	}
	payload = bytes.TrimPrefix(payload, []byte{0xEF, 0xBB, 0xBF})

	delim := detectDelimiter(headerLine(payload))

	cr := csv.NewReader(bytes.NewReader(payload))
	cr.Comma = delim
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	rawHeader, err := cr.Read()
	if err == io.EOF {
		return nil, bdq.Errorf(bdq.ErrEmptyDataset, "table has no header row")
	}
	if err != nil {
		return nil, bdq.Errorf(bdq.ErrMalformedRow, "parse header: %v", err)
	}

	ds := &Dataset{
		Header:    rawHeader,
		Delimiter: delim,
		Filename:  filename,
		colByKey:  make(map[string]int, len(rawHeader)),
	}
	for i, col := range rawHeader {
		key := bdq.ColumnKey(col)
		if key == "" {
			continue
		}
		if first, dup := ds.colByKey[key]; dup {
			ds.warnings = append(ds.warnings, fmt.Sprintf("duplicate header column %q at position %d ignored (keeping position %d)", col, i, first))
			continue
		}
		ds.colByKey[key] = i
	}

	if err := ds.detectCore(); err != nil {
		return nil, err
	}

	cr.FieldsPerRecord = len(rawHeader)
	rowNum := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) && errors.Is(parseErr.Err, csv.ErrFieldCount) {
				return nil, bdq.Errorf(bdq.ErrMalformedRow, "row %d has %d fields, header has %d", rowNum, len(rec), len(rawHeader)).
					WithContext("row", fmt.Sprint(rowNum))
			}
			return nil, bdq.Errorf(bdq.ErrMalformedRow, "row %d: %v", rowNum, err).WithContext("row", fmt.Sprint(rowNum))
		}
		ds.rows = append(ds.rows, rec)
	}

	if len(ds.rows) == 0 {
		return nil, bdq.Errorf(bdq.ErrEmptyDataset, "table %q has a header but no data rows", filename)
	}
	return ds, nil
}

// detectCore resolves the record-identifier column and core type. Occurrence
// wins when both identifier columns are present.
func (d *Dataset) detectCore() error {
	if idx, ok := d.ResolveColumn("occurrenceID"); ok {
		d.Core = bdq.CoreOccurrence
		d.idColumn = idx
		return nil
	}
	if idx, ok := d.ResolveColumn("taxonID"); ok {
		d.Core = bdq.CoreTaxon
		d.idColumn = idx
		return nil
	}
	return bdq.Errorf(bdq.ErrNoCoreColumn, "header contains neither occurrenceID nor taxonID")
}

// headerLine slices the first physical line of the payload.
func headerLine(payload []byte) string {
	if i := bytes.IndexByte(payload, '\n'); i >= 0 {
		payload = payload[:i]
	}
	return strings.TrimSuffix(string(payload), "\r")
}

// detectDelimiter returns the first candidate separator occurring on the
// header line, comma when none does.
func detectDelimiter(header string) rune {
	best := ','
	bestPos := -1
	for _, d := range delimiters {
		pos := strings.IndexRune(header, d)
		if pos < 0 {
			continue
		}
		if bestPos == -1 || pos < bestPos {
			best = d
			bestPos = pos
		}
	}
	return best
}
