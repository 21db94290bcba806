package dataset

import (
	"strings"
	"testing"

	"bdqcore/pkg/bdq"
)

func TestReadDetectsDelimiters(t *testing.T) {
	cases := []struct {
		name  string
		input string
		want  rune
	}{
		{"comma", "occurrenceID,countryCode\no1,US\n", ','},
		{"tab", "occurrenceID\tcountryCode\no1\tUS\n", '\t'},
		{"semicolon", "occurrenceID;countryCode\no1;US\n", ';'},
		{"pipe", "occurrenceID|countryCode\no1|US\n", '|'},
		{"single column defaults to comma", "occurrenceID\no1\n", ','},
		{"earliest separator wins", "occurrenceID\tcountry,code\no1\tUS\n", '\t'},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ds, err := Read([]byte(tc.input), "in.csv")
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if ds.Delimiter != tc.want {
				t.Fatalf("delimiter = %q, want %q", ds.Delimiter, tc.want)
			}
		})
	}
}

func TestReadCoreTypeDetection(t *testing.T) {
	occ, err := Read([]byte("dwc:occurrenceID,dwc:countryCode\no1,US\n"), "occ.csv")
	if err != nil {
		t.Fatalf("read occurrence: %v", err)
	}
	if occ.Core != bdq.CoreOccurrence {
		t.Fatalf("core = %s, want occurrence", occ.Core)
	}
	if occ.RecordID(0) != "o1" {
		t.Fatalf("record id = %q, want o1", occ.RecordID(0))
	}

	tax, err := Read([]byte("taxonID,scientificName\nt1,Rana temporaria\n"), "tax.csv")
	if err != nil {
		t.Fatalf("read taxon: %v", err)
	}
	if tax.Core != bdq.CoreTaxon {
		t.Fatalf("core = %s, want taxon", tax.Core)
	}

	// Occurrence wins when both identifier columns are present.
	both, err := Read([]byte("taxonID,occurrenceID\nt1,o1\n"), "both.csv")
	if err != nil {
		t.Fatalf("read both: %v", err)
	}
	if both.Core != bdq.CoreOccurrence || both.RecordID(0) != "o1" {
		t.Fatalf("core = %s id = %q, want occurrence/o1", both.Core, both.RecordID(0))
	}
}

func TestReadFailureKinds(t *testing.T) {
	cases := []struct {
		name  string
		input string
		kind  bdq.ErrorKind
	}{
		{"no bytes", "", bdq.ErrNoAttachment},
		{"header only", "occurrenceID,countryCode\n", bdq.ErrEmptyDataset},
		{"blank payload", "\n", bdq.ErrEmptyDataset},
		{"no core column", "countryCode,eventDate\nUS,1880\n", bdq.ErrNoCoreColumn},
		{"ragged row", "occurrenceID,countryCode\no1,US,extra\n", bdq.ErrMalformedRow},
		{"short row", "occurrenceID,countryCode\no1\n", bdq.ErrMalformedRow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Read([]byte(tc.input), "bad.csv")
			if err == nil {
				t.Fatal("expected error")
			}
			if got := bdq.KindOf(err); got != tc.kind {
				t.Fatalf("kind = %s, want %s", got, tc.kind)
			}
		})
	}
}

func TestReadHeaderOnlyBlankLinesIsEmpty(t *testing.T) {
	// Trailing blank lines are not data rows.
	_, err := Read([]byte("occurrenceID,countryCode\n\n\n"), "blank.csv")
	if bdq.KindOf(err) != bdq.ErrEmptyDataset {
		t.Fatalf("kind = %s, want EmptyDataset", bdq.KindOf(err))
	}
}

func TestResolveColumnNamespaceAndCase(t *testing.T) {
	ds, err := Read([]byte("dwc:occurrenceID,dwc:countryCode,EventDate\no1,US,1880-05-08\n"), "in.csv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	for _, name := range []string{"countryCode", "dwc:countryCode", "COUNTRYCODE", "dwc:CountryCode"} {
		idx, ok := ds.ResolveColumn(name)
		if !ok || idx != 1 {
			t.Fatalf("resolve %q = (%d,%v), want (1,true)", name, idx, ok)
		}
	}
	if idx, ok := ds.ResolveColumn("dwc:eventDate"); !ok || idx != 2 {
		t.Fatalf("resolve eventDate = (%d,%v), want (2,true)", idx, ok)
	}
	if _, ok := ds.ResolveColumn("decimalLatitude"); ok {
		t.Fatal("absent column must not resolve")
	}
}

func TestDuplicateHeaderKeepsFirstOccurrence(t *testing.T) {
	ds, err := Read([]byte("occurrenceID,countryCode,dwc:countryCode\no1,US,GB\n"), "dup.csv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(ds.Header) != 3 {
		t.Fatalf("header len = %d, want 3 (duplicates preserved verbatim)", len(ds.Header))
	}
	idx, ok := ds.ResolveColumn("countryCode")
	if !ok || idx != 1 {
		t.Fatalf("resolve = (%d,%v), want first occurrence (1,true)", idx, ok)
	}
	warnings := ds.Warnings()
	if len(warnings) != 1 || !strings.Contains(warnings[0], "duplicate header column") {
		t.Fatalf("warnings = %v, want one duplicate warning", warnings)
	}
	// The duplicate cell stays addressable by position for output fidelity.
	if ds.Value(0, 2) != "GB" {
		t.Fatalf("value(0,2) = %q, want GB", ds.Value(0, 2))
	}
}

func TestReadPreservesRowOrderAndValues(t *testing.T) {
	input := "occurrenceID,countryCode\no1,US\no2,\no3, padded \n"
	ds, err := Read([]byte(input), "in.csv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ds.Len() != 3 {
		t.Fatalf("rows = %d, want 3", ds.Len())
	}
	// Cell values are raw: the reader does not trim or normalize.
	if got := ds.Value(2, 1); got != " padded " {
		t.Fatalf("value(2,1) = %q, want raw padded value", got)
	}
	for i, want := range []string{"o1", "o2", "o3"} {
		if ds.RecordID(i) != want {
			t.Fatalf("record %d id = %q, want %q", i, ds.RecordID(i), want)
		}
	}
}

func TestReadStripsByteOrderMark(t *testing.T) {
	input := append([]byte{0xEF, 0xBB, 0xBF}, []byte("occurrenceID,countryCode\no1,US\n")...)
	ds, err := Read(input, "bom.csv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if _, ok := ds.ResolveColumn("occurrenceID"); !ok {
		t.Fatal("BOM must not mask the identifier column")
	}
}

func TestReadHandlesCRLF(t *testing.T) {
	ds, err := Read([]byte("occurrenceID\tcountryCode\r\no1\tUS\r\n"), "crlf.tsv")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if ds.Delimiter != '\t' {
		t.Fatalf("delimiter = %q, want tab", ds.Delimiter)
	}
	if ds.Value(0, 1) != "US" {
		t.Fatalf("value = %q, want US", ds.Value(0, 1))
	}
}
