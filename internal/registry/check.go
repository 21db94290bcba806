package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"bdqcore/pkg/bdq"
)

// Report collects registry diagnostics. Errors would make Load reject the
// source; warnings survive loading but deserve attention.
type Report struct {
	Tests    int
	Errors   []string
	Warnings []string
}

// OK reports whether the source would load.
func (r *Report) OK() bool { return len(r.Errors) == 0 }

func (r *Report) errorf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) warnf(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Check walks the whole descriptor table and reports every problem found,
// unlike Load, which stops at the first structural error. Used by the
// registry-check command.
func Check(source io.Reader) *Report {
	report := &Report{}
	if source == nil {
		report.errorf("registry source missing")
		return report
	}
	cr := csv.NewReader(source)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		report.errorf("registry source empty")
		return report
	}
	if err != nil {
		report.errorf("read registry header: %v", err)
		return report
	}
	fields, err := mapHeader(header)
	if err != nil {
		report.errorf("%v", err)
		return report
	}

	firstRow := make(map[string]int)
	guidRow := make(map[string]int)
	guidID := make(map[string]string)
	row := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			report.errorf("row %d: %v", row, err)
			continue
		}
		if blankRow(rec) {
			continue
		}
		desc, err := parseDescriptor(fields, rec)
		if err != nil {
			report.errorf("row %d: %v", row, err)
			continue
		}
		report.Tests++

		checkColumnNamespaces(report, row, desc)

		if prev, dup := firstRow[desc.ID]; dup {
			report.warnf("row %d: %s already declared at row %d; loading keeps the variant with fewer required parameters", row, desc.ID, prev)
		} else {
			firstRow[desc.ID] = row
		}
		if desc.GUID != "" {
			if prev, dup := guidRow[desc.GUID]; dup && guidID[desc.GUID] != desc.ID {
				report.errorf("row %d: GUID %s already used by %s at row %d", row, desc.GUID, guidID[desc.GUID], prev)
			} else if !dup {
				guidRow[desc.GUID] = row
				guidID[desc.GUID] = desc.ID
			}
		}
	}

	if report.Tests == 0 && len(report.Errors) == 0 {
		report.errorf("registry yields zero descriptors")
	}
	return report
}

// checkColumnNamespaces flags column names whose namespace prefix is not
// dwc, dcterms, or bdq. Unprefixed names are fine; registries in the wild
// mix both forms.
func checkColumnNamespaces(report *Report, row int, desc bdq.Descriptor) {
	for _, col := range desc.Columns() {
		prefix, _, ok := strings.Cut(col, ":")
		if !ok {
			continue
		}
		switch strings.ToLower(prefix) {
		case "dwc", "dcterms", "bdq":
		default:
			report.warnf("row %d: %s column %q has unrecognized namespace prefix %q", row, desc.ID, col, prefix)
		}
	}
}
