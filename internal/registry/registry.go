// Package registry loads the test-descriptor table and answers
// applicability queries against dataset headers. The registry is built once
// at startup and is immutable afterwards; a single instance serves every job.
package registry

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"bdqcore/pkg/bdq"
)

// Registry is the immutable set of known tests in natural (first-seen) order.
type Registry struct {
	entries []bdq.Descriptor
	byID    map[string]int
	byGUID  map[string]int
}

// columnAliases maps accepted registry header spellings to canonical fields.
// Sources in the wild label the test identifier either "testID" or "Label"
// and the implementation pointer either "handle" or "implementation".
var columnAliases = map[string]string{
	"testid":                  "testID",
	"label":                   "testID",
	"guid":                    "guid",
	"type":                    "type",
	"testtype":                "type",
	"actedupon":               "actedUpon",
	"consulted":               "consulted",
	"parameters":              "parameters",
	"class":                   "class",
	"informationelementclass": "class",
	"handle":                  "handle",
	"implementation":          "handle",
}

// Load parses a descriptor table from r. The table is comma-separated with a
// header row; multi-valued cells (acted-upon, consulted, parameters) separate
// entries with "|". Aliased descriptors (same testID) collapse to the variant
// with the fewest required parameters, first-seen winning ties; each collapse
// is reported as a warning. Any structural problem aborts the load with a
// RegistryInvalid error.
func Load(r io.Reader) (*Registry, []string, error) {
	if r == nil {
		return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry source missing")
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry source empty")
	}
	if err != nil {
		return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "read registry header: %v", err)
	}
	fields, err := mapHeader(header)
	if err != nil {
		return nil, nil, err
	}

	var warnings []string
	order := make([]string, 0, 64)
	chosen := make(map[string]bdq.Descriptor)
	row := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		row++
		if err != nil {
			return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry row %d: %v", row, err)
		}
		if blankRow(rec) {
			continue
		}
		desc, err := parseDescriptor(fields, rec)
		if err != nil {
			return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry row %d: %v", row, err)
		}
		prev, seen := chosen[desc.ID]
		if !seen {
			order = append(order, desc.ID)
			chosen[desc.ID] = desc
			continue
		}
		// Alias collapse: keep the default-bearing variant.
		if desc.RequiredParameters() < prev.RequiredParameters() {
			chosen[desc.ID] = desc
			warnings = append(warnings, fmt.Sprintf("registry: %s appears more than once; keeping variant with %d required parameters", desc.ID, desc.RequiredParameters()))
		} else {
			warnings = append(warnings, fmt.Sprintf("registry: %s appears more than once; keeping first-seen variant", desc.ID))
		}
	}

	if len(order) == 0 {
		return nil, nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry yields zero descriptors")
	}

	reg := &Registry{
		entries: make([]bdq.Descriptor, 0, len(order)),
		byID:    make(map[string]int, len(order)),
		byGUID:  make(map[string]int, len(order)),
	}
	for _, id := range order {
		d := chosen[id]
		idx := len(reg.entries)
		reg.entries = append(reg.entries, d)
		reg.byID[d.ID] = idx
		if d.GUID != "" {
			if _, dup := reg.byGUID[d.GUID]; !dup {
				reg.byGUID[d.GUID] = idx
			}
		}
	}
	return reg, warnings, nil
}

func mapHeader(header []string) (map[string]int, error) {
	fields := make(map[string]int, len(header))
	for i, raw := range header {
		key := strings.ToLower(strings.TrimSpace(raw))
		canonical, ok := columnAliases[key]
		if !ok {
			continue
		}
		if _, dup := fields[canonical]; !dup {
			fields[canonical] = i
		}
	}
	for _, required := range []string{"testID", "type", "actedUpon", "handle"} {
		if _, ok := fields[required]; !ok {
			return nil, bdq.Errorf(bdq.ErrRegistryInvalid, "registry header missing %s column", required)
		}
	}
	return fields, nil
}

func parseDescriptor(fields map[string]int, rec []string) (bdq.Descriptor, error) {
	get := func(name string) string {
		idx, ok := fields[name]
		if !ok || idx >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[idx])
	}
	desc := bdq.Descriptor{
		ID:        get("testID"),
		GUID:      get("guid"),
		Type:      bdq.TestType(get("type")),
		ActedUpon: splitCell(get("actedUpon")),
		Consulted: splitCell(get("consulted")),
		Class:     get("class"),
		Handle:    get("handle"),
	}
	params, err := parseParameters(get("parameters"))
	if err != nil {
		return bdq.Descriptor{}, fmt.Errorf("%s: %w", desc.ID, err)
	}
	desc.Parameters = params
	if err := desc.Validate(); err != nil {
		return bdq.Descriptor{}, err
	}
	return desc, nil
}

// splitCell splits a pipe-separated multi-value cell, dropping blanks.
func splitCell(cell string) []string {
	if cell == "" {
		return nil
	}
	parts := strings.Split(cell, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseParameters parses "name=default|name" entries. A bare name is a
// required parameter; "name=" declares an empty-string default.
func parseParameters(cell string) ([]bdq.Parameter, error) {
	if cell == "" {
		return nil, nil
	}
	parts := strings.Split(cell, "|")
	out := make([]bdq.Parameter, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, def, has := strings.Cut(p, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("parameter entry %q has no name", p)
		}
		out = append(out, bdq.Parameter{Name: name, Default: strings.TrimSpace(def), HasDefault: has})
	}
	return out, nil
}

func blankRow(rec []string) bool {
	for _, cell := range rec {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// List returns all descriptors in natural order.
func (r *Registry) List() []bdq.Descriptor {
	out := make([]bdq.Descriptor, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of registered tests.
func (r *Registry) Len() int { return len(r.entries) }

// Applicable returns, in natural order, the descriptors whose acted-upon and
// consulted columns all resolve against the given header. Matching is
// case-insensitive on local names and tolerant of namespace prefixes.
func (r *Registry) Applicable(header []string) []bdq.Descriptor {
	present := make(map[string]struct{}, len(header))
	for _, col := range header {
		present[bdq.ColumnKey(col)] = struct{}{}
	}
	var out []bdq.Descriptor
	for _, d := range r.entries {
		if columnsPresent(d, present) {
			out = append(out, d)
		}
	}
	return out
}

func columnsPresent(d bdq.Descriptor, present map[string]struct{}) bool {
	for _, col := range d.Columns() {
		if _, ok := present[bdq.ColumnKey(col)]; !ok {
			return false
		}
	}
	return true
}

// Lookup resolves a descriptor by test ID or GUID.
func (r *Registry) Lookup(query string) (bdq.Descriptor, error) {
	if idx, ok := r.byID[query]; ok {
		return r.entries[idx], nil
	}
	if idx, ok := r.byGUID[query]; ok {
		return r.entries[idx], nil
	}
	return bdq.Descriptor{}, bdq.NotFoundError{Query: query}
}
