package bdq

import (
	"fmt"
	"strings"
)

// Parameter declares a named scalar parameter a test accepts. Parameters
// without a default must be supplied by the caller for the test to run.
type Parameter struct {
	Name       string `json:"name"`
	Default    string `json:"default,omitempty"`
	HasDefault bool   `json:"has_default"`
}

// Descriptor is the immutable registry entry for one test. ActedUpon columns
// are read and may be amended; Consulted columns are read only. Handle is the
// opaque implementation pointer resolved by the provider.
type Descriptor struct {
	ID         string      `json:"id"`
	GUID       string      `json:"guid,omitempty"`
	Type       TestType    `json:"type"`
	ActedUpon  []string    `json:"acted_upon"`
	Consulted  []string    `json:"consulted,omitempty"`
	Parameters []Parameter `json:"parameters,omitempty"`
	Class      string      `json:"class,omitempty"`
	Handle     string      `json:"handle"`
}

// Key returns the cache key prefix for the descriptor: the GUID when present
// (stable across registry aliases), otherwise the test ID.
func (d Descriptor) Key() string {
	if d.GUID != "" {
		return d.GUID
	}
	return d.ID
}

// Columns returns the full ordered column list the test consumes: acted-upon
// columns first, then consulted. The order fixes the tuple shape.
func (d Descriptor) Columns() []string {
	out := make([]string, 0, len(d.ActedUpon)+len(d.Consulted))
	out = append(out, d.ActedUpon...)
	out = append(out, d.Consulted...)
	return out
}

// RequiredParameters counts parameters without a declared default. Registry
// alias resolution prefers the variant with the fewest required parameters.
func (d Descriptor) RequiredParameters() int {
	n := 0
	for _, p := range d.Parameters {
		if !p.HasDefault {
			n++
		}
	}
	return n
}

// Validate checks the structural requirements every registry entry must meet.
func (d Descriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("descriptor missing test id")
	}
	if strings.TrimSpace(d.Handle) == "" {
		return fmt.Errorf("descriptor %s missing implementation handle", d.ID)
	}
	if !d.Type.Known() {
		return fmt.Errorf("descriptor %s has unknown test type %q", d.ID, d.Type)
	}
	if len(d.ActedUpon) == 0 {
		return fmt.Errorf("descriptor %s declares no acted-upon columns", d.ID)
	}
	for _, c := range d.Columns() {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("descriptor %s declares a blank column name", d.ID)
		}
	}
	seen := make(map[string]struct{}, len(d.Parameters))
	for _, p := range d.Parameters {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("descriptor %s declares a blank parameter name", d.ID)
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("descriptor %s declares parameter %s twice", d.ID, name)
		}
		seen[name] = struct{}{}
	}
	return nil
}
