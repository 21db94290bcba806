package engine

import (
	"fmt"
	"sort"
	"strings"

	"bdqcore/internal/dataset"
	"bdqcore/internal/registry"
	"bdqcore/pkg/bdq"
)

// PlannedTest pairs a registry descriptor with its resolution against one
// dataset: the header index backing each declared column (acted-upon first,
// then consulted, fixing the tuple shape) and the effective parameter set.
type PlannedTest struct {
	Descriptor bdq.Descriptor
	// Order is the test's position in plan order. Raw-results rows for one
	// record are emitted in this order, and amendments apply in this order.
	Order int
	// Columns holds header indices aligned with Descriptor.Columns().
	Columns []int
	// Parameters holds declared defaults overlaid with job-supplied overrides.
	Parameters map[string]string
}

// providerArgs builds the named-argument form of one tuple: data columns under
// their declared (namespaced) names plus the resolved parameters.
func (p *PlannedTest) providerArgs(t Tuple) map[string]string {
	names := p.Descriptor.Columns()
	args := make(map[string]string, len(names)+len(p.Parameters))
	for i, name := range names {
		args[name] = t[i]
	}
	for name, value := range p.Parameters {
		args[name] = value
	}
	return args
}

// Plan is the ordered sequence of tests one job executes: validations, then
// amendments, then issues, then measures, each group in registry natural
// order.
type Plan struct {
	Tests []PlannedTest
}

// Phases splits the plan into its four scheduling phases, preserving plan
// order inside each. Empty phases are included.
func (p *Plan) Phases() [][]*PlannedTest {
	out := make([][]*PlannedTest, 4)
	for i := range p.Tests {
		pt := &p.Tests[i]
		ph := pt.Descriptor.Type.Phase()
		out[ph] = append(out[ph], pt)
	}
	return out
}

// BuildPlan computes the test plan for a dataset: every registry descriptor
// whose columns all resolve against the header, with parameters resolved from
// descriptor defaults and job overrides. Override names matching no planned
// test produce a warning and are dropped. An empty plan is a fatal
// NoApplicableTests error.
func BuildPlan(ds *dataset.Dataset, reg *registry.Registry, paramOverrides map[string]string) (*Plan, []string, error) {
	var tests []PlannedTest
	declared := make(map[string]struct{})

	for _, desc := range reg.Applicable(ds.Header) {
		cols, ok := resolveColumns(ds, desc)
		if !ok {
			continue
		}
		params := resolveParameters(desc, paramOverrides, declared)
		tests = append(tests, PlannedTest{Descriptor: desc, Columns: cols, Parameters: params})
	}

	// Registry natural order is preserved within each phase.
	sort.SliceStable(tests, func(i, j int) bool {
		return tests[i].Descriptor.Type.Phase() < tests[j].Descriptor.Type.Phase()
	})
	for i := range tests {
		tests[i].Order = i
	}

	var warnings []string
	for _, name := range sortedKeys(paramOverrides) {
		if _, ok := declared[paramKey(name)]; !ok {
			warnings = append(warnings, fmt.Sprintf("parameter override %q matches no planned test; ignored", name))
		}
	}

	if len(tests) == 0 {
		return nil, warnings, bdq.Errorf(bdq.ErrNoApplicableTests, "no registered test applies to columns %s", strings.Join(ds.Header, ","))
	}
	return &Plan{Tests: tests}, warnings, nil
}

func resolveColumns(ds *dataset.Dataset, desc bdq.Descriptor) ([]int, bool) {
	names := desc.Columns()
	cols := make([]int, len(names))
	for i, name := range names {
		idx, ok := ds.ResolveColumn(name)
		if !ok {
			return nil, false
		}
		cols[i] = idx
	}
	return cols, true
}

// resolveParameters starts from declared defaults and overlays overrides whose
// name matches a declared parameter (exactly or by folded local name). Every
// declared parameter name is recorded in declared for unknown-override
// detection across the whole plan.
func resolveParameters(desc bdq.Descriptor, overrides map[string]string, declared map[string]struct{}) map[string]string {
	if len(desc.Parameters) == 0 {
		return nil
	}
	params := make(map[string]string, len(desc.Parameters))
	for _, p := range desc.Parameters {
		declared[paramKey(p.Name)] = struct{}{}
		if p.HasDefault {
			params[p.Name] = p.Default
		}
	}
	for name, value := range overrides {
		for _, p := range desc.Parameters {
			if name == p.Name || paramKey(name) == paramKey(p.Name) {
				params[p.Name] = value
				break
			}
		}
	}
	if len(params) == 0 {
		return nil
	}
	return params
}

// paramKey folds a parameter name the same way column lookups fold column
// names, so overrides may omit the namespace prefix.
func paramKey(name string) string {
	return bdq.ColumnKey(name)
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
