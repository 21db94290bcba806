package engine

import (
	"sort"

	"bdqcore/pkg/bdq"
)

// topFailureK bounds the most-common non-pass values reported per test.
const topFailureK = 5

// unclassified keys per-class aggregation for tests without a declared
// information-element class.
const unclassified = "unclassified"

// TestSummary aggregates one planned test's outcomes across all rows.
type TestSummary struct {
	ID             string       `json:"id"`
	Type           bdq.TestType `json:"type"`
	Class          string       `json:"class,omitempty"`
	Rows           int          `json:"rows"`
	DistinctTuples int          `json:"distinct_tuples"`
	Passed         int          `json:"passed"`
	Failed         int          `json:"failed"`
	Amended        int          `json:"amended"`
	FilledIn       int          `json:"filled_in"`
	Skipped        int          `json:"skipped"`
}

// ClassSummary rolls test tallies up to the information-element class.
type ClassSummary struct {
	Class    string `json:"class"`
	Tests    int    `json:"tests"`
	Passed   int    `json:"passed"`
	Failed   int    `json:"failed"`
	Amended  int    `json:"amended"`
	FilledIn int    `json:"filled_in"`
	Skipped  int    `json:"skipped"`
}

// ValueCount is one top-failure entry: a tuple rendering and the number of
// rows it produced a non-pass outcome for.
type ValueCount struct {
	Values string `json:"values"`
	Count  int    `json:"count"`
}

// Digest is the structured job summary consumed by reply renderers and
// monitoring. Field names are stable; collaborators parse them.
type Digest struct {
	Rows           int                     `json:"rows"`
	PlannedTests   int                     `json:"planned_tests"`
	DistinctTuples int                     `json:"distinct_tuples"`
	PerTest        []TestSummary           `json:"per_test"`
	PerClass       []ClassSummary          `json:"per_class"`
	SkippedTests   []string                `json:"skipped_tests"`
	TopFailures    map[string][]ValueCount `json:"top_failures"`
	Warnings       []string                `json:"warnings"`
}

// BuildDigest assembles the digest from the projection's tallies and the
// execution counters. Per-test entries keep plan order; classes sort by name;
// top failures order by count descending then value ascending.
func (p *Projection) BuildDigest(stats Stats, warnings []string) *Digest {
	d := &Digest{
		Rows:           p.rows,
		PlannedTests:   len(p.tallies),
		DistinctTuples: stats.TotalDistinct(),
		PerTest:        make([]TestSummary, 0, len(p.tallies)),
		PerClass:       []ClassSummary{},
		SkippedTests:   []string{},
		TopFailures:    make(map[string][]ValueCount),
		Warnings:       append([]string{}, warnings...),
	}

	classes := make(map[string]*ClassSummary)
	for _, tally := range p.tallies {
		desc := tally.test.Descriptor
		summary := TestSummary{
			ID:             desc.ID,
			Type:           desc.Type,
			Class:          desc.Class,
			Rows:           tally.rows,
			DistinctTuples: stats.DistinctTuples[desc.ID],
			Passed:         tally.counts[bucketPassed],
			Failed:         tally.counts[bucketFailed],
			Amended:        tally.counts[bucketAmended],
			FilledIn:       tally.counts[bucketFilledIn],
			Skipped:        tally.counts[bucketSkipped],
		}
		d.PerTest = append(d.PerTest, summary)

		if summary.Rows > 0 && summary.Skipped == summary.Rows {
			d.SkippedTests = append(d.SkippedTests, desc.ID)
		}
		if top := topFailures(tally.failures); len(top) > 0 {
			d.TopFailures[desc.ID] = top
		}

		key := desc.Class
		if key == "" {
			key = unclassified
		}
		cs, ok := classes[key]
		if !ok {
			cs = &ClassSummary{Class: key}
			classes[key] = cs
		}
		cs.Tests++
		cs.Passed += summary.Passed
		cs.Failed += summary.Failed
		cs.Amended += summary.Amended
		cs.FilledIn += summary.FilledIn
		cs.Skipped += summary.Skipped
	}

	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		d.PerClass = append(d.PerClass, *classes[name])
	}
	return d
}

func topFailures(counts map[string]int) []ValueCount {
	out := make([]ValueCount, 0, len(counts))
	for values, n := range counts {
		out = append(out, ValueCount{Values: values, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Values < out[j].Values
	})
	if len(out) > topFailureK {
		out = out[:topFailureK]
	}
	return out
}
