package engine

import (
	"fmt"
	"strings"

	"bdqcore/internal/dataset"
	"bdqcore/pkg/bdq"
)

// ConflictPolicy selects the winner when two amendments target the same cell
// of the same row with different values.
type ConflictPolicy string

const (
	// LastWriterWins applies amendments in plan order with later proposals
	// overwriting earlier ones. The overwritten test's raw-results comment
	// notes the supersession. Plan order puts general amendments before
	// specific ones, so the specific proposal prevails.
	LastWriterWins ConflictPolicy = "last-writer-wins"
	// FirstWriterWins keeps the earliest proposal for a cell; later
	// conflicting proposals are dropped with a note on their raw-results
	// comment.
	FirstWriterWins ConflictPolicy = "first-writer-wins"
)

// Known reports whether the policy is one of the two supported values.
func (p ConflictPolicy) Known() bool {
	return p == LastWriterWins || p == FirstWriterWins
}

// rawResultsHeader is the fixed column set of the raw-results table.
var rawResultsHeader = []string{"recordID", "testID", "testType", "status", "result", "comment", "actedUpon", "values"}

// tally buckets, in per-test digest order.
const (
	bucketPassed = iota
	bucketFailed
	bucketAmended
	bucketFilledIn
	bucketSkipped
)

// tallyBucket classifies one outcome for digest aggregation. Measures that
// produced their metric count as passed here even though the raw-results
// table records every measure row.
func tallyBucket(t bdq.TestType, o bdq.Outcome) int {
	switch {
	case o.Status.PrereqNotMet():
		return bucketSkipped
	case o.Status == bdq.StatusAmended:
		return bucketAmended
	case o.Status == bdq.StatusFilledIn:
		return bucketFilledIn
	case o.Passes(t):
		return bucketPassed
	case t == bdq.TypeMeasure && o.Status == bdq.StatusRunHasResult:
		return bucketPassed
	default:
		return bucketFailed
	}
}

// testTally accumulates one planned test's digest counts during projection.
type testTally struct {
	test     *PlannedTest
	rows     int
	counts   [5]int
	failures map[string]int
}

// Projection is the deterministic report of one finished execution: the
// raw-results table, the amended dataset, and the per-test tallies the digest
// is assembled from.
type Projection struct {
	RawResults *Table
	Amended    *Table

	rows    int
	tallies []*testTally
}

// cellWrite records the amendment currently holding a cell.
type cellWrite struct {
	test  *PlannedTest
	value string
}

// Project maps cached outcomes back onto every source row. Raw-results rows
// come out in (row index, plan order) order; the amended dataset preserves
// the input's header and row order. A missing cache entry is an engine
// invariant violation and aborts with an InternalBug error.
func Project(ds *dataset.Dataset, plan *Plan, exec *Execution, policy ConflictPolicy) (*Projection, error) {
	if !policy.Known() {
		policy = LastWriterWins
	}
	proj := &Projection{
		RawResults: &Table{Header: rawResultsHeader, Delimiter: ','},
		Amended:    &Table{Header: ds.Header, Delimiter: ds.Delimiter},
		rows:       ds.Len(),
		tallies:    make([]*testTally, len(plan.Tests)),
	}
	for i := range plan.Tests {
		proj.tallies[i] = &testTally{
			test:     &plan.Tests[i],
			rows:     ds.Len(),
			failures: make(map[string]int),
		}
	}

	for row := 0; row < ds.Len(); row++ {
		amended, notes, err := applyAmendments(ds, plan, exec, policy, row)
		if err != nil {
			return nil, err
		}
		proj.Amended.Rows = append(proj.Amended.Rows, amended)

		for i := range plan.Tests {
			p := &plan.Tests[i]
			tuple := p.tupleAt(ds, row)
			outcome, ok := exec.Outcome(p, tuple)
			if !ok {
				return nil, bdq.Errorf(bdq.ErrInternal, "no cached outcome for test %s row %d", p.Descriptor.ID, row+1)
			}

			tally := proj.tallies[i]
			bucket := tallyBucket(p.Descriptor.Type, outcome)
			tally.counts[bucket]++
			if bucket != bucketPassed {
				tally.failures[tuple.Values()]++
			}

			if outcome.Passes(p.Descriptor.Type) {
				continue
			}
			comment := outcome.Comment
			if extra := notes[p.Order]; len(extra) > 0 {
				if comment != "" {
					comment += "; "
				}
				comment += strings.Join(extra, "; ")
			}
			proj.RawResults.Rows = append(proj.RawResults.Rows, []string{
				ds.RecordID(row),
				p.Descriptor.ID,
				string(p.Descriptor.Type),
				string(outcome.Status),
				outcome.CanonicalResult(),
				comment,
				strings.Join(p.Descriptor.ActedUpon, ","),
				tuple.Values(),
			})
		}
	}
	return proj, nil
}

// applyAmendments computes one row of the amended dataset. Amendment tests
// apply in plan order under the conflict policy; notes collects per-test
// comment additions (supersessions, skipped conflicts, unresolvable columns)
// keyed by plan order.
func applyAmendments(ds *dataset.Dataset, plan *Plan, exec *Execution, policy ConflictPolicy, row int) ([]string, map[int][]string, error) {
	src := ds.Row(row)
	out := make([]string, len(src))
	copy(out, src)

	notes := make(map[int][]string)
	holders := make(map[int]cellWrite)

	for i := range plan.Tests {
		p := &plan.Tests[i]
		if p.Descriptor.Type != bdq.TypeAmendment {
			continue
		}
		outcome, ok := exec.Outcome(p, p.tupleAt(ds, row))
		if !ok {
			return nil, nil, bdq.Errorf(bdq.ErrInternal, "no cached outcome for test %s row %d", p.Descriptor.ID, row+1)
		}
		if !outcome.Proposes() {
			continue
		}
		for _, a := range outcome.Amendments {
			col, ok := ds.ResolveColumn(a.Column)
			if !ok {
				notes[p.Order] = append(notes[p.Order], fmt.Sprintf("proposed column %s not in dataset; ignored", a.Column))
				continue
			}
			holder, taken := holders[col]
			switch {
			case !taken:
				holders[col] = cellWrite{test: p, value: a.Value}
				out[col] = a.Value
			case holder.value == a.Value:
				if policy == LastWriterWins {
					holders[col] = cellWrite{test: p, value: a.Value}
				}
			case policy == LastWriterWins:
				notes[holder.test.Order] = append(notes[holder.test.Order],
					fmt.Sprintf("amendment to %s superseded by %s", ds.Header[col], p.Descriptor.ID))
				holders[col] = cellWrite{test: p, value: a.Value}
				out[col] = a.Value
			default: // FirstWriterWins
				notes[p.Order] = append(notes[p.Order],
					fmt.Sprintf("amendment to %s not applied; %s amended it first", ds.Header[col], holder.test.Descriptor.ID))
			}
		}
	}
	return out, notes, nil
}
