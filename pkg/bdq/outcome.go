package bdq

import (
	"sort"
	"strings"
)

// Amendment is a single proposed cell value: the column the proposal targets
// and the replacement value.
type Amendment struct {
	Column string `json:"column"`
	Value  string `json:"value"`
}

// Outcome is the structured response of one test invocation against one value
// tuple. Outcomes are immutable once produced; the engine caches them per
// (test, tuple) key and projects them back onto every originating row.
type Outcome struct {
	Status     Status      `json:"status"`
	Label      ResultLabel `json:"label,omitempty"`
	Amendments []Amendment `json:"amendments,omitempty"`
	Comment    string      `json:"comment,omitempty"`
}

// CanonicalResult renders the outcome's result column value. Amendment
// proposals render as key=value pairs sorted by column name and joined with
// "|" (no surrounding whitespace); verdict labels render verbatim;
// prerequisite-not-met outcomes render empty.
func (o Outcome) CanonicalResult() string {
	if o.Status.PrereqNotMet() {
		return ""
	}
	if len(o.Amendments) > 0 {
		pairs := make([]string, len(o.Amendments))
		for i, a := range o.Amendments {
			pairs[i] = a.Column + "=" + a.Value
		}
		sort.Strings(pairs)
		return strings.Join(pairs, "|")
	}
	return string(o.Label)
}

// Passes reports whether the outcome counts as a pass for the given test
// type, i.e. it contributes no raw-results row. Measures never pass (every
// measure result is recorded), and prerequisite-not-met outcomes never pass.
func (o Outcome) Passes(t TestType) bool {
	if o.Status.PrereqNotMet() {
		return false
	}
	switch t {
	case TypeValidation:
		return o.Status == StatusRunHasResult && o.Label == LabelCompliant
	case TypeAmendment:
		return o.Status == StatusNotAmended
	case TypeIssue:
		return o.Status == StatusRunHasResult && o.Label == LabelNotIssue
	default:
		return false
	}
}

// Proposes reports whether the outcome carries applicable amendment proposals.
func (o Outcome) Proposes() bool {
	return (o.Status == StatusAmended || o.Status == StatusFilledIn) && len(o.Amendments) > 0
}

// InternalFailure builds the outcome recorded when a test invocation could not
// produce a provider response (exhausted retries, malformed response, unknown
// handle). The comment explains the failure to the report reader.
func InternalFailure(comment string) Outcome {
	return Outcome{Status: StatusInternalPrereqNotMet, Comment: comment}
}
