// Package bdq defines the vocabulary shared between the assessment engine and
// its collaborators: test classifications, outcome statuses, test descriptors,
// the provider invocation contract, and the job error taxonomy.
//
// Everything in this package is a plain value type. The engine owns all
// mutable state; collaborators exchange these immutable values across the
// provider and registry boundaries.
package bdq

// TestType classifies a data-quality test by the kind of claim it makes about
// a record.
type TestType string

// Test classifications in scheduling order: validations run first, then
// amendments, then issues, then measures.
const (
	// TypeValidation asserts a record's values conform to a standard.
	TypeValidation TestType = "Validation"
	// TypeAmendment proposes replacement or fill-in values for a record.
	TypeAmendment TestType = "Amendment"
	// TypeIssue flags values that merit human review without failing them.
	TypeIssue TestType = "Issue"
	// TypeMeasure reports a metric over a record (always recorded, never filtered).
	TypeMeasure TestType = "Measure"
)

// Phase returns the scheduling phase index for the test type. Lower phases run
// to completion before later phases begin.
func (t TestType) Phase() int {
	switch t {
	case TypeValidation:
		return 0
	case TypeAmendment:
		return 1
	case TypeIssue:
		return 2
	case TypeMeasure:
		return 3
	default:
		return 4
	}
}

// Known reports whether the test type is one of the four supported
// classifications.
func (t TestType) Known() bool {
	switch t {
	case TypeValidation, TypeAmendment, TypeIssue, TypeMeasure:
		return true
	}
	return false
}

// Status is the response-level disposition of a single test invocation.
type Status string

// Provider response statuses. Any status outside this set is normalized by
// the engine to StatusInternalPrereqNotMet with the original string preserved
// in the outcome comment.
const (
	// StatusRunHasResult indicates the test ran and produced a result label.
	StatusRunHasResult Status = "RUN_HAS_RESULT"
	// StatusAmended indicates an amendment proposed replacement values.
	StatusAmended Status = "AMENDED"
	// StatusNotAmended indicates an amendment had nothing to change.
	StatusNotAmended Status = "NOT_AMENDED"
	// StatusFilledIn indicates an amendment proposed values for empty cells.
	StatusFilledIn Status = "FILLED_IN"
	// StatusExternalPrereqNotMet indicates an external dependency (service,
	// vocabulary download) was unavailable. Treated as transient by the engine.
	StatusExternalPrereqNotMet Status = "EXTERNAL_PREREQUISITES_NOT_MET"
	// StatusInternalPrereqNotMet indicates the input values cannot support the
	// test (missing or unparseable). Not retried.
	StatusInternalPrereqNotMet Status = "INTERNAL_PREREQUISITES_NOT_MET"
	// StatusAmbiguous indicates the test could not decide between readings.
	StatusAmbiguous Status = "AMBIGUOUS"
)

// Known reports whether the status is one of the recognized response statuses.
func (s Status) Known() bool {
	switch s {
	case StatusRunHasResult, StatusAmended, StatusNotAmended, StatusFilledIn,
		StatusExternalPrereqNotMet, StatusInternalPrereqNotMet, StatusAmbiguous:
		return true
	}
	return false
}

// PrereqNotMet reports whether the status is one of the two
// prerequisite-not-met dispositions. Such outcomes always appear in the raw
// results regardless of test type.
func (s Status) PrereqNotMet() bool {
	return s == StatusExternalPrereqNotMet || s == StatusInternalPrereqNotMet
}

// ResultLabel is the pass/fail verdict carried by validation, issue, and
// measure outcomes.
type ResultLabel string

// Verdict labels. Measures may carry other label strings (counts, COMPLETE);
// those are recorded verbatim.
const (
	LabelCompliant      ResultLabel = "COMPLIANT"
	LabelNotCompliant   ResultLabel = "NOT_COMPLIANT"
	LabelPotentialIssue ResultLabel = "POTENTIAL_ISSUE"
	LabelNotIssue       ResultLabel = "NOT_ISSUE"
)

// CoreType identifies the record-level grain of a dataset.
type CoreType string

// Supported dataset cores. Detection prefers occurrence when both identifier
// columns are present.
const (
	// CoreOccurrence keys the dataset by occurrenceID (one observation per row).
	CoreOccurrence CoreType = "occurrence"
	// CoreTaxon keys the dataset by taxonID (one taxon concept per row).
	CoreTaxon CoreType = "taxon"
)

// IdentifierColumn returns the Darwin Core local name of the record-identifier
// column for the core type.
func (c CoreType) IdentifierColumn() string {
	switch c {
	case CoreTaxon:
		return "taxonID"
	default:
		return "occurrenceID"
	}
}
