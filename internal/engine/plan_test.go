package engine

import (
	"strings"
	"testing"

	"bdqcore/pkg/bdq"
)

const mixedRegistry = `testID,GUID,type,actedUpon,consulted,parameters,class,handle
MEASURE_EVENTDATE_DURATION,m-1,Measure,dwc:eventDate,,,dwc:Event,eventdate_duration
VALIDATION_COUNTRYCODE_STANDARD,v-1,Validation,dwc:countryCode,,,dwc:Location,countrycode_standard
AMENDMENT_EVENTDATE_STANDARDIZED,a-1,Amendment,dwc:eventDate,,,dwc:Event,eventdate_standardized
ISSUE_DATAGENERALIZATIONS_NOTEMPTY,i-1,Issue,dwc:dataGeneralizations,,,dwc:Occurrence,datageneralizations_notempty
VALIDATION_EVENTDATE_INRANGE,v-2,Validation,dwc:eventDate,,bdq:earliestValidDate=1500|bdq:latestValidDate,dwc:Event,eventdate_inrange
`

func TestBuildPlanPhaseOrder(t *testing.T) {
	reg := mustRegistry(t, mixedRegistry)
	ds := mustDataset(t, "occurrenceID,countryCode,eventDate,dataGeneralizations\no1,US,1880-05-08,\n")

	plan := mustPlan(t, ds, reg, map[string]string{"bdq:latestValidDate": "2026"})

	var ids []string
	for _, p := range plan.Tests {
		ids = append(ids, p.Descriptor.ID)
	}
	want := []string{
		"VALIDATION_COUNTRYCODE_STANDARD",
		"VALIDATION_EVENTDATE_INRANGE",
		"AMENDMENT_EVENTDATE_STANDARDIZED",
		"ISSUE_DATAGENERALIZATIONS_NOTEMPTY",
		"MEASURE_EVENTDATE_DURATION",
	}
	if strings.Join(ids, " ") != strings.Join(want, " ") {
		t.Fatalf("plan order = %v, want %v", ids, want)
	}
	for i, p := range plan.Tests {
		if p.Order != i {
			t.Fatalf("test %s has order %d, want %d", p.Descriptor.ID, p.Order, i)
		}
	}
}

func TestBuildPlanSkipsUnresolvableColumns(t *testing.T) {
	reg := mustRegistry(t, mixedRegistry)
	// No dataGeneralizations column, so the issue test cannot run.
	ds := mustDataset(t, "occurrenceID,countryCode,eventDate\no1,US,1880-05-08\n")

	plan := mustPlan(t, ds, reg, map[string]string{"bdq:latestValidDate": "2026"})
	for _, p := range plan.Tests {
		if p.Descriptor.ID == "ISSUE_DATAGENERALIZATIONS_NOTEMPTY" {
			t.Fatalf("planned a test whose column is absent")
		}
	}
	if len(plan.Tests) != 4 {
		t.Fatalf("planned %d tests, want 4", len(plan.Tests))
	}
}

func TestBuildPlanParameterResolution(t *testing.T) {
	reg := mustRegistry(t, mixedRegistry)
	ds := mustDataset(t, "occurrenceID,eventDate\no1,1880-05-08\n")

	plan, warnings, err := BuildPlan(ds, reg, map[string]string{
		"latestvaliddate": "2026", // folded local name matches bdq:latestValidDate
		"bogusParameter":  "x",
	})
	if err != nil {
		t.Fatalf("build plan: %v", err)
	}

	var inRange *PlannedTest
	for i := range plan.Tests {
		if plan.Tests[i].Descriptor.ID == "VALIDATION_EVENTDATE_INRANGE" {
			inRange = &plan.Tests[i]
		}
	}
	if inRange == nil {
		t.Fatalf("VALIDATION_EVENTDATE_INRANGE not planned")
	}
	if got := inRange.Parameters["bdq:earliestValidDate"]; got != "1500" {
		t.Fatalf("default parameter = %q, want 1500", got)
	}
	if got := inRange.Parameters["bdq:latestValidDate"]; got != "2026" {
		t.Fatalf("overridden parameter = %q, want 2026", got)
	}

	found := false
	for _, w := range warnings {
		if strings.Contains(w, "bogusParameter") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unknown-override warning, got %v", warnings)
	}
}

func TestBuildPlanProviderArgs(t *testing.T) {
	reg := mustRegistry(t, mixedRegistry)
	ds := mustDataset(t, "occurrenceID,eventDate\no1, 1880-05-08 \n")

	plan := mustPlan(t, ds, reg, map[string]string{"bdq:latestValidDate": "2026"})
	var inRange *PlannedTest
	for i := range plan.Tests {
		if plan.Tests[i].Descriptor.ID == "VALIDATION_EVENTDATE_INRANGE" {
			inRange = &plan.Tests[i]
		}
	}
	args := inRange.providerArgs(inRange.tupleAt(ds, 0))
	if got := args["dwc:eventDate"]; got != "1880-05-08" {
		t.Fatalf("args[dwc:eventDate] = %q, want trimmed value", got)
	}
	if got := args["bdq:latestValidDate"]; got != "2026" {
		t.Fatalf("args[bdq:latestValidDate] = %q", got)
	}
}

func TestBuildPlanEmptyIsFatal(t *testing.T) {
	reg := mustRegistry(t, mixedRegistry)
	ds := mustDataset(t, "occurrenceID,decimalLatitude\no1,12.5\n")

	_, _, err := BuildPlan(ds, reg, nil)
	if err == nil {
		t.Fatalf("expected error for empty plan")
	}
	if kind := bdq.KindOf(err); kind != bdq.ErrNoApplicableTests {
		t.Fatalf("kind = %s, want %s", kind, bdq.ErrNoApplicableTests)
	}
}
