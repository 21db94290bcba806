package registry

import (
	"errors"
	"strings"
	"testing"

	"bdqcore/pkg/bdq"
)

const sampleRegistry = `testID,guid,type,actedUpon,consulted,parameters,class,handle
VALIDATION_COUNTRYCODE_STANDARD,0493bcfb,Validation,dwc:countryCode,,bdq:sourceAuthority=ISO 3166-1,LOCATION,countrycode_standard
AMENDMENT_EVENTDATE_STANDARDIZED,718dfc3c,Amendment,dwc:eventDate,,,TIME,eventdate_standardized
ISSUE_DATAGENERALIZATIONS_NOTEMPTY,13d5a10e,Issue,dwc:dataGeneralizations,,,OTHER,datageneralizations_notempty
MEASURE_EVENTDATE_DURATIONINSECONDS,56b6c695,Measure,dwc:eventDate,,,TIME,eventdate_duration
VALIDATION_COORDINATES_NOTZERO,1bf0e210,Validation,dwc:decimalLatitude|dwc:decimalLongitude,,,SPACE,coordinates_notzero
`

func mustLoad(t *testing.T, src string) *Registry {
	t.Helper()
	reg, _, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load registry: %v", err)
	}
	return reg
}

func TestLoadPreservesNaturalOrder(t *testing.T) {
	reg := mustLoad(t, sampleRegistry)
	if reg.Len() != 5 {
		t.Fatalf("len = %d, want 5", reg.Len())
	}
	got := reg.List()
	wantOrder := []string{
		"VALIDATION_COUNTRYCODE_STANDARD",
		"AMENDMENT_EVENTDATE_STANDARDIZED",
		"ISSUE_DATAGENERALIZATIONS_NOTEMPTY",
		"MEASURE_EVENTDATE_DURATIONINSECONDS",
		"VALIDATION_COORDINATES_NOTZERO",
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Fatalf("entry %d = %s, want %s", i, got[i].ID, id)
		}
	}
	if got[0].Parameters[0].Default != "ISO 3166-1" || !got[0].Parameters[0].HasDefault {
		t.Fatalf("parameter default not parsed: %+v", got[0].Parameters)
	}
}

func TestLoadAcceptsHeaderAliases(t *testing.T) {
	src := "Label,GUID,Type,ActedUpon,Consulted,Parameters,InformationElementClass,Implementation\n" +
		"VALIDATION_YEAR_INRANGE,ad0c8855,Validation,dwc:year,,bdq:earliestDate=1582|bdq:latestDate,TIME,year_inrange\n"
	reg := mustLoad(t, src)
	d, err := reg.Lookup("VALIDATION_YEAR_INRANGE")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if d.Handle != "year_inrange" || d.Class != "TIME" {
		t.Fatalf("aliased columns not mapped: %+v", d)
	}
	if d.RequiredParameters() != 1 {
		t.Fatalf("required parameters = %d, want 1 (bdq:latestDate has no default)", d.RequiredParameters())
	}
}

func TestAliasCollapsePrefersDefaultBearingVariant(t *testing.T) {
	src := `testID,guid,type,actedUpon,consulted,parameters,class,handle
VALIDATION_COUNTRYCODE_STANDARD,aaaa,Validation,dwc:countryCode,,bdq:sourceAuthority,LOCATION,countrycode_parametric
VALIDATION_COUNTRYCODE_STANDARD,bbbb,Validation,dwc:countryCode,,bdq:sourceAuthority=ISO 3166-1,LOCATION,countrycode_default
`
	reg, warnings, err := Load(strings.NewReader(src))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if reg.Len() != 1 {
		t.Fatalf("len = %d, want 1 after collapse", reg.Len())
	}
	d, _ := reg.Lookup("VALIDATION_COUNTRYCODE_STANDARD")
	if d.Handle != "countrycode_default" {
		t.Fatalf("kept %s, want the default-bearing variant", d.Handle)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "more than once") {
		t.Fatalf("warnings = %v, want one collapse warning", warnings)
	}
}

func TestAliasCollapseTieKeepsFirstSeen(t *testing.T) {
	src := `testID,guid,type,actedUpon,consulted,parameters,class,handle
AMENDMENT_COUNTRYCODE_STANDARDIZED,aaaa,Amendment,dwc:countryCode,,,LOCATION,first_variant
AMENDMENT_COUNTRYCODE_STANDARDIZED,bbbb,Amendment,dwc:countryCode,,,LOCATION,second_variant
`
	reg := mustLoad(t, src)
	d, _ := reg.Lookup("AMENDMENT_COUNTRYCODE_STANDARDIZED")
	if d.Handle != "first_variant" {
		t.Fatalf("kept %s, want first-seen variant on tie", d.Handle)
	}
	// GUID of the dropped variant must not resolve.
	if _, err := reg.Lookup("bbbb"); err == nil {
		t.Fatal("dropped variant guid should not resolve")
	}
}

func TestLoadFailures(t *testing.T) {
	cases := []struct {
		name string
		src  string
	}{
		{"empty source", ""},
		{"header only", "testID,guid,type,actedUpon,consulted,parameters,class,handle\n"},
		{"missing handle column", "testID,type,actedUpon\nX,Validation,dwc:year\n"},
		{"unknown test type", "testID,type,actedUpon,handle\nX,Audit,dwc:year,h\n"},
		{"blank test id", "testID,type,actedUpon,handle\n ,Validation,dwc:year,h\n"},
		{"blank handle", "testID,type,actedUpon,handle\nX,Validation,dwc:year,\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := Load(strings.NewReader(tc.src))
			if err == nil {
				t.Fatal("expected load failure")
			}
			if bdq.KindOf(err) != bdq.ErrRegistryInvalid {
				t.Fatalf("kind = %s, want RegistryInvalid", bdq.KindOf(err))
			}
		})
	}
	if _, _, err := Load(nil); bdq.KindOf(err) != bdq.ErrRegistryInvalid {
		t.Fatal("nil source should fail as RegistryInvalid")
	}
}

func TestApplicableMatchesNamespaceAndCaseInsensitively(t *testing.T) {
	reg := mustLoad(t, sampleRegistry)

	header := []string{"occurrenceID", "COUNTRYCODE", "EventDate"}
	got := reg.Applicable(header)
	wantIDs := []string{"VALIDATION_COUNTRYCODE_STANDARD", "AMENDMENT_EVENTDATE_STANDARDIZED", "MEASURE_EVENTDATE_DURATIONINSECONDS"}
	if len(got) != len(wantIDs) {
		t.Fatalf("applicable = %d tests, want %d", len(got), len(wantIDs))
	}
	for i, id := range wantIDs {
		if got[i].ID != id {
			t.Fatalf("applicable[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestApplicableRequiresEveryColumn(t *testing.T) {
	reg := mustLoad(t, sampleRegistry)
	// Latitude present but longitude missing: the coordinates test must not apply.
	got := reg.Applicable([]string{"occurrenceID", "dwc:decimalLatitude"})
	for _, d := range got {
		if d.ID == "VALIDATION_COORDINATES_NOTZERO" {
			t.Fatal("test with unresolved column must not be applicable")
		}
	}
}

func TestLookupByIDAndGUID(t *testing.T) {
	reg := mustLoad(t, sampleRegistry)
	if _, err := reg.Lookup("VALIDATION_COUNTRYCODE_STANDARD"); err != nil {
		t.Fatalf("lookup by id: %v", err)
	}
	if _, err := reg.Lookup("718dfc3c"); err != nil {
		t.Fatalf("lookup by guid: %v", err)
	}
	_, err := reg.Lookup("nope")
	var nf bdq.NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("lookup miss error = %v, want NotFoundError", err)
	}
}
