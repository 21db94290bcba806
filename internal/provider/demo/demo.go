// Package demo is a self-contained test provider for local runs, examples,
// and integration tests. It implements a small set of Darwin Core checks
// without any network dependency; production deployments use the remote
// provider instead.
package demo

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bdqcore/pkg/bdq"
)

// DefaultRegistry is the descriptor table matching the handles this provider
// implements. bdqrun falls back to it when no registry file is configured.
const DefaultRegistry = `testID,GUID,type,actedUpon,consulted,parameters,class,handle
VALIDATION_COUNTRYCODE_STANDARD,59357db9-b702-4d2b-9ed8-8bcd0ca93c94,Validation,dwc:countryCode,,,dwc:Location,countrycode_standard
VALIDATION_DEPTH_INRANGE,8ee67c37-3a44-42cd-a0b5-95b580566fcb,Validation,dwc:minimumDepthInMeters|dwc:maximumDepthInMeters,,bdq:minimumValidDepthInMeters=0|bdq:maximumValidDepthInMeters=11000,dwc:Location,depth_inrange
AMENDMENT_EVENTDATE_STANDARDIZED,2c55f110-9881-44bc-96d9-5ebf0dbf8a9f,Amendment,dwc:eventDate,,,dwc:Event,eventdate_standardized
AMENDMENT_BASISOFRECORD_STANDARDIZED,6b7b8d12-32c1-48bb-b513-22ca4466dfc9,Amendment,dwc:basisOfRecord,,,dwc:Occurrence,basisofrecord_standardized
ISSUE_DATAGENERALIZATIONS_NOTEMPTY,2cb42d4e-94f8-4b05-9db1-41bd0b1d8e63,Issue,dwc:dataGeneralizations,,,dwc:Occurrence,datageneralizations_notempty
MEASURE_EVENTDATE_DURATIONINDAYS,e0875b0d-493b-4759-9542-11bb10bd1586,Measure,dwc:eventDate,,,dwc:Event,eventdate_duration
`

// Provider implements bdq.Provider with in-process checks. The zero value is
// not usable; construct with New.
type Provider struct {
	handlers map[string]func(args map[string]string) bdq.Outcome
}

// New builds the demo provider.
func New() *Provider {
	p := &Provider{}
	p.handlers = map[string]func(map[string]string) bdq.Outcome{
		"countrycode_standard":         countryCodeStandard,
		"depth_inrange":                depthInRange,
		"eventdate_standardized":       eventDateStandardized,
		"basisofrecord_standardized":   basisOfRecordStandardized,
		"datageneralizations_notempty": dataGeneralizationsNotEmpty,
		"eventdate_duration":           eventDateDuration,
	}
	return p
}

// Invoke runs the named check. Unknown handles are permanent errors.
func (p *Provider) Invoke(ctx context.Context, handle string, args map[string]string) (bdq.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return bdq.Outcome{}, err
	}
	h, ok := p.handlers[handle]
	if !ok {
		return bdq.Outcome{}, fmt.Errorf("unknown test handle %q", handle)
	}
	return h(args), nil
}

func internalPrereq(format string, args ...any) bdq.Outcome {
	return bdq.Outcome{Status: bdq.StatusInternalPrereqNotMet, Comment: fmt.Sprintf(format, args...)}
}

func countryCodeStandard(args map[string]string) bdq.Outcome {
	code := args["dwc:countryCode"]
	if code == "" {
		return internalPrereq("dwc:countryCode is empty")
	}
	if _, ok := isoCountryCodes[code]; ok {
		return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.LabelCompliant}
	}
	return bdq.Outcome{
		Status:  bdq.StatusRunHasResult,
		Label:   bdq.LabelNotCompliant,
		Comment: fmt.Sprintf("%q is not an ISO 3166-1-alpha-2 country code", code),
	}
}

func depthInRange(args map[string]string) bdq.Outcome {
	rawMin := args["dwc:minimumDepthInMeters"]
	rawMax := args["dwc:maximumDepthInMeters"]
	if rawMin == "" && rawMax == "" {
		return internalPrereq("no depth values present")
	}
	lower, err := boundParam(args, "bdq:minimumValidDepthInMeters", 0)
	if err != nil {
		return internalPrereq("%v", err)
	}
	upper, err := boundParam(args, "bdq:maximumValidDepthInMeters", 11000)
	if err != nil {
		return internalPrereq("%v", err)
	}

	var min, max float64
	hasMin, hasMax := rawMin != "", rawMax != ""
	if hasMin {
		if min, err = strconv.ParseFloat(rawMin, 64); err != nil {
			return internalPrereq("dwc:minimumDepthInMeters %q is not a number", rawMin)
		}
	}
	if hasMax {
		if max, err = strconv.ParseFloat(rawMax, 64); err != nil {
			return internalPrereq("dwc:maximumDepthInMeters %q is not a number", rawMax)
		}
	}
	if hasMin && hasMax && min > max {
		return bdq.Outcome{
			Status:  bdq.StatusRunHasResult,
			Label:   bdq.LabelNotCompliant,
			Comment: "minimum depth exceeds maximum depth",
		}
	}
	for _, v := range depthValues(hasMin, min, hasMax, max) {
		if v < lower || v > upper {
			return bdq.Outcome{
				Status:  bdq.StatusRunHasResult,
				Label:   bdq.LabelNotCompliant,
				Comment: fmt.Sprintf("depth %g outside [%g, %g]", v, lower, upper),
			}
		}
	}
	return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.LabelCompliant}
}

func depthValues(hasMin bool, min float64, hasMax bool, max float64) []float64 {
	var out []float64
	if hasMin {
		out = append(out, min)
	}
	if hasMax {
		out = append(out, max)
	}
	return out
}

func boundParam(args map[string]string, name string, fallback float64) (float64, error) {
	raw, ok := args[name]
	if !ok || raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parameter %s %q is not a number", name, raw)
	}
	return v, nil
}

// namedMonthLayouts are unambiguous textual date forms the amendment accepts.
var namedMonthLayouts = []string{
	"2 January 2006",
	"January 2, 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"2006 January 2",
}

func eventDateStandardized(args map[string]string) bdq.Outcome {
	raw := strings.TrimSpace(args["dwc:eventDate"])
	if raw == "" {
		return internalPrereq("dwc:eventDate is empty")
	}
	if isISOEventDate(raw) {
		return bdq.Outcome{Status: bdq.StatusNotAmended, Comment: "already a valid ISO 8601 event date"}
	}
	for _, layout := range namedMonthLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return bdq.Outcome{
				Status:     bdq.StatusAmended,
				Amendments: []bdq.Amendment{{Column: "dwc:eventDate", Value: parsed.Format("2006-01-02")}},
				Comment:    fmt.Sprintf("interpreted %q as an unambiguous calendar date", raw),
			}
		}
	}
	if out, ok := slashDate(raw); ok {
		return out
	}
	return internalPrereq("unable to interpret %q as an event date", raw)
}

// slashDate handles numeric slash dates. When day-first and month-first
// readings both parse to different dates the value is ambiguous.
func slashDate(raw string) (bdq.Outcome, bool) {
	dayFirst, errDF := time.Parse("2/1/2006", raw)
	monthFirst, errMF := time.Parse("1/2/2006", raw)
	switch {
	case errDF == nil && errMF == nil && !dayFirst.Equal(monthFirst):
		return bdq.Outcome{
			Status:  bdq.StatusAmbiguous,
			Comment: fmt.Sprintf("%q reads as %s day-first and %s month-first", raw, dayFirst.Format("2006-01-02"), monthFirst.Format("2006-01-02")),
		}, true
	case errDF == nil || errMF == nil:
		parsed := dayFirst
		if errDF != nil {
			parsed = monthFirst
		}
		return bdq.Outcome{
			Status:     bdq.StatusAmended,
			Amendments: []bdq.Amendment{{Column: "dwc:eventDate", Value: parsed.Format("2006-01-02")}},
			Comment:    fmt.Sprintf("interpreted %q as %s", raw, parsed.Format("2006-01-02")),
		}, true
	default:
		return bdq.Outcome{}, false
	}
}

// isISOEventDate accepts YYYY, YYYY-MM, YYYY-MM-DD, and start/end intervals
// of those forms.
func isISOEventDate(raw string) bool {
	if start, end, ok := strings.Cut(raw, "/"); ok {
		return isISODate(start) && isISODate(end)
	}
	return isISODate(raw)
}

func isISODate(s string) bool {
	for _, layout := range []string{"2006-01-02", "2006-01", "2006"} {
		if _, err := time.Parse(layout, s); err == nil {
			return true
		}
	}
	return false
}

// basisOfRecordVocabulary is the Darwin Core recommended vocabulary in its
// canonical casing.
var basisOfRecordVocabulary = []string{
	"PreservedSpecimen",
	"FossilSpecimen",
	"LivingSpecimen",
	"HumanObservation",
	"MachineObservation",
	"MaterialSample",
	"MaterialEntity",
	"MaterialCitation",
	"Occurrence",
	"Event",
	"Taxon",
}

func basisOfRecordStandardized(args map[string]string) bdq.Outcome {
	raw := strings.TrimSpace(args["dwc:basisOfRecord"])
	if raw == "" {
		return internalPrereq("dwc:basisOfRecord is empty")
	}
	for _, canonical := range basisOfRecordVocabulary {
		if raw == canonical {
			return bdq.Outcome{Status: bdq.StatusNotAmended, Comment: "already the controlled vocabulary form"}
		}
	}
	folded := strings.ToLower(strings.Join(strings.Fields(raw), ""))
	for _, canonical := range basisOfRecordVocabulary {
		if folded == strings.ToLower(canonical) {
			return bdq.Outcome{
				Status:     bdq.StatusAmended,
				Amendments: []bdq.Amendment{{Column: "dwc:basisOfRecord", Value: canonical}},
				Comment:    fmt.Sprintf("matched %q to the controlled vocabulary", raw),
			}
		}
	}
	return bdq.Outcome{Status: bdq.StatusNotAmended, Comment: fmt.Sprintf("%q matches no controlled vocabulary term", raw)}
}

func dataGeneralizationsNotEmpty(args map[string]string) bdq.Outcome {
	if strings.TrimSpace(args["dwc:dataGeneralizations"]) == "" {
		return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.LabelNotIssue}
	}
	return bdq.Outcome{
		Status:  bdq.StatusRunHasResult,
		Label:   bdq.LabelPotentialIssue,
		Comment: "record declares data generalizations; coordinates may be blurred",
	}
}

func eventDateDuration(args map[string]string) bdq.Outcome {
	raw := strings.TrimSpace(args["dwc:eventDate"])
	if raw == "" {
		return internalPrereq("dwc:eventDate is empty")
	}
	start, end, ok := eventDateSpan(raw)
	if !ok {
		return internalPrereq("unable to interpret %q as an ISO 8601 event date", raw)
	}
	days := int(end.Sub(start).Hours()/24) + 1
	return bdq.Outcome{Status: bdq.StatusRunHasResult, Label: bdq.ResultLabel(strconv.Itoa(days))}
}

// eventDateSpan expands an ISO event date to its inclusive day span.
func eventDateSpan(raw string) (time.Time, time.Time, bool) {
	if first, second, ok := strings.Cut(raw, "/"); ok {
		s1, _, ok1 := isoDateSpan(first)
		_, e2, ok2 := isoDateSpan(second)
		if !ok1 || !ok2 || e2.Before(s1) {
			return time.Time{}, time.Time{}, false
		}
		return s1, e2, true
	}
	return isoDateSpan(raw)
}

func isoDateSpan(s string) (time.Time, time.Time, bool) {
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, t, true
	}
	if t, err := time.Parse("2006-01", s); err == nil {
		return t, t.AddDate(0, 1, -1), true
	}
	if t, err := time.Parse("2006", s); err == nil {
		return t, t.AddDate(1, 0, -1), true
	}
	return time.Time{}, time.Time{}, false
}
