package service

import (
	"fmt"
	"strings"

	"bdqcore/internal/engine"
	"bdqcore/internal/infra/history"
	"bdqcore/pkg/bdq"
)

// renderBody produces the deterministic plain-text reply body. digest is nil
// for failed jobs and for duplicate deliveries answered from history; the
// body then comes from the record alone.
func renderBody(rec history.JobRecord, digest *engine.Digest) string {
	var b strings.Builder
	switch rec.Status {
	case history.StatusFailed:
		renderFailure(&b, rec)
	case history.StatusSucceeded:
		if digest != nil {
			renderDigest(&b, rec, digest)
		} else {
			renderStored(&b, rec)
		}
	default:
		fmt.Fprintf(&b, "Job %s is %s.\n", rec.ID, rec.Status)
	}
	return b.String()
}

func renderFailure(b *strings.Builder, rec history.JobRecord) {
	fmt.Fprintf(b, "Assessment of %s failed.\n\n", subjectName(rec))
	fmt.Fprintf(b, "Problem: %s\n", rec.ErrorKind)
	if rec.Error != "" {
		fmt.Fprintf(b, "Detail:  %s\n", rec.Error)
	}
	b.WriteString("\nNothing was assessed. Correct the input and resend it.\n")
}

// renderStored answers a duplicate delivery from the record without the
// original digest.
func renderStored(b *strings.Builder, rec history.JobRecord) {
	fmt.Fprintf(b, "Assessment of %s already finished (job %s).\n\n", subjectName(rec), rec.ID)
	fmt.Fprintf(b, "Rows assessed: %d\n", rec.Rows)
	fmt.Fprintf(b, "Planned tests: %d\n", rec.PlannedTests)
	renderWarnings(b, rec.Warnings)
	b.WriteString("\nThe attachments are the results produced for the first delivery.\n")
}

func renderDigest(b *strings.Builder, rec history.JobRecord, d *engine.Digest) {
	fmt.Fprintf(b, "Assessment of %s finished.\n\n", subjectName(rec))
	fmt.Fprintf(b, "Rows assessed:   %d\n", d.Rows)
	fmt.Fprintf(b, "Planned tests:   %d\n", d.PlannedTests)
	fmt.Fprintf(b, "Distinct tuples: %d\n", d.DistinctTuples)

	if len(d.PerTest) > 0 {
		b.WriteString("\nResults by test:\n")
		for _, t := range d.PerTest {
			fmt.Fprintf(b, "  %s: %s\n", t.ID, testLine(t))
		}
	}
	if len(d.PerClass) > 1 {
		b.WriteString("\nResults by class:\n")
		for _, c := range d.PerClass {
			fmt.Fprintf(b, "  %s: %d tests, %d passed, %d failed, %d amended, %d filled in, %d skipped\n",
				c.Class, c.Tests, c.Passed, c.Failed, c.Amended, c.FilledIn, c.Skipped)
		}
	}
	if len(d.SkippedTests) > 0 {
		b.WriteString("\nSkipped on every row (prerequisites not met):\n")
		for _, id := range d.SkippedTests {
			fmt.Fprintf(b, "  %s\n", id)
		}
	}
	renderTopFailures(b, d)
	renderWarnings(b, rec.Warnings)
	b.WriteString("\nAttached: raw results, amended dataset, and this digest as JSON.\n")
}

// testLine words the tally for human readers. Amendment counts say what
// changed; everything else says what passed. Zero segments are dropped.
func testLine(t engine.TestSummary) string {
	var parts []string
	add := func(n int, label string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, label))
		}
	}
	if t.Type == bdq.TypeAmendment {
		add(t.Amended, "amended")
		add(t.FilledIn, "filled in")
		add(t.Passed, "unchanged")
		add(t.Failed, "failed")
	} else {
		add(t.Passed, "passed")
		add(t.Failed, "failed")
	}
	add(t.Skipped, "skipped")
	if len(parts) == 0 {
		return "no rows"
	}
	return strings.Join(parts, ", ")
}

// renderTopFailures lists the most frequent non-passing tuples, iterating in
// plan order so the body is stable across runs.
func renderTopFailures(b *strings.Builder, d *engine.Digest) {
	if len(d.TopFailures) == 0 {
		return
	}
	wrote := false
	for _, t := range d.PerTest {
		top, ok := d.TopFailures[t.ID]
		if !ok {
			continue
		}
		if !wrote {
			b.WriteString("\nMost frequent non-passing values:\n")
			wrote = true
		}
		fmt.Fprintf(b, "  %s:\n", t.ID)
		for _, vc := range top {
			fmt.Fprintf(b, "    %dx %s\n", vc.Count, vc.Values)
		}
	}
}

func renderWarnings(b *strings.Builder, warnings []string) {
	if len(warnings) == 0 {
		return
	}
	b.WriteString("\nWarnings:\n")
	for _, w := range warnings {
		fmt.Fprintf(b, "  %s\n", w)
	}
}

func subjectName(rec history.JobRecord) string {
	if rec.Filename != "" {
		return rec.Filename
	}
	return "your dataset"
}
