package report

import (
	"fmt"
	"strings"
	"time"

	"sis-grade-sync/internal/model"
)

// maxFailureLines caps the failures listed in a text summary.
const maxFailureLines = 50

// Subject is the e-mail subject line for a finished run.
func Subject(s *model.RunSummary) string {
	title := string(s.Kind)
	if s.Pipeline != "" {
		title += " " + strings.ToUpper(string(s.Pipeline))
	}
	outcome := "OK"
	if s.Errors > 0 || s.Failed > 0 {
		outcome = "with problems"
	}
	return fmt.Sprintf("%s finished %s (%s)", title, outcome, s.StartedAt.Format("2006-01-02"))
}

// FormatSummary renders a run summary as plain text for logs and e-mail.
func FormatSummary(s *model.RunSummary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run:       %s\n", s.Kind)
	if s.JobID != "" {
		fmt.Fprintf(&b, "Job:       %s\n", s.JobID)
	}
	if s.Pipeline != "" {
		fmt.Fprintf(&b, "Pipeline:  %s\n", s.Pipeline)
	}
	fmt.Fprintf(&b, "Started:   %s\n", s.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration:  %s\n\n", s.Duration().Round(time.Second))

	counts := []struct {
		label string
		value int
	}{
		{"Processed", s.Processed},
		{"Staged", s.Staged},
		{"Sections resolved", s.Resolved},
		{"Posted", s.Posted},
		{"Posted again", s.Reposted},
		{"Dropped", s.Dropped},
		{"Rejected", s.Failed},
		{"Section not found", s.SectionMissing},
		{"Courses changed", s.CoursesChanged},
		{"Undone", s.Undone},
		{"Enrolled", s.Enrolled},
		{"Errors", s.Errors},
		{"Token refreshes", s.TokenRefreshes},
	}
	for _, c := range counts {
		if c.value == 0 && c.label != "Processed" {
			continue
		}
		fmt.Fprintf(&b, "%-18s %d\n", c.label+":", c.value)
	}

	if len(s.Failures) > 0 {
		b.WriteString("\nFailures:\n")
		for i, f := range s.Failures {
			if i == maxFailureLines {
				fmt.Fprintf(&b, "  ... and %d more\n", len(s.Failures)-maxFailureLines)
				break
			}
			fmt.Fprintf(&b, "  %s: %s\n", f.Subject, f.Reason)
		}
	}
	return b.String()
}
