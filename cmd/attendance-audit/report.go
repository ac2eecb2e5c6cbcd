package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/pkg/export"
)

var findingHeaders = []string{"attendance_id", "student_id", "date", "lesson_id", "template_id", "valid", "reason", "detail"}

func writeReport(w io.Writer, report *models.AttendanceAuditReport, format string) error {
	if format == "text" {
		return writeText(w, report)
	}
	renderer, err := export.ForFormat(format)
	if err != nil {
		return err
	}
	body, err := renderer.Render(findingsDataset(report))
	if err != nil {
		return fmt.Errorf("render %s: %w", format, err)
	}
	_, err = w.Write(body)
	return err
}

func findingsDataset(report *models.AttendanceAuditReport) export.Dataset {
	mode := "dry run"
	if !report.DryRun {
		mode = "delete"
	}
	data := export.Dataset{
		Title:   fmt.Sprintf("Lesson attendance audit (%s): %d scanned, %d invalid", mode, report.Scanned, report.Invalid),
		Headers: findingHeaders,
		Rows:    make([]map[string]string, 0, len(report.Findings)),
	}
	for _, f := range report.Findings {
		data.Rows = append(data.Rows, map[string]string{
			"attendance_id": f.AttendanceID,
			"student_id":    f.StudentID,
			"date":          f.Date,
			"lesson_id":     deref(f.LessonID),
			"template_id":   deref(f.TemplateID),
			"valid":         fmt.Sprintf("%t", f.Valid),
			"reason":        string(f.Reason),
			"detail":        f.Detail,
		})
	}
	return data
}

func writeText(w io.Writer, report *models.AttendanceAuditReport) error {
	mode := "DRY RUN"
	if !report.DryRun {
		mode = "DELETE"
	}
	fmt.Fprintf(w, "lesson attendance audit [%s]\n", mode)
	fmt.Fprintf(w, "scanned: %d  invalid: %d  deleted: %d  took: %s\n", report.Scanned, report.Invalid, report.Deleted, report.Duration)

	reasons := make([]string, 0, len(report.ByReason))
	for reason := range report.ByReason {
		reasons = append(reasons, string(reason))
	}
	sort.Strings(reasons)
	for _, reason := range reasons {
		fmt.Fprintf(w, "  %-22s %d\n", reason, report.ByReason[models.AttendanceReason(reason)])
	}
	if len(report.Findings) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ATTENDANCE\tSTUDENT\tDATE\tREFERENCE\tREASON\tDETAIL")
	for _, f := range report.Findings {
		ref := "lesson " + deref(f.LessonID)
		if f.TemplateID != nil {
			ref = "template " + *f.TemplateID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", f.AttendanceID, f.StudentID, f.Date, ref, f.Reason, f.Detail)
	}
	return tw.Flush()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
