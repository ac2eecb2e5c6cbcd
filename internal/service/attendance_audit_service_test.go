package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
)

func seedAuditFixture(t *testing.T) (*lessonFixture, *AttendanceAuditService) {
	t.Helper()
	f := newLessonFixture(t)
	ctx := context.Background()
	tmpl := f.createMondayMaths(t)
	_, err := f.lessons.Cancel(ctx, tmpl.ID, occurrence.NewDate(2025, 10, 6))
	require.NoError(t, err)
	trip, err := f.lessons.CreateStandalone(ctx, dto.CreateLessonRequest{
		Name: "Field trip", SubjectID: "s", ClassID: "c", TeacherID: "t",
		Date: "2025-10-15", StartTime: "08:00", EndTime: "12:00",
	})
	require.NoError(t, err)

	day := func(d int) time.Time { return occurrence.NewDate(2025, 10, d).Stored() }
	records := []models.LessonAttendance{
		{ID: "att-01", StudentID: "s1", TemplateID: &tmpl.ID, Date: day(13), Status: models.AttendanceStatusPresent},
		{ID: "att-02", StudentID: "s1", TemplateID: &tmpl.ID, Date: day(14), Status: models.AttendanceStatusPresent},
		{ID: "att-03", StudentID: "s2", TemplateID: strPtr("tmpl-gone"), Date: day(13), Status: models.AttendanceStatusSick},
		{ID: "att-04", StudentID: "s2", LessonID: &trip.ID, Date: day(15), Status: models.AttendanceStatusPresent},
		{ID: "att-05", StudentID: "s3", LessonID: &trip.ID, TemplateID: &tmpl.ID, Date: day(15), Status: models.AttendanceStatusAbsent},
		{ID: "att-06", StudentID: "s3", TemplateID: &tmpl.ID, Date: day(6), Status: models.AttendanceStatusExcused},
	}
	for i := range records {
		require.NoError(t, attendanceRepoStub{f.store}.Create(ctx, &records[i]))
	}

	audit := NewAttendanceAuditService(attendanceRepoStub{f.store}, templateRepoStub{f.store}, lessonRepoStub{f.store}, occurrence.NewCodec(wib), f.metrics, 2, zap.NewNop())
	return f, audit
}

func TestAttendanceAuditDryRun(t *testing.T) {
	f, audit := seedAuditFixture(t)

	report, err := audit.Run(context.Background(), dto.AuditRequest{})
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.Equal(t, 6, report.Scanned)
	assert.Equal(t, 4, report.Invalid)
	assert.Zero(t, report.Deleted)
	assert.Equal(t, 2, report.ByReason[models.AttendanceReasonValid])
	assert.Equal(t, 1, report.ByReason[models.AttendanceReasonMismatchedWeekday])
	assert.Equal(t, 1, report.ByReason[models.AttendanceReasonOrphaned])
	assert.Equal(t, 1, report.ByReason[models.AttendanceReasonInvalidReference])
	assert.Equal(t, 1, report.ByReason[models.AttendanceReasonCancelled])

	require.Len(t, report.Findings, 4)
	ids := make([]string, 0, len(report.Findings))
	for _, finding := range report.Findings {
		assert.False(t, finding.Valid)
		ids = append(ids, finding.AttendanceID)
	}
	assert.Equal(t, []string{"att-02", "att-03", "att-05", "att-06"}, ids)
	assert.Empty(t, f.store.deletedAttendance)
	assert.EqualValues(t, 4, f.metrics.Snapshot().AuditFindings)
}

func TestAttendanceAuditShowAll(t *testing.T) {
	_, audit := seedAuditFixture(t)

	report, err := audit.Run(context.Background(), dto.AuditRequest{ShowAll: true})
	require.NoError(t, err)
	require.Len(t, report.Findings, 6)
	assert.True(t, report.Findings[0].Valid)
	assert.Equal(t, "2025-10-13", report.Findings[0].Date)
}

func TestAttendanceAuditDeletesExactlyTheFlaggedRecords(t *testing.T) {
	f, audit := seedAuditFixture(t)

	report, err := audit.Run(context.Background(), dto.AuditRequest{Delete: true})
	require.NoError(t, err)
	assert.False(t, report.DryRun)
	assert.EqualValues(t, 4, report.Deleted)
	assert.ElementsMatch(t, []string{"att-02", "att-03", "att-05", "att-06"}, f.store.deletedAttendance)

	again, err := audit.Run(context.Background(), dto.AuditRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, again.Scanned)
	assert.Zero(t, again.Invalid)
}

func TestAttendanceAuditStopsOnCancelledContext(t *testing.T) {
	_, audit := seedAuditFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := audit.Run(ctx, dto.AuditRequest{Delete: true})
	require.ErrorIs(t, err, context.Canceled)
}

func TestAttendanceCheckRevalidatesExceptionAgainstTemplate(t *testing.T) {
	f := newLessonFixture(t)
	ctx := context.Background()
	tmpl := f.createMondayMaths(t)
	name := "Mathematics (lab)"
	res, err := f.lessons.Edit(ctx, TemplateTarget{TemplateID: tmpl.ID, Scope: EditScopeInstance, Date: occurrence.NewDate(2025, 10, 13)}, dto.LessonChangeRequest{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, res.Lesson)
	req := dto.CheckLessonAttendanceRequest{LessonID: &res.Lesson.ID, Date: "2025-10-13"}

	verdict, err := f.attendance.Check(ctx, req)
	require.NoError(t, err)
	assert.True(t, verdict.Valid, verdict.Detail)

	// a legacy row: the template moved to Tuesdays without dropping its exceptions
	f.store.mu.Lock()
	moved := f.store.templates[tmpl.ID]
	moved.RecurrenceSpec = strings.Replace(moved.RecurrenceSpec, "BYDAY=MO", "BYDAY=TU", 1)
	f.store.templates[tmpl.ID] = moved
	f.store.mu.Unlock()

	verdict, err = f.attendance.Check(ctx, req)
	require.NoError(t, err)
	assert.False(t, verdict.Valid)
	assert.Equal(t, models.AttendanceReasonMismatchedWeekday, verdict.Reason)

	f.store.mu.Lock()
	delete(f.store.templates, tmpl.ID)
	f.store.mu.Unlock()

	verdict, err = f.attendance.Check(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceReasonOrphaned, verdict.Reason)
}
