package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

const auditDeleteBatch = 500

// AttendanceAuditService sweeps stored attendance and classifies every record
// against the occurrence it references.
type AttendanceAuditService struct {
	records   lessonAttendanceStore
	templates templateFinder
	lessons   lessonFinder
	checker   occurrence.Checker
	metrics   *MetricsService
	pageSize  int
	logger    *zap.Logger
}

// NewAttendanceAuditService constructs the service.
func NewAttendanceAuditService(records lessonAttendanceStore, templates templateFinder, lessons lessonFinder, codec occurrence.Codec, metrics *MetricsService, pageSize int, logger *zap.Logger) *AttendanceAuditService {
	if pageSize <= 0 {
		pageSize = 500
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AttendanceAuditService{
		records:   records,
		templates: templates,
		lessons:   lessons,
		checker:   occurrence.NewChecker(codec),
		metrics:   metrics,
		pageSize:  pageSize,
		logger:    logger,
	}
}

// Run performs one sweep. Without req.Delete it only reports; with it,
// exactly the flagged records are removed after the scan completes.
func (s *AttendanceAuditService) Run(ctx context.Context, req dto.AuditRequest) (*models.AttendanceAuditReport, error) {
	report := &models.AttendanceAuditReport{
		DryRun:    !req.Delete,
		ByReason:  map[models.AttendanceReason]int{},
		Findings:  []models.AttendanceFinding{},
		StartedAt: time.Now().UTC(),
	}
	resolver := newSubjectResolver(s.templates, s.lessons, true)

	var flagged []string
	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page, err := s.records.List(ctx, models.LessonAttendanceFilter{AfterID: after, Limit: s.pageSize})
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson attendance")
		}
		for _, rec := range page {
			date := occurrence.CalendarDate(rec.Date)
			subj, err := resolver.resolve(ctx, rec.LessonID, rec.TemplateID, date)
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve attendance reference")
			}
			verdict := s.checker.Check(rec, subj)
			report.Scanned++
			report.ByReason[verdict.Reason]++
			if !verdict.Valid {
				report.Invalid++
				flagged = append(flagged, rec.ID)
				s.metrics.RecordAuditFinding(verdict.Reason)
			}
			if !verdict.Valid || req.ShowAll {
				report.Findings = append(report.Findings, models.AttendanceFinding{
					AttendanceID: rec.ID,
					StudentID:    rec.StudentID,
					Date:         date.String(),
					LessonID:     rec.LessonID,
					TemplateID:   rec.TemplateID,
					Valid:        verdict.Valid,
					Reason:       verdict.Reason,
					Detail:       verdict.Detail,
				})
			}
		}
		if len(page) < s.pageSize {
			break
		}
		after = page[len(page)-1].ID
	}

	if req.Delete {
		for start := 0; start < len(flagged); start += auditDeleteBatch {
			end := start + auditDeleteBatch
			if end > len(flagged) {
				end = len(flagged)
			}
			deleted, err := s.records.DeleteByIDs(ctx, flagged[start:end])
			if err != nil {
				return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete invalid attendance")
			}
			report.Deleted += deleted
		}
	}

	report.Duration = time.Since(report.StartedAt)
	s.logger.Info("attendance audit finished",
		zap.Bool("dry_run", report.DryRun),
		zap.Int("scanned", report.Scanned),
		zap.Int("invalid", report.Invalid),
		zap.Int64("deleted", report.Deleted),
		zap.Duration("duration", report.Duration))
	return report, nil
}
