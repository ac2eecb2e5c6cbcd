package service

import (
	"context"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

type lessonAttendanceStore interface {
	Create(ctx context.Context, rec *models.LessonAttendance) error
	List(ctx context.Context, filter models.LessonAttendanceFilter) ([]models.LessonAttendance, error)
	DeleteByIDs(ctx context.Context, ids []string) (int64, error)
}

// LessonAttendanceService records per-lesson attendance, refusing records for
// occurrences that do not exist.
type LessonAttendanceService struct {
	store     lessonAttendanceStore
	templates templateFinder
	lessons   lessonFinder
	checker   occurrence.Checker
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLessonAttendanceService constructs the service.
func NewLessonAttendanceService(store lessonAttendanceStore, templates templateFinder, lessons lessonFinder, codec occurrence.Codec, validate *validator.Validate, logger *zap.Logger) *LessonAttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &LessonAttendanceService{
		store:     store,
		templates: templates,
		lessons:   lessons,
		checker:   occurrence.NewChecker(codec),
		validator: validate,
		logger:    logger,
	}
	svc.validator.RegisterValidation("attendance_status", func(fl validator.FieldLevel) bool {
		return models.AttendanceStatus(strings.ToUpper(fl.Field().String())).Valid()
	})
	return svc
}

// Record validates and stores one attendance record.
func (s *LessonAttendanceService) Record(ctx context.Context, req dto.RecordLessonAttendanceRequest) (*models.LessonAttendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	rec := &models.LessonAttendance{
		StudentID:  req.StudentID,
		LessonID:   blankToNil(req.LessonID),
		TemplateID: blankToNil(req.TemplateID),
		Status:     models.AttendanceStatus(strings.ToUpper(req.Status)),
		Notes:      req.Notes,
	}
	date, _ := occurrence.ParseDate(req.Date)
	rec.Date = date.Stored()

	verdict, err := s.check(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !verdict.Valid {
		return nil, verdictError(verdict)
	}
	if err := s.store.Create(ctx, rec); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
	}
	return rec, nil
}

// Check reports whether the referenced lesson occurs on the date, without writing.
func (s *LessonAttendanceService) Check(ctx context.Context, req dto.CheckLessonAttendanceRequest) (models.AttendanceVerdict, error) {
	if err := s.validator.Struct(req); err != nil {
		return models.AttendanceVerdict{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, _ := occurrence.ParseDate(req.Date)
	return s.check(ctx, &models.LessonAttendance{
		LessonID:   blankToNil(req.LessonID),
		TemplateID: blankToNil(req.TemplateID),
		Date:       date.Stored(),
	})
}

func (s *LessonAttendanceService) check(ctx context.Context, rec *models.LessonAttendance) (models.AttendanceVerdict, error) {
	if (rec.LessonID == nil) == (rec.TemplateID == nil) {
		return models.AttendanceVerdict{}, appErrors.ErrInvalidAttendanceReference
	}
	subj, err := newSubjectResolver(s.templates, s.lessons, false).resolve(ctx, rec.LessonID, rec.TemplateID, occurrence.CalendarDate(rec.Date))
	if err != nil {
		return models.AttendanceVerdict{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve attendance reference")
	}
	return s.checker.Check(*rec, subj), nil
}

func verdictError(verdict models.AttendanceVerdict) error {
	switch verdict.Reason {
	case models.AttendanceReasonOrphaned:
		return appErrors.Clone(appErrors.ErrNotFound, verdict.Detail)
	case models.AttendanceReasonInvalidReference:
		return appErrors.Clone(appErrors.ErrInvalidAttendanceReference, verdict.Detail)
	case models.AttendanceReasonUnparseableRule:
		return appErrors.Clone(appErrors.ErrRecurrenceParse, verdict.Detail)
	default:
		return appErrors.Clone(appErrors.ErrAttendanceNotOccurring, verdict.Detail)
	}
}

func blankToNil(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}
	return s
}
