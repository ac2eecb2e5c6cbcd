package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	"github.com/noah-isme/sma-lesson-engine/internal/recurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

type templateStore interface {
	Create(ctx context.Context, tmpl *models.RecurrenceTemplate) error
	FindByID(ctx context.Context, id string) (*models.RecurrenceTemplate, error)
	UpdateSeries(ctx context.Context, tmpl *models.RecurrenceTemplate) (int64, error)
	DeleteSeries(ctx context.Context, id string) (int64, error)
}

type lessonStore interface {
	Create(ctx context.Context, lesson *models.Lesson) error
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	FindException(ctx context.Context, templateID string, date time.Time) (*models.Lesson, error)
	Update(ctx context.Context, lesson *models.Lesson) error
	Delete(ctx context.Context, id string) error
}

type templateInvalidator interface {
	InvalidateTemplate(ctx context.Context, templateID string) error
}

// EditScope selects how much of a series a template edit touches.
type EditScope string

const (
	EditScopeInstance EditScope = "INSTANCE"
	EditScopeSeries   EditScope = "SERIES"
)

// LessonTarget names what a mutation applies to: a StandaloneTarget or a
// TemplateTarget.
type LessonTarget interface {
	isLessonTarget()
}

// StandaloneTarget addresses a one-off lesson.
type StandaloneTarget struct {
	LessonID string
}

// TemplateTarget addresses a series, or one dated occurrence of it when
// Scope is EditScopeInstance.
type TemplateTarget struct {
	TemplateID string
	Scope      EditScope
	Date       occurrence.Date
}

func (StandaloneTarget) isLessonTarget() {}
func (TemplateTarget) isLessonTarget() {}

// EditResult reports what a mutation changed.
type EditResult struct {
	Scope             string                     `json:"scope"`
	Lesson            *models.Lesson             `json:"lesson,omitempty"`
	Template          *models.RecurrenceTemplate `json:"template,omitempty"`
	DroppedExceptions int64                      `json:"dropped_exceptions"`
}

// LessonService creates and mutates lessons and lesson series.
type LessonService struct {
	templates templateStore
	lessons   lessonStore
	cache     templateInvalidator
	codec     occurrence.Codec
	checker   occurrence.Checker
	metrics   *MetricsService
	retries   int
	validator *validator.Validate
	logger    *zap.Logger
}

// NewLessonService constructs the service. cache may be nil; retries bounds
// how often an exception upsert is retried after losing a concurrent insert.
func NewLessonService(templates templateStore, lessons lessonStore, cache templateInvalidator, codec occurrence.Codec, metrics *MetricsService, retries int, validate *validator.Validate, logger *zap.Logger) *LessonService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if retries <= 0 {
		retries = 3
	}
	svc := &LessonService{
		templates: templates,
		lessons:   lessons,
		cache:     cache,
		codec:     codec,
		checker:   occurrence.NewChecker(codec),
		metrics:   metrics,
		retries:   retries,
		validator: validate,
		logger:    logger,
	}
	svc.validator.RegisterValidation("weekday", func(fl validator.FieldLevel) bool {
		_, err := recurrence.ParseWeekday(fl.Field().String())
		return err == nil
	})
	svc.validator.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := occurrence.ParseTimeOfDay(fl.Field().String())
		return err == nil
	})
	// an empty string clears an optional bound
	svc.validator.RegisterValidation("date_or_empty", func(fl validator.FieldLevel) bool {
		v := fl.Field().String()
		if v == "" {
			return true
		}
		_, err := occurrence.ParseDate(v)
		return err == nil
	})
	return svc
}

// CreateStandalone creates a one-off lesson.
func (s *LessonService) CreateStandalone(ctx context.Context, req dto.CreateLessonRequest) (*models.Lesson, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	date, _ := occurrence.ParseDate(req.Date)
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	loc := s.codec.Location()
	lesson := &models.Lesson{
		Name:      req.Name,
		SubjectID: req.SubjectID,
		ClassID:   req.ClassID,
		TeacherID: req.TeacherID,
		StartAt:   date.At(start, loc),
		EndAt:     date.At(end, loc),
	}
	if err := s.lessons.Create(ctx, lesson); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson")
	}
	return lesson, nil
}

// CreateRecurring creates a weekly series.
func (s *LessonService) CreateRecurring(ctx context.Context, req dto.CreateRecurringLessonRequest) (*models.RecurrenceTemplate, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		return nil, err
	}
	start, end, err := parseTimes(req.StartTime, req.EndTime)
	if err != nil {
		return nil, err
	}
	loc := s.codec.Location()
	anchor, _ := occurrence.ParseDate(req.StartDate)
	var until *time.Time
	if req.Until != nil {
		last, _ := occurrence.ParseDate(*req.Until)
		if last.Before(anchor) {
			return nil, appErrors.Clone(appErrors.ErrValidation, "until must be on or after start_date")
		}
		t := last.StartIn(loc)
		until = &t
	}
	rule, err := recurrence.Build(weekdays, anchor.StartIn(loc), until, loc)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrRecurrenceParse.Code, appErrors.ErrRecurrenceParse.Status, "failed to build recurrence")
	}

	tmpl := &models.RecurrenceTemplate{
		Name:           req.Name,
		SubjectID:      req.SubjectID,
		ClassID:        req.ClassID,
		TeacherID:      req.TeacherID,
		RecurrenceSpec: rule.String(),
		TimeOfDayStart: start.Stored(),
		TimeOfDayEnd:   end.Stored(),
	}
	if err := s.templates.Create(ctx, tmpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson template")
	}
	return tmpl, nil
}

// Edit applies a partial change to the target.
func (s *LessonService) Edit(ctx context.Context, target LessonTarget, req dto.LessonChangeRequest) (*EditResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid payload")
	}
	switch t := target.(type) {
	case StandaloneTarget:
		return s.editStandalone(ctx, t.LessonID, req)
	case TemplateTarget:
		switch t.Scope {
		case EditScopeInstance:
			return s.editOccurrence(ctx, t.TemplateID, t.Date, req)
		case EditScopeSeries:
			return s.editSeries(ctx, t.TemplateID, req)
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown edit scope %q", t.Scope))
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown edit target")
	}
}

// Cancel tombstones one occurrence of a series.
func (s *LessonService) Cancel(ctx context.Context, templateID string, date occurrence.Date) (*models.Lesson, error) {
	ex, err := s.upsertException(ctx, templateID, date, func(ex *models.Lesson, tmpl *models.RecurrenceTemplate) error {
		loc := s.codec.Location()
		ex.IsCancelled = true
		ex.StartAt = date.At(occurrence.TimeOfDayOf(tmpl.TimeOfDayStart), loc)
		ex.EndAt = date.At(occurrence.TimeOfDayOf(tmpl.TimeOfDayEnd), loc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("occurrence cancelled", zap.String("template_id", templateID), zap.String("date", date.String()))
	return ex, nil
}

// Delete removes a standalone lesson or a whole series, or cancels one
// occurrence when the target is an instance.
func (s *LessonService) Delete(ctx context.Context, target LessonTarget) (*EditResult, error) {
	switch t := target.(type) {
	case StandaloneTarget:
		lesson, err := s.lessons.FindByID(ctx, t.LessonID)
		if err != nil {
			return nil, lookupError(err, "lesson not found", "failed to load lesson")
		}
		if !lesson.IsStandalone() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lesson %s overrides an occurrence of template %s; cancel the occurrence instead", lesson.ID, *lesson.TemplateID))
		}
		if err := s.lessons.Delete(ctx, lesson.ID); err != nil {
			return nil, lookupError(err, "lesson not found", "failed to delete lesson")
		}
		return &EditResult{Scope: "STANDALONE", Lesson: lesson}, nil
	case TemplateTarget:
		switch t.Scope {
		case EditScopeInstance:
			ex, err := s.Cancel(ctx, t.TemplateID, t.Date)
			if err != nil {
				return nil, err
			}
			return &EditResult{Scope: string(EditScopeInstance), Lesson: ex}, nil
		case EditScopeSeries:
		default:
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown delete scope %q", t.Scope))
		}
		dropped, err := s.templates.DeleteSeries(ctx, t.TemplateID)
		if err != nil {
			return nil, lookupError(err, "lesson template not found", "failed to delete lesson template")
		}
		s.metrics.RecordDroppedExceptions(dropped)
		s.invalidate(ctx, t.TemplateID)
		s.logger.Info("series deleted", zap.String("template_id", t.TemplateID), zap.Int64("dropped_exceptions", dropped))
		return &EditResult{Scope: string(EditScopeSeries), DroppedExceptions: dropped}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown delete target")
	}
}

func (s *LessonService) editStandalone(ctx context.Context, id string, req dto.LessonChangeRequest) (*EditResult, error) {
	if req.HasPatternChange() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "weekdays, start_date and until only apply to series edits")
	}
	lesson, err := s.lessons.FindByID(ctx, id)
	if err != nil {
		return nil, lookupError(err, "lesson not found", "failed to load lesson")
	}
	if !lesson.IsStandalone() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("lesson %s overrides an occurrence of template %s; edit the occurrence instead", lesson.ID, *lesson.TemplateID))
	}

	date := s.codec.DateOf(lesson.StartAt)
	if req.Date != nil {
		date, _ = occurrence.ParseDate(*req.Date)
	}
	applyContent(lesson, req)
	if err := s.applyTimes(lesson, date, req); err != nil {
		return nil, err
	}
	if err := s.lessons.Update(ctx, lesson); err != nil {
		return nil, lookupError(err, "lesson not found", "failed to update lesson")
	}
	return &EditResult{Scope: "STANDALONE", Lesson: lesson}, nil
}

func (s *LessonService) editOccurrence(ctx context.Context, templateID string, date occurrence.Date, req dto.LessonChangeRequest) (*EditResult, error) {
	if req.HasPatternChange() || req.Date != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "an occurrence edit cannot change its date or the series pattern")
	}
	ex, err := s.upsertException(ctx, templateID, date, func(ex *models.Lesson, _ *models.RecurrenceTemplate) error {
		ex.IsCancelled = false
		applyContent(ex, req)
		return s.applyTimes(ex, date, req)
	})
	if err != nil {
		return nil, err
	}
	return &EditResult{Scope: string(EditScopeInstance), Lesson: ex}, nil
}

func (s *LessonService) editSeries(ctx context.Context, templateID string, req dto.LessonChangeRequest) (*EditResult, error) {
	if req.Date != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "date only applies to standalone lessons")
	}
	tmpl, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, lookupError(err, "lesson template not found", "failed to load lesson template")
	}

	if req.Name != nil {
		tmpl.Name = *req.Name
	}
	if req.SubjectID != nil {
		tmpl.SubjectID = *req.SubjectID
	}
	if req.ClassID != nil {
		tmpl.ClassID = *req.ClassID
	}
	if req.TeacherID != nil {
		tmpl.TeacherID = *req.TeacherID
	}
	start, end, err := overrideTimes(occurrence.TimeOfDayOf(tmpl.TimeOfDayStart), occurrence.TimeOfDayOf(tmpl.TimeOfDayEnd), req)
	if err != nil {
		return nil, err
	}
	tmpl.TimeOfDayStart, tmpl.TimeOfDayEnd = start.Stored(), end.Stored()

	if req.HasPatternChange() {
		spec, err := s.rebuildPattern(tmpl, req)
		if err != nil {
			return nil, err
		}
		tmpl.RecurrenceSpec = spec
	}

	dropped, err := s.templates.UpdateSeries(ctx, tmpl)
	if err != nil {
		return nil, lookupError(err, "lesson template not found", "failed to update lesson template")
	}
	s.metrics.RecordDroppedExceptions(dropped)
	s.invalidate(ctx, tmpl.ID)
	s.logger.Info("series edited", zap.String("template_id", tmpl.ID), zap.Int64("dropped_exceptions", dropped))
	return &EditResult{Scope: string(EditScopeSeries), Template: tmpl, DroppedExceptions: dropped}, nil
}

// rebuildPattern regenerates the recurrence text, keeping the stored anchor
// and until unless the request changes them.
func (s *LessonService) rebuildPattern(tmpl *models.RecurrenceTemplate, req dto.LessonChangeRequest) (string, error) {
	loc := s.codec.Location()
	rule, err := recurrence.Parse(tmpl.RecurrenceSpec, loc)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrRecurrenceParse.Code, appErrors.ErrRecurrenceParse.Status, "stored recurrence cannot be edited")
	}
	if len(req.Weekdays) > 0 {
		weekdays, err := parseWeekdays(req.Weekdays)
		if err != nil {
			return "", err
		}
		if rule, err = rule.WithWeekdays(weekdays); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrRecurrenceParse.Code, appErrors.ErrRecurrenceParse.Status, "failed to change weekdays")
		}
	}
	if req.StartDate != nil {
		anchor, _ := occurrence.ParseDate(*req.StartDate)
		rule = rule.WithAnchor(anchor.StartIn(loc))
	}
	if req.Until != nil {
		var until *time.Time
		if *req.Until != "" {
			last, _ := occurrence.ParseDate(*req.Until)
			t := last.StartIn(loc)
			until = &t
		}
		if rule, err = rule.WithUntil(until); err != nil {
			return "", appErrors.Wrap(err, appErrors.ErrRecurrenceParse.Code, appErrors.ErrRecurrenceParse.Status, "failed to change until")
		}
	}
	anchor, anchored := rule.Anchor()
	if !anchored && !tmpl.CreatedAt.IsZero() {
		anchor, anchored = tmpl.CreatedAt, true
	}
	if until, bounded := rule.Until(); anchored && bounded && s.codec.DateOf(until).Before(s.codec.DateOf(anchor)) {
		return "", appErrors.Clone(appErrors.ErrValidation, "until must be on or after the series start")
	}
	return rule.String(), nil
}

type exceptionMutator func(ex *models.Lesson, tmpl *models.RecurrenceTemplate) error

// upsertException finds the exception for (template, date) and mutates it,
// or creates it from the nominal occurrence. Losing a concurrent insert
// surfaces as DUPLICATE_EXCEPTION and is retried as an update.
func (s *LessonService) upsertException(ctx context.Context, templateID string, date occurrence.Date, mutate exceptionMutator) (*models.Lesson, error) {
	tmpl, err := s.templates.FindByID(ctx, templateID)
	if err != nil {
		return nil, lookupError(err, "lesson template not found", "failed to load lesson template")
	}
	if verdict := s.checker.TemplateOccursOn(*tmpl, nil, date); !verdict.Valid {
		if verdict.Reason == models.AttendanceReasonUnparseableRule {
			return nil, appErrors.Clone(appErrors.ErrRecurrenceParse, verdict.Detail)
		}
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("no occurrence of template %s on %s: %s", templateID, date, verdict.Detail))
	}

	for attempt := 0; ; attempt++ {
		existing, err := s.lessons.FindException(ctx, templateID, date.Stored())
		switch {
		case err == nil:
			if err := mutate(existing, tmpl); err != nil {
				return nil, err
			}
			err = s.lessons.Update(ctx, existing)
			if err == nil {
				s.invalidate(ctx, templateID)
				return existing, nil
			}
			if errors.Is(err, sql.ErrNoRows) && attempt < s.retries {
				s.metrics.RecordUpsertRetry()
				continue
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update lesson exception")
		case errors.Is(err, sql.ErrNoRows):
			ex := s.nominalException(tmpl, date)
			if err := mutate(ex, tmpl); err != nil {
				return nil, err
			}
			err = s.lessons.Create(ctx, ex)
			if err == nil {
				s.invalidate(ctx, templateID)
				return ex, nil
			}
			if errors.Is(err, appErrors.ErrDuplicateException) {
				if attempt < s.retries {
					s.metrics.RecordUpsertRetry()
					s.logger.Debug("exception insert lost a race, retrying as update",
						zap.String("template_id", templateID), zap.String("date", date.String()), zap.Int("attempt", attempt+1))
					continue
				}
				return nil, appErrors.FromError(err)
			}
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create lesson exception")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson exception")
		}
	}
}

func (s *LessonService) nominalException(tmpl *models.RecurrenceTemplate, date occurrence.Date) *models.Lesson {
	loc := s.codec.Location()
	templateID := tmpl.ID
	stored := date.Stored()
	return &models.Lesson{
		TemplateID:     &templateID,
		OccurrenceDate: &stored,
		Name:           tmpl.Name,
		SubjectID:      tmpl.SubjectID,
		ClassID:        tmpl.ClassID,
		TeacherID:      tmpl.TeacherID,
		StartAt:        date.At(occurrence.TimeOfDayOf(tmpl.TimeOfDayStart), loc),
		EndAt:          date.At(occurrence.TimeOfDayOf(tmpl.TimeOfDayEnd), loc),
	}
}

// applyTimes recomposes the lesson's start and end on date, keeping its
// current wall-clock times unless the request overrides them.
func (s *LessonService) applyTimes(lesson *models.Lesson, date occurrence.Date, req dto.LessonChangeRequest) error {
	loc := s.codec.Location()
	start, end, err := overrideTimes(occurrence.TimeOfDayOf(lesson.StartAt.In(loc)), occurrence.TimeOfDayOf(lesson.EndAt.In(loc)), req)
	if err != nil {
		return err
	}
	lesson.StartAt = date.At(start, loc)
	lesson.EndAt = date.At(end, loc)
	return nil
}

func (s *LessonService) invalidate(ctx context.Context, templateID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateTemplate(ctx, templateID); err != nil {
		s.logger.Warn("occurrence cache not invalidated", zap.String("template_id", templateID), zap.Error(err))
	}
}

func applyContent(lesson *models.Lesson, req dto.LessonChangeRequest) {
	if req.Name != nil {
		lesson.Name = *req.Name
	}
	if req.SubjectID != nil {
		lesson.SubjectID = *req.SubjectID
	}
	if req.ClassID != nil {
		lesson.ClassID = *req.ClassID
	}
	if req.TeacherID != nil {
		lesson.TeacherID = *req.TeacherID
	}
}

func overrideTimes(start, end occurrence.TimeOfDay, req dto.LessonChangeRequest) (occurrence.TimeOfDay, occurrence.TimeOfDay, error) {
	if req.StartTime != nil {
		start, _ = occurrence.ParseTimeOfDay(*req.StartTime)
	}
	if req.EndTime != nil {
		end, _ = occurrence.ParseTimeOfDay(*req.EndTime)
	}
	if !start.Before(end) {
		return start, end, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return start, end, nil
}

func parseTimes(rawStart, rawEnd string) (occurrence.TimeOfDay, occurrence.TimeOfDay, error) {
	start, err := occurrence.ParseTimeOfDay(rawStart)
	if err != nil {
		return start, start, appErrors.Clone(appErrors.ErrValidation, "start_time must be HH:MM")
	}
	end, err := occurrence.ParseTimeOfDay(rawEnd)
	if err != nil {
		return start, end, appErrors.Clone(appErrors.ErrValidation, "end_time must be HH:MM")
	}
	if !start.Before(end) {
		return start, end, appErrors.Clone(appErrors.ErrValidation, "end_time must be after start_time")
	}
	return start, end, nil
}

func parseWeekdays(raw []string) ([]time.Weekday, error) {
	weekdays := make([]time.Weekday, 0, len(raw))
	for _, r := range raw {
		day, err := recurrence.ParseWeekday(r)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, err.Error())
		}
		weekdays = append(weekdays, day)
	}
	return weekdays, nil
}

func lookupError(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
