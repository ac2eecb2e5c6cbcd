package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

type templateLister interface {
	List(ctx context.Context, filter models.TemplateFilter) ([]models.RecurrenceTemplate, error)
}

type lessonLister interface {
	ListStandalone(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, error)
	ListExceptions(ctx context.Context, templateIDs []string, from, to time.Time) ([]models.Lesson, error)
}

type occurrenceMemo interface {
	Enabled() bool
	Generation(ctx context.Context, templateID string) (int64, bool)
	Lookup(ctx context.Context, tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window) ([]models.Occurrence, bool)
	Store(ctx context.Context, tmpl models.RecurrenceTemplate, gen int64, w occurrence.Window, occ []models.Occurrence)
}

// CalendarService resolves the occurrences shown on calendars.
type CalendarService struct {
	templates templateLister
	lessons   lessonLister
	expander  *occurrence.Expander
	cache     occurrenceMemo
	metrics   *MetricsService
	maxWindow time.Duration
	logger    *zap.Logger
}

// NewCalendarService constructs the service. cache may be nil.
func NewCalendarService(templates templateLister, lessons lessonLister, expander *occurrence.Expander, cache occurrenceMemo, metrics *MetricsService, maxWindow time.Duration, logger *zap.Logger) *CalendarService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CalendarService{
		templates: templates,
		lessons:   lessons,
		expander:  expander,
		cache:     cache,
		metrics:   metrics,
		maxWindow: maxWindow,
		logger:    logger,
	}
}

// Location is the school timezone occurrences are expressed in.
func (s *CalendarService) Location() *time.Location {
	return s.expander.Codec().Location()
}

// Occurrences returns the ordered occurrences starting in [q.Start, q.End).
func (s *CalendarService) Occurrences(ctx context.Context, q dto.OccurrenceQuery) (*models.OccurrenceSet, error) {
	w, err := occurrence.NewWindow(q.Start, q.End)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end must be after start")
	}
	if s.maxWindow > 0 && w.End.Sub(w.Start) > s.maxWindow {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("window may span at most %d days", int(s.maxWindow.Hours()/24)))
	}
	began := time.Now()

	templates, err := s.templates.List(ctx, models.TemplateFilter{ClassID: q.ClassID, TeacherID: q.TeacherID, SubjectID: q.SubjectID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson templates")
	}
	standalone, err := s.lessons.ListStandalone(ctx, models.LessonFilter{
		From:      w.Start,
		To:        w.End,
		ClassID:   q.ClassID,
		TeacherID: q.TeacherID,
		SubjectID: q.SubjectID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lessons")
	}

	// generations are read before exceptions are loaded so that a change
	// committed in between lands under a newer key.
	var cached []models.Occurrence
	pending := make([]models.RecurrenceTemplate, 0, len(templates))
	generations := make(map[string]int64, len(templates))
	for _, tmpl := range templates {
		gen, ok := s.generation(ctx, tmpl.ID)
		if !ok {
			pending = append(pending, tmpl)
			continue
		}
		generations[tmpl.ID] = gen
		if occ, hit := s.cache.Lookup(ctx, tmpl, gen, w); hit {
			cached = append(cached, occ...)
			continue
		}
		pending = append(pending, tmpl)
	}

	var exceptions []models.Lesson
	if len(pending) > 0 {
		ids := make([]string, 0, len(pending))
		for _, tmpl := range pending {
			ids = append(ids, tmpl.ID)
		}
		codec := s.expander.Codec()
		first := codec.DateOf(w.Start).Stored()
		last := codec.DateOf(w.End.Add(-time.Nanosecond)).Stored()
		exceptions, err = s.lessons.ListExceptions(ctx, ids, first, last)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson exceptions")
		}
	}

	set := s.expander.OccurrencesInWindow(occurrence.Sources{
		Templates:  pending,
		Exceptions: exceptions,
		Standalone: standalone,
	}, w)
	s.remember(ctx, pending, generations, set, w)

	if len(cached) > 0 {
		set.Occurrences = append(set.Occurrences, cached...)
		occurrence.Sort(set.Occurrences)
	}
	if set.Occurrences == nil {
		set.Occurrences = []models.Occurrence{}
	}
	s.metrics.ObserveWindow(len(set.Occurrences), len(set.Skipped), time.Since(began))
	return &set, nil
}

func (s *CalendarService) generation(ctx context.Context, templateID string) (int64, bool) {
	if s.cache == nil || !s.cache.Enabled() {
		return 0, false
	}
	return s.cache.Generation(ctx, templateID)
}

// remember stores each freshly expanded template's share of the window under
// the generation read before its state was loaded. Templates without a
// generation bypass the cache.
func (s *CalendarService) remember(ctx context.Context, expanded []models.RecurrenceTemplate, generations map[string]int64, set models.OccurrenceSet, w occurrence.Window) {
	if len(generations) == 0 || len(expanded) == 0 {
		return
	}
	skipped := make(map[string]struct{}, len(set.Skipped))
	for _, sk := range set.Skipped {
		skipped[sk.TemplateID] = struct{}{}
	}
	byTemplate := make(map[string][]models.Occurrence, len(expanded))
	for _, occ := range set.Occurrences {
		if occ.TemplateID != nil {
			byTemplate[*occ.TemplateID] = append(byTemplate[*occ.TemplateID], occ)
		}
	}
	for _, tmpl := range expanded {
		if _, ok := skipped[tmpl.ID]; ok {
			continue
		}
		gen, ok := generations[tmpl.ID]
		if !ok {
			continue
		}
		s.cache.Store(ctx, tmpl, gen, w, byTemplate[tmpl.ID])
	}
}
