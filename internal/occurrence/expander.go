// Package occurrence turns recurrence templates, exceptions and standalone
// lessons into the concrete occurrence stream. Everything here is pure: the
// same inputs always produce the same, identically ordered output.
package occurrence

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/recurrence"
)

// DefaultMaxPerTemplate bounds the occurrences a single template may produce
// in one window.
const DefaultMaxPerTemplate = 5000

var (
	// ErrInvalidTimeOfDay marks a template whose end time is not after its start.
	ErrInvalidTimeOfDay = errors.New("time_of_day_end must be after time_of_day_start")
	// ErrOccurrenceCap marks a template that would exceed the per-template cap.
	ErrOccurrenceCap = errors.New("template exceeds the occurrence cap for this window")
)

// Window is a half-open range [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow validates that end is after start.
func NewWindow(start, end time.Time) (Window, error) {
	if !end.After(start) {
		return Window{}, fmt.Errorf("window end %s must be after start %s", end.Format(time.RFC3339), start.Format(time.RFC3339))
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether t falls in the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

// Sources is everything needed to resolve the occurrences of a window.
// Exceptions may belong to any of Templates; Standalone lessons outside the
// window are ignored.
type Sources struct {
	Templates  []models.RecurrenceTemplate
	Exceptions []models.Lesson
	Standalone []models.Lesson
}

// Expander resolves occurrences for a school timezone.
type Expander struct {
	codec          Codec
	maxPerTemplate int
	logger         *zap.Logger
}

// Option configures an Expander.
type Option func(*Expander)

// WithMaxPerTemplate overrides DefaultMaxPerTemplate.
func WithMaxPerTemplate(n int) Option {
	return func(e *Expander) {
		if n > 0 {
			e.maxPerTemplate = n
		}
	}
}

// WithLogger sets the logger used to report skipped templates.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Expander) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExpander constructs an Expander.
func NewExpander(codec Codec, opts ...Option) *Expander {
	e := &Expander{codec: codec, maxPerTemplate: DefaultMaxPerTemplate, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Codec exposes the date codec the expander keys occurrences with.
func (e *Expander) Codec() Codec { return e.codec }

// TemplateRule parses a template's recurrence. A rule without its own anchor
// is anchored at the template's local creation day.
func TemplateRule(codec Codec, tmpl models.RecurrenceTemplate) (*recurrence.Rule, error) {
	rule, err := recurrence.Parse(tmpl.RecurrenceSpec, codec.loc)
	if err != nil {
		var perr *recurrence.ParseError
		if errors.As(err, &perr) {
			perr.TemplateID = tmpl.ID
			return nil, perr
		}
		return nil, &recurrence.ParseError{TemplateID: tmpl.ID, Spec: tmpl.RecurrenceSpec, Err: err}
	}
	if _, ok := rule.Anchor(); !ok && !tmpl.CreatedAt.IsZero() {
		rule = rule.WithAnchor(codec.DateOf(tmpl.CreatedAt).StartIn(codec.loc))
	}
	return rule, nil
}

// Nominal lists the template's occurrences on every local day touched by the
// window, before exceptions and before trimming to the window.
func (e *Expander) Nominal(tmpl models.RecurrenceTemplate, w Window) ([]models.Occurrence, error) {
	start := TimeOfDayOf(tmpl.TimeOfDayStart)
	end := TimeOfDayOf(tmpl.TimeOfDayEnd)
	if !start.Before(end) {
		return nil, ErrInvalidTimeOfDay
	}
	rule, err := TemplateRule(e.codec, tmpl)
	if err != nil {
		return nil, err
	}

	lastDay := e.codec.DateOf(w.End.Add(-time.Nanosecond)).EndIn(e.codec.loc)
	days, truncated := rule.ExpandN(w.Start, lastDay, e.maxPerTemplate)
	if truncated {
		return nil, ErrOccurrenceCap
	}

	templateID := tmpl.ID
	result := make([]models.Occurrence, 0, len(days))
	seen := make(map[Date]struct{}, len(days))
	for _, day := range days {
		d := e.codec.DateOf(day)
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		result = append(result, models.Occurrence{
			Key:        e.codec.Key(templateID, d),
			Date:       d.String(),
			Source:     models.OccurrenceSourceNominal,
			TemplateID: &templateID,
			Name:       tmpl.Name,
			SubjectID:  tmpl.SubjectID,
			ClassID:    tmpl.ClassID,
			TeacherID:  tmpl.TeacherID,
			Start:      d.At(start, e.codec.loc),
			End:        d.At(end, e.codec.loc),
		})
	}
	return result, nil
}

// ExpandTemplate resolves one template in the window: nominal occurrences,
// overlaid with the template's exceptions, trimmed to [w.Start, w.End).
func (e *Expander) ExpandTemplate(tmpl models.RecurrenceTemplate, exceptions []models.Lesson, w Window) ([]models.Occurrence, error) {
	nominal, err := e.Nominal(tmpl, w)
	if err != nil {
		return nil, err
	}
	resolved := Overlay(e.codec, nominal, exceptions)
	result := resolved[:0]
	for _, occ := range resolved {
		if w.Contains(occ.Start) {
			result = append(result, occ)
		}
	}
	Sort(result)
	return result, nil
}

// Standalone lists standalone lessons starting inside the window.
func (e *Expander) Standalone(lessons []models.Lesson, w Window) []models.Occurrence {
	result := make([]models.Occurrence, 0, len(lessons))
	for _, lesson := range lessons {
		if !lesson.IsStandalone() || !w.Contains(lesson.StartAt) {
			continue
		}
		lessonID := lesson.ID
		result = append(result, models.Occurrence{
			Key:       e.codec.StandaloneKey(lesson),
			Date:      e.codec.DateOf(lesson.StartAt).String(),
			Source:    models.OccurrenceSourceStandalone,
			LessonID:  &lessonID,
			Name:      lesson.Name,
			SubjectID: lesson.SubjectID,
			ClassID:   lesson.ClassID,
			TeacherID: lesson.TeacherID,
			Start:     lesson.StartAt.In(e.codec.loc),
			End:       lesson.EndAt.In(e.codec.loc),
		})
	}
	return result
}

// OccurrencesInWindow merges every source into one ordered stream. A template
// that cannot be expanded is logged, reported in Skipped and left out; it never
// fails the whole window.
func (e *Expander) OccurrencesInWindow(src Sources, w Window) models.OccurrenceSet {
	byTemplate := GroupExceptions(src.Exceptions)

	set := models.OccurrenceSet{Occurrences: e.Standalone(src.Standalone, w)}
	for _, tmpl := range src.Templates {
		occ, err := e.ExpandTemplate(tmpl, byTemplate[tmpl.ID], w)
		if err != nil {
			e.logger.Warn("skipping template",
				zap.String("template_id", tmpl.ID),
				zap.String("spec", tmpl.RecurrenceSpec),
				zap.Error(err))
			set.Skipped = append(set.Skipped, models.SkippedTemplate{TemplateID: tmpl.ID, Reason: err.Error()})
			continue
		}
		set.Occurrences = append(set.Occurrences, occ...)
	}
	Sort(set.Occurrences)
	return set
}

// GroupExceptions indexes exceptions by template id.
func GroupExceptions(exceptions []models.Lesson) map[string][]models.Lesson {
	grouped := make(map[string][]models.Lesson)
	for _, ex := range exceptions {
		if ex.IsStandalone() {
			continue
		}
		grouped[*ex.TemplateID] = append(grouped[*ex.TemplateID], ex)
	}
	return grouped
}

// Sort orders occurrences by start, then template id, lesson id and key.
func Sort(occ []models.Occurrence) {
	sort.SliceStable(occ, func(i, j int) bool {
		a, b := occ[i], occ[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if at, bt := deref(a.TemplateID), deref(b.TemplateID); at != bt {
			return at < bt
		}
		if al, bl := deref(a.LessonID), deref(b.LessonID); al != bl {
			return al < bl
		}
		return a.Key < b.Key
	})
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
