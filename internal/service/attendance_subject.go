package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
)

type templateFinder interface {
	FindByID(ctx context.Context, id string) (*models.RecurrenceTemplate, error)
}

type lessonFinder interface {
	FindByID(ctx context.Context, id string) (*models.Lesson, error)
	FindException(ctx context.Context, templateID string, date time.Time) (*models.Lesson, error)
	ListExceptionsByTemplate(ctx context.Context, templateID string) ([]models.Lesson, error)
}

// subjectResolver loads what an attendance record points at. With memoize
// set, templates, lessons and per-template exceptions are loaded once per
// resolver, which is what an audit sweep over many records wants.
type subjectResolver struct {
	templates templateFinder
	lessons   lessonFinder
	memoize   bool

	templateMemo  map[string]*models.RecurrenceTemplate
	lessonMemo    map[string]*models.Lesson
	exceptionMemo map[string][]models.Lesson
}

func newSubjectResolver(templates templateFinder, lessons lessonFinder, memoize bool) *subjectResolver {
	return &subjectResolver{
		templates:     templates,
		lessons:       lessons,
		memoize:       memoize,
		templateMemo:  map[string]*models.RecurrenceTemplate{},
		lessonMemo:    map[string]*models.Lesson{},
		exceptionMemo: map[string][]models.Lesson{},
	}
}

// resolve returns the subject of rec. Missing rows leave the subject empty
// so the checker classifies the record as orphaned.
func (r *subjectResolver) resolve(ctx context.Context, lessonID, templateID *string, date occurrence.Date) (occurrence.Subject, error) {
	var subj occurrence.Subject
	if lessonID != nil && *lessonID != "" {
		lesson, err := r.lesson(ctx, *lessonID)
		if err != nil {
			return subj, err
		}
		subj.Lesson = lesson
		if lesson != nil && !lesson.IsStandalone() {
			tmpl, err := r.template(ctx, *lesson.TemplateID)
			if err != nil {
				return subj, err
			}
			subj.Template = tmpl
		}
	}
	if templateID != nil && *templateID != "" {
		tmpl, err := r.template(ctx, *templateID)
		if err != nil {
			return subj, err
		}
		subj.Template = tmpl
		if tmpl != nil {
			exceptions, err := r.exceptions(ctx, tmpl.ID, date)
			if err != nil {
				return subj, err
			}
			subj.Exceptions = exceptions
		}
	}
	return subj, nil
}

func (r *subjectResolver) lesson(ctx context.Context, id string) (*models.Lesson, error) {
	if lesson, ok := r.lessonMemo[id]; ok && r.memoize {
		return lesson, nil
	}
	lesson, err := r.lessons.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load lesson %s: %w", id, err)
		}
		lesson = nil
	}
	if r.memoize {
		r.lessonMemo[id] = lesson
	}
	return lesson, nil
}

func (r *subjectResolver) template(ctx context.Context, id string) (*models.RecurrenceTemplate, error) {
	if tmpl, ok := r.templateMemo[id]; ok && r.memoize {
		return tmpl, nil
	}
	tmpl, err := r.templates.FindByID(ctx, id)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("load lesson template %s: %w", id, err)
		}
		tmpl = nil
	}
	if r.memoize {
		r.templateMemo[id] = tmpl
	}
	return tmpl, nil
}

func (r *subjectResolver) exceptions(ctx context.Context, templateID string, date occurrence.Date) ([]models.Lesson, error) {
	if !r.memoize {
		ex, err := r.lessons.FindException(ctx, templateID, date.Stored())
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("load exception of %s on %s: %w", templateID, date, err)
		}
		return []models.Lesson{*ex}, nil
	}
	if exceptions, ok := r.exceptionMemo[templateID]; ok {
		return exceptions, nil
	}
	exceptions, err := r.lessons.ListExceptionsByTemplate(ctx, templateID)
	if err != nil {
		return nil, err
	}
	r.exceptionMemo[templateID] = exceptions
	return exceptions, nil
}
