package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

const lessonColumns = `id, template_id, occurrence_date, is_cancelled, name, subject_id, class_id, teacher_id, start_at, end_at, created_at, updated_at`

// LessonRepository persists standalone lessons and template exceptions.
// Exceptions are unique per (template_id, occurrence_date).
type LessonRepository struct {
	db       *sqlx.DB
	timezone string
}

// NewLessonRepository constructs the repository. timezone is the school zone
// used to date legacy exceptions that carry no occurrence_date.
func NewLessonRepository(db *sqlx.DB, timezone string) *LessonRepository {
	return &LessonRepository{db: db, timezone: timezone}
}

// Create inserts a lesson. A second exception for the same occurrence fails
// with DUPLICATE_EXCEPTION.
func (r *LessonRepository) Create(ctx context.Context, lesson *models.Lesson) error {
	if lesson.ID == "" {
		lesson.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	lesson.CreatedAt = now
	lesson.UpdatedAt = now
	const query = `INSERT INTO lessons (` + lessonColumns + `)
VALUES (:id, :template_id, :occurrence_date, :is_cancelled, :name, :subject_id, :class_id, :teacher_id, :start_at, :end_at, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, lesson); err != nil {
		if isUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrDuplicateException.Code, appErrors.ErrDuplicateException.Status, appErrors.ErrDuplicateException.Message)
		}
		return fmt.Errorf("create lesson: %w", err)
	}
	return nil
}

// FindByID returns sql.ErrNoRows when the lesson does not exist.
func (r *LessonRepository) FindByID(ctx context.Context, id string) (*models.Lesson, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lessons WHERE id = $1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, id); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// FindException returns the exception for one occurrence or sql.ErrNoRows.
func (r *LessonRepository) FindException(ctx context.Context, templateID string, date time.Time) (*models.Lesson, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lessons
WHERE template_id = $1 AND COALESCE(occurrence_date, (start_at AT TIME ZONE $3)::date) = $2
ORDER BY updated_at DESC, id DESC
LIMIT 1`
	var lesson models.Lesson
	if err := r.db.GetContext(ctx, &lesson, query, templateID, date, r.timezone); err != nil {
		return nil, err
	}
	return &lesson, nil
}

// ListStandalone returns standalone lessons starting in [From, To).
func (r *LessonRepository) ListStandalone(ctx context.Context, filter models.LessonFilter) ([]models.Lesson, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + lessonColumns + ` FROM lessons WHERE template_id IS NULL AND start_at >= $1 AND start_at < $2`)
	args := []interface{}{filter.From, filter.To}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		fmt.Fprintf(&builder, " AND class_id = $%d", len(args))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		fmt.Fprintf(&builder, " AND teacher_id = $%d", len(args))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		fmt.Fprintf(&builder, " AND subject_id = $%d", len(args))
	}
	builder.WriteString(" ORDER BY start_at ASC, id ASC")

	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list standalone lessons: %w", err)
	}
	return lessons, nil
}

// ListExceptions returns exceptions of the given templates whose occurrence
// date lies in the inclusive date range [from, to].
func (r *LessonRepository) ListExceptions(ctx context.Context, templateIDs []string, from, to time.Time) ([]models.Lesson, error) {
	if len(templateIDs) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + lessonColumns + ` FROM lessons
WHERE template_id = ANY($1)
	AND COALESCE(occurrence_date, (start_at AT TIME ZONE $4)::date) BETWEEN $2 AND $3
ORDER BY template_id ASC, start_at ASC, id ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, pq.Array(templateIDs), from, to, r.timezone); err != nil {
		return nil, fmt.Errorf("list template exceptions: %w", err)
	}
	return lessons, nil
}

// ListExceptionsByTemplate returns every exception of one template.
func (r *LessonRepository) ListExceptionsByTemplate(ctx context.Context, templateID string) ([]models.Lesson, error) {
	const query = `SELECT ` + lessonColumns + ` FROM lessons WHERE template_id = $1 ORDER BY start_at ASC, id ASC`
	var lessons []models.Lesson
	if err := r.db.SelectContext(ctx, &lessons, query, templateID); err != nil {
		return nil, fmt.Errorf("list exceptions for template %s: %w", templateID, err)
	}
	return lessons, nil
}

// Update rewrites a lesson row.
func (r *LessonRepository) Update(ctx context.Context, lesson *models.Lesson) error {
	lesson.UpdatedAt = time.Now().UTC()
	const query = `UPDATE lessons
SET template_id = :template_id, occurrence_date = :occurrence_date, is_cancelled = :is_cancelled, name = :name,
	subject_id = :subject_id, class_id = :class_id, teacher_id = :teacher_id, start_at = :start_at, end_at = :end_at, updated_at = :updated_at
WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, lesson)
	if err != nil {
		if isUniqueViolation(err) {
			return appErrors.Wrap(err, appErrors.ErrDuplicateException.Code, appErrors.ErrDuplicateException.Status, appErrors.ErrDuplicateException.Message)
		}
		return fmt.Errorf("update lesson: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// Delete removes a lesson row.
func (r *LessonRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM lessons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete lesson: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}
