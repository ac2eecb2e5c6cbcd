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
)

const templateColumns = `id, name, subject_id, class_id, teacher_id, recurrence_spec, time_of_day_start, time_of_day_end, created_at, updated_at`

// RecurrenceTemplateRepository persists lesson recurrence templates.
type RecurrenceTemplateRepository struct {
	db *sqlx.DB
}

// NewRecurrenceTemplateRepository constructs the repository.
func NewRecurrenceTemplateRepository(db *sqlx.DB) *RecurrenceTemplateRepository {
	return &RecurrenceTemplateRepository{db: db}
}

// Create inserts a template.
func (r *RecurrenceTemplateRepository) Create(ctx context.Context, tmpl *models.RecurrenceTemplate) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tmpl.CreatedAt.IsZero() {
		tmpl.CreatedAt = now
	}
	tmpl.UpdatedAt = now
	const query = `INSERT INTO recurrence_templates (` + templateColumns + `)
VALUES (:id, :name, :subject_id, :class_id, :teacher_id, :recurrence_spec, :time_of_day_start, :time_of_day_end, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tmpl); err != nil {
		return fmt.Errorf("create recurrence template: %w", err)
	}
	return nil
}

// FindByID returns sql.ErrNoRows when the template does not exist.
func (r *RecurrenceTemplateRepository) FindByID(ctx context.Context, id string) (*models.RecurrenceTemplate, error) {
	const query = `SELECT ` + templateColumns + ` FROM recurrence_templates WHERE id = $1`
	var tmpl models.RecurrenceTemplate
	if err := r.db.GetContext(ctx, &tmpl, query, id); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// List returns templates matching the filter ordered by id.
func (r *RecurrenceTemplateRepository) List(ctx context.Context, filter models.TemplateFilter) ([]models.RecurrenceTemplate, error) {
	builder := strings.Builder{}
	builder.WriteString(`SELECT ` + templateColumns + ` FROM recurrence_templates`)

	args := make([]interface{}, 0, 4)
	conditions := make([]string, 0, 4)
	if len(filter.IDs) > 0 {
		args = append(args, pq.Array(filter.IDs))
		conditions = append(conditions, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if filter.ClassID != "" {
		args = append(args, filter.ClassID)
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)))
	}
	if filter.TeacherID != "" {
		args = append(args, filter.TeacherID)
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)))
	}
	if filter.SubjectID != "" {
		args = append(args, filter.SubjectID)
		conditions = append(conditions, fmt.Sprintf("subject_id = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE " + strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY id ASC")

	var templates []models.RecurrenceTemplate
	if err := r.db.SelectContext(ctx, &templates, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list recurrence templates: %w", err)
	}
	return templates, nil
}

// UpdateSeries rewrites the template and drops every exception tied to it in
// one transaction. It returns the number of exceptions removed.
func (r *RecurrenceTemplateRepository) UpdateSeries(ctx context.Context, tmpl *models.RecurrenceTemplate) (dropped int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin series update: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	tmpl.UpdatedAt = time.Now().UTC()
	const updateQuery = `UPDATE recurrence_templates
SET name = :name, subject_id = :subject_id, class_id = :class_id, teacher_id = :teacher_id,
	recurrence_spec = :recurrence_spec, time_of_day_start = :time_of_day_start, time_of_day_end = :time_of_day_end, updated_at = :updated_at
WHERE id = :id`
	res, err := tx.NamedExecContext(ctx, updateQuery, tmpl)
	if err != nil {
		return 0, fmt.Errorf("update recurrence template: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = sql.ErrNoRows
		return 0, err
	}

	if dropped, err = deleteExceptions(ctx, tx, tmpl.ID); err != nil {
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit series update: %w", err)
	}
	return dropped, nil
}

// DeleteSeries removes the template together with its exceptions.
func (r *RecurrenceTemplateRepository) DeleteSeries(ctx context.Context, id string) (dropped int64, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin series delete: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if dropped, err = deleteExceptions(ctx, tx, id); err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM recurrence_templates WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete recurrence template: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		err = sql.ErrNoRows
		return 0, err
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit series delete: %w", err)
	}
	return dropped, nil
}

func deleteExceptions(ctx context.Context, tx *sqlx.Tx, templateID string) (int64, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM lessons WHERE template_id = $1`, templateID)
	if err != nil {
		return 0, fmt.Errorf("delete template exceptions: %w", err)
	}
	dropped, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count template exceptions: %w", err)
	}
	return dropped, nil
}
