package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

const lessonAttendanceColumns = `id, student_id, lesson_id, template_id, date, status, notes, created_at, updated_at`

// LessonAttendanceRepository persists per-lesson attendance.
type LessonAttendanceRepository struct {
	db *sqlx.DB
}

// NewLessonAttendanceRepository constructs the repository.
func NewLessonAttendanceRepository(db *sqlx.DB) *LessonAttendanceRepository {
	return &LessonAttendanceRepository{db: db}
}

// Create inserts an attendance record.
func (r *LessonAttendanceRepository) Create(ctx context.Context, rec *models.LessonAttendance) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	const query = `INSERT INTO lesson_attendance (` + lessonAttendanceColumns + `)
VALUES (:id, :student_id, :lesson_id, :template_id, :date, :status, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, rec); err != nil {
		return fmt.Errorf("create lesson attendance: %w", err)
	}
	return nil
}

// List pages attendance records by id.
func (r *LessonAttendanceRepository) List(ctx context.Context, filter models.LessonAttendanceFilter) ([]models.LessonAttendance, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	const query = `SELECT ` + lessonAttendanceColumns + ` FROM lesson_attendance WHERE id > $1 ORDER BY id ASC LIMIT $2`
	var records []models.LessonAttendance
	if err := r.db.SelectContext(ctx, &records, query, filter.AfterID, limit); err != nil {
		return nil, fmt.Errorf("list lesson attendance: %w", err)
	}
	return records, nil
}

// DeleteByIDs removes exactly the given records.
func (r *LessonAttendanceRepository) DeleteByIDs(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := r.db.ExecContext(ctx, `DELETE FROM lesson_attendance WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("delete lesson attendance: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted lesson attendance: %w", err)
	}
	return deleted, nil
}
