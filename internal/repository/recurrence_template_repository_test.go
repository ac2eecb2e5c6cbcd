package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

var templateRowColumns = []string{"id", "name", "subject_id", "class_id", "teacher_id", "recurrence_spec", "time_of_day_start", "time_of_day_end", "created_at", "updated_at"}

func TestRecurrenceTemplateRepositoryCreateAndList(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewRecurrenceTemplateRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO recurrence_templates")).WillReturnResult(sqlmock.NewResult(1, 1))
	tmpl := &models.RecurrenceTemplate{Name: "Math", ClassID: "class-1", RecurrenceSpec: "FREQ=WEEKLY;BYDAY=MO"}
	require.NoError(t, repo.Create(context.Background(), tmpl))
	assert.NotEmpty(t, tmpl.ID)
	assert.False(t, tmpl.CreatedAt.IsZero())

	clock := time.Date(2000, 1, 1, 9, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(templateRowColumns).
		AddRow(tmpl.ID, "Math", "subj", "class-1", "teacher-1", "FREQ=WEEKLY;BYDAY=MO", clock, clock.Add(90*time.Minute), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM recurrence_templates WHERE class_id = $1 AND subject_id = $2 ORDER BY id ASC")).
		WithArgs("class-1", "subj").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.TemplateFilter{ClassID: "class-1", SubjectID: "subj"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 9, list[0].TimeOfDayStart.Hour())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurrenceTemplateRepositoryUpdateSeriesDropsExceptions(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewRecurrenceTemplateRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recurrence_templates")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE template_id = $1")).
		WithArgs("tmpl-1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	dropped, err := repo.UpdateSeries(context.Background(), &models.RecurrenceTemplate{ID: "tmpl-1", RecurrenceSpec: "FREQ=WEEKLY;BYDAY=TU"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, dropped)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurrenceTemplateRepositoryUpdateSeriesMissingRollsBack(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewRecurrenceTemplateRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE recurrence_templates")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := repo.UpdateSeries(context.Background(), &models.RecurrenceTemplate{ID: "missing"})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecurrenceTemplateRepositoryDeleteSeries(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewRecurrenceTemplateRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE template_id = $1")).
		WithArgs("tmpl-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM recurrence_templates WHERE id = $1")).
		WithArgs("tmpl-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	dropped, err := repo.DeleteSeries(context.Background(), "tmpl-1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, dropped)
	require.NoError(t, mock.ExpectationsWereMet())
}
