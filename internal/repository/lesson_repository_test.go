package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
)

func newLessonRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var lessonRowColumns = []string{"id", "template_id", "occurrence_date", "is_cancelled", "name", "subject_id", "class_id", "teacher_id", "start_at", "end_at", "created_at", "updated_at"}

func TestLessonRepositoryCreateMapsDuplicateException(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, "Asia/Jakarta")

	templateID := "tmpl-1"
	date := time.Date(2025, 10, 6, 0, 0, 0, 0, time.UTC)
	lesson := &models.Lesson{TemplateID: &templateID, OccurrenceDate: &date, IsCancelled: true, Name: "Math"}

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lessons")).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "lessons_template_occurrence_key"})

	err := repo.Create(context.Background(), lesson)
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrDuplicateException))
	assert.NotEmpty(t, lesson.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryCreateAndFindException(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, "Asia/Jakarta")

	templateID := "tmpl-1"
	date := time.Date(2025, 10, 13, 0, 0, 0, 0, time.UTC)
	start := time.Date(2025, 10, 13, 7, 0, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO lessons")).WillReturnResult(sqlmock.NewResult(1, 1))
	lesson := &models.Lesson{TemplateID: &templateID, OccurrenceDate: &date, Name: "Math", StartAt: start, EndAt: start.Add(time.Hour)}
	require.NoError(t, repo.Create(context.Background(), lesson))

	rows := sqlmock.NewRows(lessonRowColumns).
		AddRow(lesson.ID, templateID, date, false, "Math", "subj", "class", "teacher", start, start.Add(time.Hour), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, template_id, occurrence_date")).
		WithArgs(templateID, date, "Asia/Jakarta").
		WillReturnRows(rows)

	found, err := repo.FindException(context.Background(), templateID, date)
	require.NoError(t, err)
	assert.Equal(t, lesson.ID, found.ID)
	require.NotNil(t, found.OccurrenceDate)
	assert.True(t, found.OccurrenceDate.Equal(date))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, template_id, occurrence_date")).
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindException(context.Background(), templateID, date.AddDate(0, 0, 7))
	assert.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListStandaloneFilters(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, "Asia/Jakarta")

	from := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0)
	rows := sqlmock.NewRows(lessonRowColumns).
		AddRow("solo-1", nil, nil, false, "Trip", "subj", "class-1", "teacher-1", from.Add(48*time.Hour), from.Add(50*time.Hour), from, from)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE template_id IS NULL AND start_at >= $1 AND start_at < $2 AND class_id = $3 AND teacher_id = $4")).
		WithArgs(from, to, "class-1", "teacher-1").
		WillReturnRows(rows)

	lessons, err := repo.ListStandalone(context.Background(), models.LessonFilter{From: from, To: to, ClassID: "class-1", TeacherID: "teacher-1"})
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.True(t, lessons[0].IsStandalone())
	assert.Nil(t, lessons[0].OccurrenceDate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryListExceptions(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, "Asia/Jakarta")

	none, err := repo.ListExceptions(context.Background(), nil, time.Now(), time.Now())
	require.NoError(t, err)
	assert.Nil(t, none)

	from := time.Date(2025, 10, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows(lessonRowColumns).
		AddRow("exc-1", "tmpl-1", from.AddDate(0, 0, 5), true, "Math", "s", "c", "t", from, from, from, from)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE template_id = ANY($1)")).
		WithArgs(sqlmock.AnyArg(), from, to, "Asia/Jakarta").
		WillReturnRows(rows)

	lessons, err := repo.ListExceptions(context.Background(), []string{"tmpl-1", "tmpl-2"}, from, to)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.True(t, lessons[0].IsCancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLessonRepositoryUpdateAndDeleteMissing(t *testing.T) {
	db, mock, cleanup := newLessonRepoMock(t)
	defer cleanup()
	repo := NewLessonRepository(db, "Asia/Jakarta")

	mock.ExpectExec(regexp.QuoteMeta("UPDATE lessons")).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), &models.Lesson{ID: "missing"})
	assert.ErrorIs(t, err, sql.ErrNoRows)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE id = $1")).
		WithArgs("solo-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Delete(context.Background(), "solo-1"))

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM lessons WHERE id = $1")).
		WithArgs("solo-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	assert.ErrorIs(t, repo.Delete(context.Background(), "solo-1"), sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}
