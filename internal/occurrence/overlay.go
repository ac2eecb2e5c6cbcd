package occurrence

import (
	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

// Overlay applies exceptions on top of nominal occurrences. A cancelled
// exception removes its occurrence; any other exception replaces its content
// while the occurrence keeps its key and date. Exceptions whose key matches
// no nominal occurrence are ignored.
func Overlay(codec Codec, nominal []models.Occurrence, exceptions []models.Lesson) []models.Occurrence {
	if len(exceptions) == 0 {
		return nominal
	}

	byKey := make(map[string]models.Lesson, len(exceptions))
	for _, ex := range exceptions {
		key, ok := codec.ExceptionKey(ex)
		if !ok {
			continue
		}
		if prev, dup := byKey[key]; dup && !preferException(ex, prev) {
			continue
		}
		byKey[key] = ex
	}

	result := make([]models.Occurrence, 0, len(nominal))
	for _, occ := range nominal {
		ex, ok := byKey[occ.Key]
		if !ok {
			result = append(result, occ)
			continue
		}
		if ex.IsCancelled {
			continue
		}
		lessonID := ex.ID
		result = append(result, models.Occurrence{
			Key:        occ.Key,
			Date:       occ.Date,
			Source:     models.OccurrenceSourceException,
			TemplateID: occ.TemplateID,
			LessonID:   &lessonID,
			Name:       ex.Name,
			SubjectID:  ex.SubjectID,
			ClassID:    ex.ClassID,
			TeacherID:  ex.TeacherID,
			Start:      ex.StartAt.In(codec.loc),
			End:        ex.EndAt.In(codec.loc),
		})
	}
	return result
}

// preferException picks a winner when the store holds more than one
// exception for a key: the most recently updated, then the larger id.
func preferException(candidate, current models.Lesson) bool {
	if !candidate.UpdatedAt.Equal(current.UpdatedAt) {
		return candidate.UpdatedAt.After(current.UpdatedAt)
	}
	return candidate.ID > current.ID
}
