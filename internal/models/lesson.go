package models

import "time"

// RecurrenceTemplate is a reusable lesson pattern. Only the wall-clock hour and
// minute of TimeOfDayStart/TimeOfDayEnd carry meaning; their date part is a
// storage artifact.
type RecurrenceTemplate struct {
	ID             string    `db:"id" json:"id"`
	Name           string    `db:"name" json:"name"`
	SubjectID      string    `db:"subject_id" json:"subject_id"`
	ClassID        string    `db:"class_id" json:"class_id"`
	TeacherID      string    `db:"teacher_id" json:"teacher_id"`
	RecurrenceSpec string    `db:"recurrence_spec" json:"recurrence_spec"`
	TimeOfDayStart time.Time `db:"time_of_day_start" json:"time_of_day_start"`
	TimeOfDayEnd   time.Time `db:"time_of_day_end" json:"time_of_day_end"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// Lesson is either a standalone lesson (TemplateID nil) or an exception that
// overrides or cancels one dated occurrence of a template.
type Lesson struct {
	ID             string     `db:"id" json:"id"`
	TemplateID     *string    `db:"template_id" json:"template_id,omitempty"`
	OccurrenceDate *time.Time `db:"occurrence_date" json:"occurrence_date,omitempty"`
	IsCancelled    bool       `db:"is_cancelled" json:"is_cancelled"`
	Name           string     `db:"name" json:"name"`
	SubjectID      string     `db:"subject_id" json:"subject_id"`
	ClassID        string     `db:"class_id" json:"class_id"`
	TeacherID      string     `db:"teacher_id" json:"teacher_id"`
	StartAt        time.Time  `db:"start_at" json:"start_at"`
	EndAt          time.Time  `db:"end_at" json:"end_at"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// IsStandalone reports whether the lesson has no template back-reference.
func (l Lesson) IsStandalone() bool {
	return l.TemplateID == nil || *l.TemplateID == ""
}

// TemplateFilter narrows template listing.
type TemplateFilter struct {
	IDs       []string
	ClassID   string
	TeacherID string
	SubjectID string
}

// LessonFilter narrows standalone lesson listing. The range is half-open [From, To).
type LessonFilter struct {
	From      time.Time
	To        time.Time
	ClassID   string
	TeacherID string
	SubjectID string
}
