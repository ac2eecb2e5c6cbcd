package dto

// CreateLessonRequest creates a one-off lesson.
type CreateLessonRequest struct {
	Name      string `json:"name" validate:"required,max=200"`
	SubjectID string `json:"subject_id" validate:"required"`
	ClassID   string `json:"class_id" validate:"required"`
	TeacherID string `json:"teacher_id" validate:"required"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required,hhmm"`
	EndTime   string `json:"end_time" validate:"required,hhmm"`
}

// CreateRecurringLessonRequest creates a weekly lesson series.
type CreateRecurringLessonRequest struct {
	Name      string   `json:"name" validate:"required,max=200"`
	SubjectID string   `json:"subject_id" validate:"required"`
	ClassID   string   `json:"class_id" validate:"required"`
	TeacherID string   `json:"teacher_id" validate:"required"`
	Weekdays  []string `json:"weekdays" validate:"required,min=1,dive,weekday"`
	StartDate string   `json:"start_date" validate:"required,datetime=2006-01-02"`
	Until     *string  `json:"until" validate:"omitempty,datetime=2006-01-02"`
	StartTime string   `json:"start_time" validate:"required,hhmm"`
	EndTime   string   `json:"end_time" validate:"required,hhmm"`
}

// LessonChangeRequest is a partial edit. Date applies to standalone lessons;
// Weekdays, StartDate and Until apply to series edits; an empty Until clears
// the series end.
type LessonChangeRequest struct {
	Name      *string  `json:"name" validate:"omitempty,min=1,max=200"`
	SubjectID *string  `json:"subject_id" validate:"omitempty,min=1"`
	ClassID   *string  `json:"class_id" validate:"omitempty,min=1"`
	TeacherID *string  `json:"teacher_id" validate:"omitempty,min=1"`
	Date      *string  `json:"date" validate:"omitempty,datetime=2006-01-02"`
	StartTime *string  `json:"start_time" validate:"omitempty,hhmm"`
	EndTime   *string  `json:"end_time" validate:"omitempty,hhmm"`
	Weekdays  []string `json:"weekdays" validate:"omitempty,min=1,dive,weekday"`
	StartDate *string  `json:"start_date" validate:"omitempty,datetime=2006-01-02"`
	Until     *string  `json:"until" validate:"omitempty,date_or_empty"`
}

// HasPatternChange reports whether the edit touches the recurrence pattern.
func (r LessonChangeRequest) HasPatternChange() bool {
	return len(r.Weekdays) > 0 || r.StartDate != nil || r.Until != nil
}
