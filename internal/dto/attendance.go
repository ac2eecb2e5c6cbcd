package dto

// RecordLessonAttendanceRequest records attendance at one occurrence. Exactly
// one of LessonID and TemplateID must be set.
type RecordLessonAttendanceRequest struct {
	StudentID  string  `json:"student_id" validate:"required"`
	LessonID   *string `json:"lesson_id"`
	TemplateID *string `json:"template_id"`
	Date       string  `json:"date" validate:"required,datetime=2006-01-02"`
	Status     string  `json:"status" validate:"required,attendance_status"`
	Notes      *string `json:"notes" validate:"omitempty,max=500"`
}

// CheckLessonAttendanceRequest asks whether a reference occurs on a date.
type CheckLessonAttendanceRequest struct {
	LessonID   *string `json:"lesson_id"`
	TemplateID *string `json:"template_id"`
	Date       string  `json:"date" validate:"required,datetime=2006-01-02"`
}

// AuditRequest controls an attendance audit sweep.
type AuditRequest struct {
	Delete  bool
	ShowAll bool
}
