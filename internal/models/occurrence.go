package models

import "time"

// OccurrenceSource tells where an occurrence's content came from.
type OccurrenceSource string

const (
	OccurrenceSourceNominal    OccurrenceSource = "NOMINAL"
	OccurrenceSourceException  OccurrenceSource = "EXCEPTION"
	OccurrenceSourceStandalone OccurrenceSource = "STANDALONE"
)

// Occurrence is one concrete, dated lesson. Its identity is Key, derived from
// the owning template (or standalone lesson) and the local calendar date.
type Occurrence struct {
	Key        string           `json:"key"`
	Date       string           `json:"date"`
	Source     OccurrenceSource `json:"source"`
	TemplateID *string          `json:"template_id,omitempty"`
	LessonID   *string          `json:"lesson_id,omitempty"`
	Name       string           `json:"name"`
	SubjectID  string           `json:"subject_id"`
	ClassID    string           `json:"class_id"`
	TeacherID  string           `json:"teacher_id"`
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
}

// SkippedTemplate reports a template left out of an expansion.
type SkippedTemplate struct {
	TemplateID string `json:"template_id"`
	Reason     string `json:"reason"`
}

// OccurrenceSet is the ordered result of expanding a window.
type OccurrenceSet struct {
	Occurrences []Occurrence      `json:"occurrences"`
	Skipped     []SkippedTemplate `json:"skipped_templates,omitempty"`
}
