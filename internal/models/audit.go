package models

import "time"

// AttendanceReason classifies an attendance record against the lesson it references.
type AttendanceReason string

const (
	AttendanceReasonValid             AttendanceReason = "VALID"
	AttendanceReasonOrphaned          AttendanceReason = "ORPHANED"
	AttendanceReasonInvalidReference  AttendanceReason = "INVALID_REFERENCE"
	AttendanceReasonMismatchedDate    AttendanceReason = "MISMATCHED_DATE"
	AttendanceReasonMismatchedWeekday AttendanceReason = "MISMATCHED_WEEKDAY"
	AttendanceReasonOutOfPeriod       AttendanceReason = "OUT_OF_PERIOD"
	AttendanceReasonNonOccurrence     AttendanceReason = "NON_OCCURRENCE"
	AttendanceReasonCancelled         AttendanceReason = "CANCELLED_OCCURRENCE"
	AttendanceReasonUnparseableRule   AttendanceReason = "UNPARSEABLE_RULE"
)

// AttendanceVerdict is the derived validity of one attendance record.
type AttendanceVerdict struct {
	Valid  bool             `json:"valid"`
	Reason AttendanceReason `json:"reason"`
	Detail string           `json:"detail"`
}

// AttendanceFinding is one audited record.
type AttendanceFinding struct {
	AttendanceID string           `json:"attendance_id"`
	StudentID    string           `json:"student_id"`
	Date         string           `json:"date"`
	LessonID     *string          `json:"lesson_id,omitempty"`
	TemplateID   *string          `json:"template_id,omitempty"`
	Valid        bool             `json:"valid"`
	Reason       AttendanceReason `json:"reason"`
	Detail       string           `json:"detail"`
}

// AttendanceAuditReport summarises one audit sweep.
type AttendanceAuditReport struct {
	DryRun    bool                     `json:"dry_run"`
	Scanned   int                      `json:"scanned"`
	Invalid   int                      `json:"invalid"`
	Deleted   int64                    `json:"deleted"`
	ByReason  map[AttendanceReason]int `json:"by_reason"`
	Findings  []AttendanceFinding      `json:"findings"`
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
}
