package dto

import "time"

// OccurrenceQuery is the calendar window request. The window is half-open
// [Start, End).
type OccurrenceQuery struct {
	Start     time.Time
	End       time.Time
	ClassID   string
	TeacherID string
	SubjectID string
}

// OccurrenceMeta accompanies an occurrence listing.
type OccurrenceMeta struct {
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
	Count    int       `json:"count"`
}
