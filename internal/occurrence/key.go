package occurrence

import (
	"time"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

// Codec maps instants to school-local calendar dates and derives occurrence
// keys. Every date comparison in the engine goes through one Codec so the
// expander, overlay and validity checker agree on what "the same day" means.
type Codec struct {
	loc *time.Location
}

// NewCodec returns a codec for the school timezone.
func NewCodec(loc *time.Location) Codec {
	if loc == nil {
		loc = time.UTC
	}
	return Codec{loc: loc}
}

func (c Codec) Location() *time.Location { return c.loc }

// DateOf is the local calendar date of t.
func (c Codec) DateOf(t time.Time) Date {
	return CalendarDate(t.In(c.loc))
}

// Key identifies the occurrence owned by ownerID on date d.
func (c Codec) Key(ownerID string, d Date) string {
	return ownerID + "@" + d.String()
}

// ExceptionDate is the occurrence date an exception overrides: the stored
// occurrence date when present, otherwise the local date of its start.
func (c Codec) ExceptionDate(l models.Lesson) Date {
	if l.OccurrenceDate != nil {
		return CalendarDate(*l.OccurrenceDate)
	}
	return c.DateOf(l.StartAt)
}

// ExceptionKey is the key of the occurrence an exception overrides.
// ok is false for standalone lessons.
func (c Codec) ExceptionKey(l models.Lesson) (key string, ok bool) {
	if l.IsStandalone() {
		return "", false
	}
	return c.Key(*l.TemplateID, c.ExceptionDate(l)), true
}

// StandaloneKey identifies a standalone lesson's only occurrence.
func (c Codec) StandaloneKey(l models.Lesson) string {
	return c.Key(l.ID, c.DateOf(l.StartAt))
}
