package occurrence

import (
	"fmt"
	"time"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

// Subject is what an attendance record points at, as loaded from the store.
// Lesson is set for lesson references, Template for template references and
// for the parent of an exception lesson; a nil target means the referenced
// row no longer exists. Exceptions holds the template's exceptions and may be
// limited to the record's date.
type Subject struct {
	Lesson     *models.Lesson
	Template   *models.RecurrenceTemplate
	Exceptions []models.Lesson
}

// Checker derives attendance validity from the same codec and rules the
// expander uses, so a record is valid exactly when the expansion of its day
// contains the referenced occurrence.
type Checker struct {
	codec Codec
}

// NewChecker constructs a Checker.
func NewChecker(codec Codec) Checker {
	return Checker{codec: codec}
}

// Check classifies one attendance record.
func (c Checker) Check(rec models.LessonAttendance, subj Subject) models.AttendanceVerdict {
	hasLesson := rec.LessonID != nil && *rec.LessonID != ""
	hasTemplate := rec.TemplateID != nil && *rec.TemplateID != ""
	date := CalendarDate(rec.Date)

	switch {
	case hasLesson && hasTemplate:
		return invalid(models.AttendanceReasonInvalidReference, "attendance references both lesson %s and template %s", *rec.LessonID, *rec.TemplateID)
	case !hasLesson && !hasTemplate:
		return invalid(models.AttendanceReasonOrphaned, "attendance references no lesson")
	case hasLesson:
		if subj.Lesson == nil {
			return invalid(models.AttendanceReasonOrphaned, "lesson %s no longer exists", *rec.LessonID)
		}
		verdict := c.LessonOccursOn(*subj.Lesson, date)
		if !verdict.Valid || subj.Lesson.IsStandalone() {
			return verdict
		}
		// an exception is live only while its template still produces the day
		if subj.Template == nil {
			return invalid(models.AttendanceReasonOrphaned, "lesson %s overrides template %s, which no longer exists", subj.Lesson.ID, *subj.Lesson.TemplateID)
		}
		return c.TemplateOccursOn(*subj.Template, []models.Lesson{*subj.Lesson}, date)
	default:
		if subj.Template == nil {
			return invalid(models.AttendanceReasonOrphaned, "template %s no longer exists", *rec.TemplateID)
		}
		return c.TemplateOccursOn(*subj.Template, subj.Exceptions, date)
	}
}

// LessonOccursOn checks a direct lesson reference: a standalone lesson or an
// exception row. It does not consult the exception's template; Check does.
func (c Checker) LessonOccursOn(lesson models.Lesson, date Date) models.AttendanceVerdict {
	if lesson.IsStandalone() {
		if actual := c.codec.DateOf(lesson.StartAt); actual != date {
			return invalid(models.AttendanceReasonMismatchedDate, "lesson %s takes place on %s, not %s", lesson.ID, actual, date)
		}
		return valid()
	}
	if actual := c.codec.ExceptionDate(lesson); actual != date {
		return invalid(models.AttendanceReasonMismatchedDate, "lesson %s overrides the occurrence on %s, not %s", lesson.ID, actual, date)
	}
	if lesson.IsCancelled {
		return invalid(models.AttendanceReasonCancelled, "the occurrence on %s was cancelled", date)
	}
	return valid()
}

// TemplateOccursOn checks whether tmpl has a live occurrence on date.
func (c Checker) TemplateOccursOn(tmpl models.RecurrenceTemplate, exceptions []models.Lesson, date Date) models.AttendanceVerdict {
	if !TimeOfDayOf(tmpl.TimeOfDayStart).Before(TimeOfDayOf(tmpl.TimeOfDayEnd)) {
		return invalid(models.AttendanceReasonUnparseableRule, "template %s: %v", tmpl.ID, ErrInvalidTimeOfDay)
	}
	rule, err := TemplateRule(c.codec, tmpl)
	if err != nil {
		return invalid(models.AttendanceReasonUnparseableRule, "%v", err)
	}
	if anchor, ok := rule.Anchor(); ok {
		if first := c.codec.DateOf(anchor); date.Before(first) {
			return invalid(models.AttendanceReasonOutOfPeriod, "series starts on %s, after %s", first, date)
		}
	}
	if until, ok := rule.Until(); ok {
		if last := c.codec.DateOf(until); date.After(last) {
			return invalid(models.AttendanceReasonOutOfPeriod, "series ended on %s, before %s", last, date)
		}
	}
	if weekdays := rule.Weekdays(); rule.Weekly() && len(weekdays) > 0 && !containsWeekday(weekdays, date.Weekday()) {
		return invalid(models.AttendanceReasonMismatchedWeekday, "series does not meet on %s (%s)", date.Weekday(), date)
	}

	occurs := false
	for _, day := range rule.Expand(date.StartIn(c.codec.loc), date.EndIn(c.codec.loc)) {
		if c.codec.DateOf(day) == date {
			occurs = true
			break
		}
	}
	if !occurs {
		return invalid(models.AttendanceReasonNonOccurrence, "series has no occurrence on %s", date)
	}

	if ex, ok := c.exceptionOn(tmpl.ID, exceptions, date); ok && ex.IsCancelled {
		return invalid(models.AttendanceReasonCancelled, "the occurrence on %s was cancelled", date)
	}
	return valid()
}

func (c Checker) exceptionOn(templateID string, exceptions []models.Lesson, date Date) (models.Lesson, bool) {
	var (
		found models.Lesson
		ok    bool
	)
	for _, ex := range exceptions {
		if ex.IsStandalone() || *ex.TemplateID != templateID || c.codec.ExceptionDate(ex) != date {
			continue
		}
		if !ok || preferException(ex, found) {
			found, ok = ex, true
		}
	}
	return found, ok
}

func containsWeekday(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

func valid() models.AttendanceVerdict {
	return models.AttendanceVerdict{Valid: true, Reason: models.AttendanceReasonValid, Detail: "occurrence exists"}
}

func invalid(reason models.AttendanceReason, format string, args ...any) models.AttendanceVerdict {
	return models.AttendanceVerdict{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
