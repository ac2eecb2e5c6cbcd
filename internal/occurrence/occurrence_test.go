package occurrence

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

var wib = time.FixedZone("WIB", 7*3600)

func strPtr(s string) *string { return &s }

func clock(h, m int) time.Time { return time.Date(2000, 1, 1, h, m, 0, 0, time.UTC) }

func mathTemplate() models.RecurrenceTemplate {
	return models.RecurrenceTemplate{
		ID:             "tmpl-math",
		Name:           "Mathematics",
		SubjectID:      "subj-math",
		ClassID:        "class-10a",
		TeacherID:      "teacher-1",
		RecurrenceSpec: "FREQ=WEEKLY;BYDAY=MO",
		TimeOfDayStart: clock(9, 0),
		TimeOfDayEnd:   clock(10, 30),
		CreatedAt:      time.Date(2025, 9, 1, 8, 0, 0, 0, wib),
	}
}

func octoberExceptions() []models.Lesson {
	cancelledOn := NewDate(2025, 10, 6).Stored()
	return []models.Lesson{
		{
			ID:             "exc-cancel",
			TemplateID:     strPtr("tmpl-math"),
			OccurrenceDate: &cancelledOn,
			IsCancelled:    true,
			Name:           "Mathematics",
			StartAt:        time.Date(2025, 10, 6, 9, 0, 0, 0, wib),
			EndAt:          time.Date(2025, 10, 6, 10, 30, 0, 0, wib),
		},
		{
			// no stored occurrence date: keyed by the local day of its start
			ID:         "exc-move",
			TemplateID: strPtr("tmpl-math"),
			Name:       "Mathematics (moved)",
			SubjectID:  "subj-math",
			ClassID:    "class-10a",
			TeacherID:  "teacher-2",
			StartAt:    time.Date(2025, 10, 13, 14, 0, 0, 0, wib),
			EndAt:      time.Date(2025, 10, 13, 15, 0, 0, 0, wib),
		},
		{
			// targets a Tuesday the series never produces
			ID:         "exc-stray",
			TemplateID: strPtr("tmpl-math"),
			Name:       "Stray",
			StartAt:    time.Date(2025, 10, 14, 9, 0, 0, 0, wib),
			EndAt:      time.Date(2025, 10, 14, 10, 0, 0, 0, wib),
		},
	}
}

func standaloneLessons() []models.Lesson {
	return []models.Lesson{
		{ID: "solo-1", Name: "Field trip", ClassID: "class-10a", StartAt: time.Date(2025, 10, 15, 10, 0, 0, 0, wib), EndAt: time.Date(2025, 10, 15, 12, 0, 0, 0, wib)},
		{ID: "solo-2", Name: "Assembly", StartAt: time.Date(2025, 11, 1, 0, 0, 0, 0, wib), EndAt: time.Date(2025, 11, 1, 1, 0, 0, 0, wib)},
	}
}

func october(t *testing.T) Window {
	w, err := NewWindow(time.Date(2025, 10, 1, 0, 0, 0, 0, wib), time.Date(2025, 11, 1, 0, 0, 0, 0, wib))
	require.NoError(t, err)
	return w
}

func TestOccurrencesInWindowOctoberScenario(t *testing.T) {
	e := NewExpander(NewCodec(wib))
	set := e.OccurrencesInWindow(Sources{
		Templates:  []models.RecurrenceTemplate{mathTemplate()},
		Exceptions: octoberExceptions(),
		Standalone: standaloneLessons(),
	}, october(t))

	require.Empty(t, set.Skipped)
	require.Len(t, set.Occurrences, 4)

	moved := set.Occurrences[0]
	assert.Equal(t, "tmpl-math@2025-10-13", moved.Key)
	assert.Equal(t, models.OccurrenceSourceException, moved.Source)
	assert.Equal(t, "exc-move", *moved.LessonID)
	assert.Equal(t, "teacher-2", moved.TeacherID)
	assert.Equal(t, time.Date(2025, 10, 13, 14, 0, 0, 0, wib), moved.Start)
	assert.Equal(t, time.Date(2025, 10, 13, 15, 0, 0, 0, wib), moved.End)

	solo := set.Occurrences[1]
	assert.Equal(t, models.OccurrenceSourceStandalone, solo.Source)
	assert.Equal(t, "solo-1@2025-10-15", solo.Key)

	for i, day := range []int{20, 27} {
		occ := set.Occurrences[2+i]
		assert.Equal(t, models.OccurrenceSourceNominal, occ.Source)
		assert.Nil(t, occ.LessonID)
		assert.Equal(t, time.Date(2025, 10, day, 9, 0, 0, 0, wib), occ.Start)
		assert.Equal(t, time.Date(2025, 10, day, 10, 30, 0, 0, wib), occ.End)
	}
}

func TestOccurrencesInWindowIsDeterministic(t *testing.T) {
	e := NewExpander(NewCodec(wib))
	second := mathTemplate()
	second.ID = "tmpl-art"
	second.RecurrenceSpec = "FREQ=WEEKLY;BYDAY=MO,WE"

	first := e.OccurrencesInWindow(Sources{
		Templates:  []models.RecurrenceTemplate{mathTemplate(), second},
		Exceptions: octoberExceptions(),
		Standalone: standaloneLessons(),
	}, october(t))

	exceptions := octoberExceptions()
	exceptions[0], exceptions[2] = exceptions[2], exceptions[0]
	standalone := standaloneLessons()
	standalone[0], standalone[1] = standalone[1], standalone[0]
	again := e.OccurrencesInWindow(Sources{
		Templates:  []models.RecurrenceTemplate{second, mathTemplate()},
		Exceptions: exceptions,
		Standalone: standalone,
	}, october(t))

	a, err := json.Marshal(first)
	require.NoError(t, err)
	b, err := json.Marshal(again)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	// same-start occurrences break ties on template id
	tied := 0
	for i := 1; i < len(first.Occurrences); i++ {
		prev, cur := first.Occurrences[i-1], first.Occurrences[i]
		if prev.Start.Equal(cur.Start) {
			tied++
			assert.Equal(t, "tmpl-art", *prev.TemplateID)
			assert.Equal(t, "tmpl-math", *cur.TemplateID)
		}
	}
	assert.Equal(t, 2, tied)
}

func TestOccurrencesInWindowSkipsBrokenTemplates(t *testing.T) {
	e := NewExpander(NewCodec(wib))
	broken := mathTemplate()
	broken.ID = "tmpl-broken"
	broken.RecurrenceSpec = "FREQ=SOMETIMES"
	inverted := mathTemplate()
	inverted.ID = "tmpl-inverted"
	inverted.TimeOfDayStart, inverted.TimeOfDayEnd = clock(11, 0), clock(10, 0)

	set := e.OccurrencesInWindow(Sources{Templates: []models.RecurrenceTemplate{broken, mathTemplate(), inverted}}, october(t))

	require.Len(t, set.Skipped, 2)
	assert.Equal(t, "tmpl-broken", set.Skipped[0].TemplateID)
	assert.Equal(t, "tmpl-inverted", set.Skipped[1].TemplateID)
	assert.Len(t, set.Occurrences, 4)
}

func TestExpandTemplateRespectsCap(t *testing.T) {
	e := NewExpander(NewCodec(wib), WithMaxPerTemplate(3))
	_, err := e.ExpandTemplate(mathTemplate(), nil, october(t))
	assert.ErrorIs(t, err, ErrOccurrenceCap)
}

func TestWindowIsHalfOpen(t *testing.T) {
	e := NewExpander(NewCodec(wib))
	w, err := NewWindow(time.Date(2025, 10, 20, 9, 0, 0, 0, wib), time.Date(2025, 10, 27, 9, 0, 0, 0, wib))
	require.NoError(t, err)

	occ, err := e.ExpandTemplate(mathTemplate(), nil, w)
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, "2025-10-20", occ[0].Date)

	_, err = NewWindow(w.End, w.Start)
	assert.Error(t, err)
}

func TestOverlayIgnoresUnmatchedAndPrefersLatest(t *testing.T) {
	codec := NewCodec(wib)
	e := NewExpander(codec)
	nominal, err := e.Nominal(mathTemplate(), october(t))
	require.NoError(t, err)

	older := models.Lesson{ID: "b", TemplateID: strPtr("tmpl-math"), Name: "older", StartAt: time.Date(2025, 10, 20, 9, 0, 0, 0, wib), UpdatedAt: time.Date(2025, 10, 1, 0, 0, 0, 0, wib)}
	newer := older
	newer.ID, newer.Name, newer.UpdatedAt = "a", "newer", older.UpdatedAt.Add(time.Hour)
	foreign := older
	foreign.ID, foreign.TemplateID = "c", strPtr("other")

	got := Overlay(codec, nominal, []models.Lesson{older, newer, foreign})
	require.Len(t, got, len(nominal))
	var names []string
	for _, occ := range got {
		if occ.Source == models.OccurrenceSourceException {
			names = append(names, occ.Name)
		}
	}
	assert.Equal(t, []string{"newer"}, names)
}

func TestCheckerOctoberScenario(t *testing.T) {
	checker := NewChecker(NewCodec(wib))
	tmpl := mathTemplate()
	exceptions := octoberExceptions()
	tuesdays := mathTemplate()
	tuesdays.RecurrenceSpec = "FREQ=WEEKLY;BYDAY=TU"
	onTemplate := func(day int) models.LessonAttendance {
		return models.LessonAttendance{TemplateID: strPtr(tmpl.ID), Date: NewDate(2025, 10, day).Stored()}
	}

	cases := []struct {
		name   string
		rec    models.LessonAttendance
		subj   Subject
		reason models.AttendanceReason
	}{
		{"cancelled monday", onTemplate(6), Subject{Template: &tmpl, Exceptions: exceptions}, models.AttendanceReasonCancelled},
		{"moved monday", onTemplate(13), Subject{Template: &tmpl, Exceptions: exceptions}, models.AttendanceReasonValid},
		{"plain monday", onTemplate(20), Subject{Template: &tmpl, Exceptions: exceptions}, models.AttendanceReasonValid},
		{"tuesday", onTemplate(14), Subject{Template: &tmpl, Exceptions: exceptions}, models.AttendanceReasonMismatchedWeekday},
		{"before anchor", models.LessonAttendance{TemplateID: strPtr(tmpl.ID), Date: NewDate(2025, 8, 25).Stored()}, Subject{Template: &tmpl}, models.AttendanceReasonOutOfPeriod},
		{"template gone", onTemplate(20), Subject{}, models.AttendanceReasonOrphaned},
		{"no reference", models.LessonAttendance{Date: NewDate(2025, 10, 20).Stored()}, Subject{}, models.AttendanceReasonOrphaned},
		{"both references", models.LessonAttendance{LessonID: strPtr("solo-1"), TemplateID: strPtr(tmpl.ID), Date: NewDate(2025, 10, 20).Stored()}, Subject{}, models.AttendanceReasonInvalidReference},
		{"exception lesson on its day", models.LessonAttendance{LessonID: strPtr("exc-move"), Date: NewDate(2025, 10, 13).Stored()}, Subject{Lesson: &exceptions[1], Template: &tmpl}, models.AttendanceReasonValid},
		{"exception lesson after weekday change", models.LessonAttendance{LessonID: strPtr("exc-move"), Date: NewDate(2025, 10, 13).Stored()}, Subject{Lesson: &exceptions[1], Template: &tuesdays}, models.AttendanceReasonMismatchedWeekday},
		{"exception lesson of deleted template", models.LessonAttendance{LessonID: strPtr("exc-move"), Date: NewDate(2025, 10, 13).Stored()}, Subject{Lesson: &exceptions[1]}, models.AttendanceReasonOrphaned},
		{"cancelled exception lesson", models.LessonAttendance{LessonID: strPtr("exc-cancel"), Date: NewDate(2025, 10, 6).Stored()}, Subject{Lesson: &exceptions[0]}, models.AttendanceReasonCancelled},
		{"standalone wrong day", models.LessonAttendance{LessonID: strPtr("solo-1"), Date: NewDate(2025, 10, 16).Stored()}, Subject{Lesson: &standaloneLessons()[0]}, models.AttendanceReasonMismatchedDate},
		{"standalone right day", models.LessonAttendance{LessonID: strPtr("solo-1"), Date: NewDate(2025, 10, 15).Stored()}, Subject{Lesson: &standaloneLessons()[0]}, models.AttendanceReasonValid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			verdict := checker.Check(tc.rec, tc.subj)
			assert.Equal(t, tc.reason, verdict.Reason, verdict.Detail)
			assert.Equal(t, tc.reason == models.AttendanceReasonValid, verdict.Valid)
			assert.NotEmpty(t, verdict.Detail)
		})
	}
}

func TestCheckerRuleReasons(t *testing.T) {
	checker := NewChecker(NewCodec(wib))

	biweekly := mathTemplate()
	biweekly.RecurrenceSpec = "DTSTART:20251006T000000\nRRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=MO"
	assert.Equal(t, models.AttendanceReasonValid, checker.TemplateOccursOn(biweekly, nil, NewDate(2025, 10, 20)).Reason)
	assert.Equal(t, models.AttendanceReasonNonOccurrence, checker.TemplateOccursOn(biweekly, nil, NewDate(2025, 10, 13)).Reason)

	ended := mathTemplate()
	ended.RecurrenceSpec = "FREQ=WEEKLY;BYDAY=MO;UNTIL=20251013T235959Z"
	assert.Equal(t, models.AttendanceReasonValid, checker.TemplateOccursOn(ended, nil, NewDate(2025, 10, 13)).Reason)
	assert.Equal(t, models.AttendanceReasonOutOfPeriod, checker.TemplateOccursOn(ended, nil, NewDate(2025, 10, 20)).Reason)

	broken := mathTemplate()
	broken.RecurrenceSpec = "not a rule"
	assert.Equal(t, models.AttendanceReasonUnparseableRule, checker.TemplateOccursOn(broken, nil, NewDate(2025, 10, 20)).Reason)
}

// A template reference is valid on a day exactly when that day's expansion
// holds an occurrence of the template.
func TestCheckerAgreesWithExpander(t *testing.T) {
	codec := NewCodec(wib)
	e := NewExpander(codec)
	checker := NewChecker(codec)

	templates := []models.RecurrenceTemplate{mathTemplate()}
	biweekly := mathTemplate()
	biweekly.ID = "tmpl-bi"
	biweekly.RecurrenceSpec = "DTSTART:20251008T000000\nRRULE:FREQ=WEEKLY;INTERVAL=2;BYDAY=WE,FR;UNTIL=20251025T000000Z"
	templates = append(templates, biweekly)
	exceptions := octoberExceptions()

	for _, tmpl := range templates {
		for day := NewDate(2025, 9, 28); day.Before(NewDate(2025, 11, 3)); day = day.AddDays(1) {
			w, err := NewWindow(day.StartIn(wib), day.AddDays(1).StartIn(wib))
			require.NoError(t, err)
			occ, err := e.ExpandTemplate(tmpl, exceptions, w)
			require.NoError(t, err)

			verdict := checker.TemplateOccursOn(tmpl, exceptions, day)
			assert.Equal(t, len(occ) == 1, verdict.Valid, "%s on %s: %s", tmpl.ID, day, verdict.Detail)
		}
	}
}

func TestDateHelpers(t *testing.T) {
	d, err := ParseDate("2025-10-31")
	require.NoError(t, err)
	assert.Equal(t, "2025-11-01", d.AddDays(1).String())
	assert.Equal(t, time.Friday, d.Weekday())
	assert.True(t, d.Before(d.AddDays(1)))
	assert.Equal(t, time.Date(2025, 10, 31, 23, 59, 59, 999999999, wib), d.EndIn(wib))

	_, err = ParseDate("31/10/2025")
	assert.Error(t, err)

	tod, err := ParseTimeOfDay("07:45")
	require.NoError(t, err)
	assert.Equal(t, "07:45", tod.String())
	assert.True(t, tod.Before(TimeOfDay{Hour: 8}))

	codec := NewCodec(wib)
	// 20:00 UTC on the 5th is already the 6th in WIB
	assert.Equal(t, NewDate(2025, 10, 6), codec.DateOf(time.Date(2025, 10, 5, 20, 0, 0, 0, time.UTC)))
	assert.Equal(t, "tmpl@2025-10-06", codec.Key("tmpl", NewDate(2025, 10, 6)))
}
