package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
)

const icsProductID = "-//SMA Lesson Engine//Occurrences//EN"

// ExportICS renders the window as an iCalendar feed, one VEVENT per occurrence.
func (s *CalendarService) ExportICS(ctx context.Context, q dto.OccurrenceQuery) ([]byte, error) {
	set, err := s.Occurrences(ctx, q)
	if err != nil {
		return nil, err
	}
	return RenderICS(set.Occurrences, time.Now().UTC()), nil
}

// RenderICS serialises occurrences. Event UIDs are occurrence keys, so a
// re-exported occurrence replaces its earlier copy in subscribing clients.
func RenderICS(occurrences []models.Occurrence, stamp time.Time) []byte {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(icsProductID)

	for _, occ := range occurrences {
		event := cal.AddEvent(occ.Key)
		event.SetDtStampTime(stamp)
		event.SetStartAt(occ.Start)
		event.SetEndAt(occ.End)
		event.SetSummary(occ.Name)
		event.SetDescription(describeOccurrence(occ))
	}
	return []byte(cal.Serialize())
}

func describeOccurrence(occ models.Occurrence) string {
	parts := make([]string, 0, 4)
	if occ.SubjectID != "" {
		parts = append(parts, "subject "+occ.SubjectID)
	}
	if occ.ClassID != "" {
		parts = append(parts, "class "+occ.ClassID)
	}
	if occ.TeacherID != "" {
		parts = append(parts, "teacher "+occ.TeacherID)
	}
	parts = append(parts, fmt.Sprintf("source %s", strings.ToLower(string(occ.Source))))
	return strings.Join(parts, ", ")
}
