package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/middleware"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
	"github.com/noah-isme/sma-lesson-engine/pkg/response"
)

type calendarService interface {
	Occurrences(ctx context.Context, q dto.OccurrenceQuery) (*models.OccurrenceSet, error)
	ExportICS(ctx context.Context, q dto.OccurrenceQuery) ([]byte, error)
	Location() *time.Location
}

// CalendarHandler exposes resolved lesson occurrences.
type CalendarHandler struct {
	service calendarService
}

// NewCalendarHandler constructs the handler.
func NewCalendarHandler(service calendarService) *CalendarHandler {
	return &CalendarHandler{service: service}
}

// Occurrences godoc
// @Summary List lesson occurrences in a window
// @Description Window is half-open [start, end). Dates (YYYY-MM-DD) are local midnights in the school timezone.
// @Tags Calendar
// @Produce json
// @Param start query string true "Window start (YYYY-MM-DD or RFC3339)"
// @Param end query string true "Window end, exclusive (YYYY-MM-DD or RFC3339)"
// @Param class_id query string false "Class ID"
// @Param teacher_id query string false "Teacher ID"
// @Param subject_id query string false "Subject ID"
// @Param page query int false "Page, enables paging when set"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /calendar/occurrences [get]
func (h *CalendarHandler) Occurrences(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	set, err := h.service.Occurrences(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}

	middleware.SetMeta(c, "window", dto.OccurrenceMeta{
		Start:    q.Start,
		End:      q.End,
		Timezone: h.service.Location().String(),
		Count:    len(set.Occurrences),
	})
	if len(set.Skipped) > 0 {
		middleware.SetMeta(c, "skipped_templates", len(set.Skipped))
	}
	pagination := paginateOccurrences(c, set)
	response.JSON(c, http.StatusOK, set, pagination, middleware.ExtractMeta(c))
}

// paginateOccurrences trims set to the requested page. Without page or
// page_size the full window is returned.
func paginateOccurrences(c *gin.Context, set *models.OccurrenceSet) *models.Pagination {
	if c.Query("page") == "" && c.Query("page_size") == "" {
		return nil
	}
	page := parseQueryInt(c, "page", 1)
	if page < 1 {
		page = 1
	}
	size := parseQueryInt(c, "page_size", 100)
	if size < 1 || size > 1000 {
		size = 100
	}

	total := len(set.Occurrences)
	from := (page - 1) * size
	if from > total {
		from = total
	}
	to := from + size
	if to > total {
		to = total
	}
	set.Occurrences = set.Occurrences[from:to]
	return &models.Pagination{Page: page, PageSize: size, TotalCount: total}
}

// ExportICS godoc
// @Summary Export lesson occurrences as iCalendar
// @Tags Calendar
// @Produce text/calendar
// @Param start query string true "Window start (YYYY-MM-DD or RFC3339)"
// @Param end query string true "Window end, exclusive (YYYY-MM-DD or RFC3339)"
// @Param class_id query string false "Class ID"
// @Param teacher_id query string false "Teacher ID"
// @Param subject_id query string false "Subject ID"
// @Success 200 {string} string "text/calendar body"
// @Router /calendar/occurrences.ics [get]
func (h *CalendarHandler) ExportICS(c *gin.Context) {
	q, err := h.query(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	body, err := h.service.ExportICS(c.Request.Context(), q)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("lessons-%s-%s.ics", q.Start.In(h.service.Location()).Format(occurrence.DateLayout), q.End.In(h.service.Location()).Format(occurrence.DateLayout))
	response.Attachment(c, "text/calendar; charset=utf-8", filename, body)
}

func (h *CalendarHandler) query(c *gin.Context) (dto.OccurrenceQuery, error) {
	loc := h.service.Location()
	start, err := parseWindowBound(c.Query("start"), "start", loc)
	if err != nil {
		return dto.OccurrenceQuery{}, err
	}
	end, err := parseWindowBound(c.Query("end"), "end", loc)
	if err != nil {
		return dto.OccurrenceQuery{}, err
	}
	return dto.OccurrenceQuery{
		Start:     start,
		End:       end,
		ClassID:   pickQuery(c, "class_id", "classId"),
		TeacherID: pickQuery(c, "teacher_id", "teacherId"),
		SubjectID: pickQuery(c, "subject_id", "subjectId"),
	}, nil
}

func parseWindowBound(raw, name string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, name+" is required")
	}
	if d, err := occurrence.ParseDate(raw); err == nil {
		return d.StartIn(loc), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("invalid %s, expected YYYY-MM-DD or RFC3339", name))
	}
	return t, nil
}

func parsePathDate(c *gin.Context) (occurrence.Date, error) {
	d, err := occurrence.ParseDate(c.Param("date"))
	if err != nil {
		return d, appErrors.Clone(appErrors.ErrValidation, "invalid date, expected YYYY-MM-DD")
	}
	return d, nil
}

func parseQueryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return val
}

func pickQuery(c *gin.Context, preferred string, fallback string) string {
	if value := c.Query(preferred); value != "" {
		return value
	}
	return c.Query(fallback)
}
