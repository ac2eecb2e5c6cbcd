package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
	"github.com/noah-isme/sma-lesson-engine/pkg/response"
)

type lessonAttendanceService interface {
	Record(ctx context.Context, req dto.RecordLessonAttendanceRequest) (*models.LessonAttendance, error)
	Check(ctx context.Context, req dto.CheckLessonAttendanceRequest) (models.AttendanceVerdict, error)
}

type attendanceAuditor interface {
	Run(ctx context.Context, req dto.AuditRequest) (*models.AttendanceAuditReport, error)
}

// LessonAttendanceHandler records and audits per-lesson attendance.
type LessonAttendanceHandler struct {
	service lessonAttendanceService
	audit   attendanceAuditor
}

// NewLessonAttendanceHandler constructs the handler.
func NewLessonAttendanceHandler(svc lessonAttendanceService, audit attendanceAuditor) *LessonAttendanceHandler {
	return &LessonAttendanceHandler{service: svc, audit: audit}
}

// Record godoc
// @Summary Record attendance at a lesson occurrence
// @Tags Lesson Attendance
// @Accept json
// @Produce json
// @Param payload body dto.RecordLessonAttendanceRequest true "Attendance payload"
// @Success 201 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /lesson-attendance [post]
func (h *LessonAttendanceHandler) Record(c *gin.Context) {
	var req dto.RecordLessonAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rec, err := h.service.Record(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, rec)
}

// Check godoc
// @Summary Check whether a lesson occurs on a date
// @Tags Lesson Attendance
// @Accept json
// @Produce json
// @Param payload body dto.CheckLessonAttendanceRequest true "Reference and date"
// @Success 200 {object} response.Envelope
// @Router /lesson-attendance/check [post]
func (h *LessonAttendanceHandler) Check(c *gin.Context) {
	var req dto.CheckLessonAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	verdict, err := h.service.Check(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, verdict, nil)
}

// Audit godoc
// @Summary Dry-run audit of stored lesson attendance
// @Description Never deletes; use the attendance-audit command for cleanup.
// @Tags Lesson Attendance
// @Produce json
// @Param show_all query bool false "Include valid records in findings"
// @Success 200 {object} response.Envelope
// @Router /lesson-attendance/audit [get]
func (h *LessonAttendanceHandler) Audit(c *gin.Context) {
	showAll, _ := strconv.ParseBool(c.DefaultQuery("show_all", "false"))
	report, err := h.audit.Run(c.Request.Context(), dto.AuditRequest{ShowAll: showAll})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}
