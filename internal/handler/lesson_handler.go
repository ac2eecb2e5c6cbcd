package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lesson-engine/internal/dto"
	"github.com/noah-isme/sma-lesson-engine/internal/models"
	"github.com/noah-isme/sma-lesson-engine/internal/occurrence"
	"github.com/noah-isme/sma-lesson-engine/internal/service"
	appErrors "github.com/noah-isme/sma-lesson-engine/pkg/errors"
	"github.com/noah-isme/sma-lesson-engine/pkg/response"
)

type lessonService interface {
	CreateStandalone(ctx context.Context, req dto.CreateLessonRequest) (*models.Lesson, error)
	CreateRecurring(ctx context.Context, req dto.CreateRecurringLessonRequest) (*models.RecurrenceTemplate, error)
	Edit(ctx context.Context, target service.LessonTarget, req dto.LessonChangeRequest) (*service.EditResult, error)
	Cancel(ctx context.Context, templateID string, date occurrence.Date) (*models.Lesson, error)
	Delete(ctx context.Context, target service.LessonTarget) (*service.EditResult, error)
}

// LessonHandler handles lesson and lesson template mutations.
type LessonHandler struct {
	service lessonService
}

// NewLessonHandler constructs a lesson handler.
func NewLessonHandler(svc lessonService) *LessonHandler {
	return &LessonHandler{service: svc}
}

// CreateLesson godoc
// @Summary Create a one-off lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Param payload body dto.CreateLessonRequest true "Lesson payload"
// @Success 201 {object} response.Envelope
// @Router /lessons [post]
func (h *LessonHandler) CreateLesson(c *gin.Context) {
	var req dto.CreateLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	lesson, err := h.service.CreateStandalone(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, lesson)
}

// UpdateLesson godoc
// @Summary Edit a one-off lesson
// @Tags Lessons
// @Accept json
// @Produce json
// @Param id path string true "Lesson ID"
// @Param payload body dto.LessonChangeRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Router /lessons/{id} [patch]
func (h *LessonHandler) UpdateLesson(c *gin.Context) {
	var req dto.LessonChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.service.Edit(c.Request.Context(), service.StandaloneTarget{LessonID: c.Param("id")}, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DeleteLesson godoc
// @Summary Delete a one-off lesson
// @Tags Lessons
// @Param id path string true "Lesson ID"
// @Success 204
// @Router /lessons/{id} [delete]
func (h *LessonHandler) DeleteLesson(c *gin.Context) {
	if _, err := h.service.Delete(c.Request.Context(), service.StandaloneTarget{LessonID: c.Param("id")}); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CreateTemplate godoc
// @Summary Create a weekly lesson series
// @Tags Lesson Templates
// @Accept json
// @Produce json
// @Param payload body dto.CreateRecurringLessonRequest true "Series payload"
// @Success 201 {object} response.Envelope
// @Router /lesson-templates [post]
func (h *LessonHandler) CreateTemplate(c *gin.Context) {
	var req dto.CreateRecurringLessonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	tmpl, err := h.service.CreateRecurring(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, tmpl)
}

// UpdateTemplate godoc
// @Summary Edit a whole lesson series
// @Description Drops every exception of the series.
// @Tags Lesson Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param payload body dto.LessonChangeRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Router /lesson-templates/{id} [patch]
func (h *LessonHandler) UpdateTemplate(c *gin.Context) {
	var req dto.LessonChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	target := service.TemplateTarget{TemplateID: c.Param("id"), Scope: service.EditScopeSeries}
	result, err := h.service.Edit(c.Request.Context(), target, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// DeleteTemplate godoc
// @Summary Delete a lesson series with its exceptions
// @Tags Lesson Templates
// @Produce json
// @Param id path string true "Template ID"
// @Success 200 {object} response.Envelope
// @Router /lesson-templates/{id} [delete]
func (h *LessonHandler) DeleteTemplate(c *gin.Context) {
	result, err := h.service.Delete(c.Request.Context(), service.TemplateTarget{TemplateID: c.Param("id"), Scope: service.EditScopeSeries})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// UpdateOccurrence godoc
// @Summary Edit one occurrence of a series
// @Tags Lesson Templates
// @Accept json
// @Produce json
// @Param id path string true "Template ID"
// @Param date path string true "Occurrence date (YYYY-MM-DD)"
// @Param payload body dto.LessonChangeRequest true "Changed fields"
// @Success 200 {object} response.Envelope
// @Router /lesson-templates/{id}/occurrences/{date} [patch]
func (h *LessonHandler) UpdateOccurrence(c *gin.Context) {
	date, err := parsePathDate(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	var req dto.LessonChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	target := service.TemplateTarget{TemplateID: c.Param("id"), Scope: service.EditScopeInstance, Date: date}
	result, err := h.service.Edit(c.Request.Context(), target, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// CancelOccurrence godoc
// @Summary Cancel one occurrence of a series
// @Tags Lesson Templates
// @Produce json
// @Param id path string true "Template ID"
// @Param date path string true "Occurrence date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /lesson-templates/{id}/occurrences/{date} [delete]
func (h *LessonHandler) CancelOccurrence(c *gin.Context) {
	date, err := parsePathDate(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	tombstone, err := h.service.Cancel(c.Request.Context(), c.Param("id"), date)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tombstone, nil)
}
