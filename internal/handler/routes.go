package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-lesson-engine/internal/middleware"
)

// Handlers groups the handlers mounted by RegisterRoutes.
type Handlers struct {
	Calendar   *CalendarHandler
	Lessons    *LessonHandler
	Attendance *LessonAttendanceHandler
	Metrics    *MetricsHandler
}

// RegisterRoutes mounts operational endpoints at the root and the API under prefix.
func RegisterRoutes(r gin.IRouter, prefix string, h Handlers) {
	r.GET("/health", h.Metrics.Health)
	r.GET("/metrics", h.Metrics.Prometheus)
	r.GET("/metrics/summary", h.Metrics.Summary)

	api := r.Group(prefix)
	api.Use(middleware.WithResponseMeta())

	calendar := api.Group("/calendar")
	calendar.GET("/occurrences", h.Calendar.Occurrences)
	calendar.GET("/occurrences.ics", h.Calendar.ExportICS)

	lessons := api.Group("/lessons")
	lessons.POST("", h.Lessons.CreateLesson)
	lessons.PATCH("/:id", h.Lessons.UpdateLesson)
	lessons.DELETE("/:id", h.Lessons.DeleteLesson)

	templates := api.Group("/lesson-templates")
	templates.POST("", h.Lessons.CreateTemplate)
	templates.PATCH("/:id", h.Lessons.UpdateTemplate)
	templates.DELETE("/:id", h.Lessons.DeleteTemplate)
	templates.PATCH("/:id/occurrences/:date", h.Lessons.UpdateOccurrence)
	templates.DELETE("/:id/occurrences/:date", h.Lessons.CancelOccurrence)

	attendance := api.Group("/lesson-attendance")
	attendance.POST("", h.Attendance.Record)
	attendance.POST("/check", h.Attendance.Check)
	attendance.GET("/audit", h.Attendance.Audit)
}
