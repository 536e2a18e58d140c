package handlers

import (
	"net/http"

	"churnguard/internal/models"
	"churnguard/internal/services"

	"github.com/gin-gonic/gin"
)

// TemplateHandler manages email templates.
type TemplateHandler struct {
	service *services.TriggerService
}

func NewTemplateHandler(service *services.TriggerService) *TemplateHandler {
	return &TemplateHandler{service: service}
}

// ListTemplates returns the authenticated user's templates.
func (h *TemplateHandler) ListTemplates(c *gin.Context) {
	templates, err := h.service.ListTemplates(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list templates", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, templates)
}

// CreateTemplate stores a template.
func (h *TemplateHandler) CreateTemplate(c *gin.Context) {
	var tpl models.EmailTemplate
	if err := c.ShouldBindJSON(&tpl); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}
	created, err := h.service.CreateTemplate(c.Request.Context(), currentUserID(c), &tpl)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create template", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// PreviewTemplate renders a template body against a sample snapshot so
// the dashboard editor can show the substituted output.
func (h *TemplateHandler) PreviewTemplate(c *gin.Context) {
	var req struct {
		Subject  string                   `json:"subject"`
		BodyHTML string                   `json:"body_html"`
		BodyText string                   `json:"body_text"`
		Snapshot models.AnalyticsSnapshot `json:"snapshot"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	rendered := services.RenderEmail(models.EmailTemplate{
		Subject:  req.Subject,
		BodyHTML: req.BodyHTML,
		BodyText: req.BodyText,
	}, req.Snapshot)

	c.JSON(http.StatusOK, gin.H{
		"subject":   rendered.Subject,
		"body_html": rendered.HTML,
		"body_text": rendered.Text,
	})
}

// DeleteTemplate removes an unused template.
func (h *TemplateHandler) DeleteTemplate(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteTemplate(c.Request.Context(), currentUserID(c), id); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to delete template", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// RegisterTemplateRoutes wires the template surface.
func RegisterTemplateRoutes(r *gin.RouterGroup, handler *TemplateHandler) {
	templates := r.Group("/templates")
	{
		templates.GET("", handler.ListTemplates)
		templates.POST("", handler.CreateTemplate)
		templates.POST("/preview", handler.PreviewTemplate)
		templates.DELETE(":id", handler.DeleteTemplate)
	}
}
