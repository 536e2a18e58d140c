package handlers

import (
	"net/http"
	"strconv"

	"churnguard/internal/services"

	"github.com/gin-gonic/gin"
)

// TriggerHandler manages churn triggers and their conditions. The
// dashboard is the primary consumer.
type TriggerHandler struct {
	service *services.TriggerService
}

func NewTriggerHandler(service *services.TriggerService) *TriggerHandler {
	return &TriggerHandler{service: service}
}

// ListTriggers returns the authenticated user's triggers.
func (h *TriggerHandler) ListTriggers(c *gin.Context) {
	triggers, err := h.service.ListTriggers(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list triggers", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, triggers)
}

// GetTrigger returns one trigger with conditions and template.
func (h *TriggerHandler) GetTrigger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	trigger, err := h.service.GetTrigger(c.Request.Context(), currentUserID(c), id)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to get trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, trigger)
}

// CreateTrigger creates a trigger with its ordered condition list.
func (h *TriggerHandler) CreateTrigger(c *gin.Context) {
	var req services.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	trigger, err := h.service.CreateTrigger(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Failed to create trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusCreated, trigger)
}

// UpdateTrigger replaces a trigger definition.
func (h *TriggerHandler) UpdateTrigger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req services.TriggerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	trigger, err := h.service.UpdateTrigger(c.Request.Context(), currentUserID(c), id, &req)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to update trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, trigger)
}

// SetActive toggles a trigger.
func (h *TriggerHandler) SetActive(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		IsActive *bool `json:"is_active" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	if err := h.service.SetActive(c.Request.Context(), currentUserID(c), id, *req.IsActive); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to update trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "updated"})
}

// DeleteTrigger removes a trigger and its conditions.
func (h *TriggerHandler) DeleteTrigger(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.DeleteTrigger(c.Request.Context(), currentUserID(c), id); err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to delete trigger", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "deleted"})
}

// ListExecutions returns the execution log for one trigger.
func (h *TriggerHandler) ListExecutions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	execs, err := h.service.ListExecutions(c.Request.Context(), currentUserID(c), id, limit)
	if err != nil {
		c.JSON(statusFor(err), ErrorResponse{Error: "Failed to list executions", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, execs)
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid id", Message: err.Error()})
		return 0, false
	}
	return uint(id), true
}

func statusFor(err error) int {
	switch err.Error() {
	case "trigger not found", "template not found":
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// RegisterTriggerRoutes wires the trigger CRUD surface.
func RegisterTriggerRoutes(r *gin.RouterGroup, handler *TriggerHandler) {
	triggers := r.Group("/triggers")
	{
		triggers.GET("", handler.ListTriggers)
		triggers.POST("", handler.CreateTrigger)
		triggers.GET(":id", handler.GetTrigger)
		triggers.PUT(":id", handler.UpdateTrigger)
		triggers.PUT(":id/active", handler.SetActive)
		triggers.DELETE(":id", handler.DeleteTrigger)
		triggers.GET(":id/executions", handler.ListExecutions)
	}
}
