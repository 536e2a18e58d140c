package handlers

import (
	"net/http"
	"time"

	"churnguard/internal/models"
	"churnguard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AnalyticsHandler exposes snapshots, manual sync and dashboard stats.
type AnalyticsHandler struct {
	db      *gorm.DB
	service *services.AnalyticsService
	logger  *logrus.Logger
}

func NewAnalyticsHandler(db *gorm.DB, service *services.AnalyticsService, logger *logrus.Logger) *AnalyticsHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &AnalyticsHandler{db: db, service: service, logger: logger}
}

// ListSnapshots returns the authenticated user's customer snapshots.
func (h *AnalyticsHandler) ListSnapshots(c *gin.Context) {
	snapshots, err := h.service.ListSnapshots(c.Request.Context(), currentUserID(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to list snapshots", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, snapshots)
}

// Sync rebuilds the user's snapshots for the requested period
// (defaulting to the trailing 30 days).
func (h *AnalyticsHandler) Sync(c *gin.Context) {
	var req struct {
		PeriodStart *time.Time `json:"period_start"`
		PeriodEnd   *time.Time `json:"period_end"`
	}
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request", Message: err.Error()})
		return
	}

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -30)
	if req.PeriodEnd != nil {
		end = *req.PeriodEnd
	}
	if req.PeriodStart != nil {
		start = *req.PeriodStart
	}

	count, err := h.service.SyncUser(c.Request.Context(), currentUserID(c), start, end)
	if err != nil {
		h.logger.Errorf("analytics sync failed: %v", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Sync failed", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Message: "synced", Data: gin.H{"snapshots": count}})
}

// DashboardStats returns the recent daily rollups for the dashboard.
func (h *AnalyticsHandler) DashboardStats(c *gin.Context) {
	since := time.Now().UTC().AddDate(0, 0, -30).Truncate(24 * time.Hour)
	var stats []models.DailyStats
	if err := h.db.WithContext(c.Request.Context()).
		Where("user_id = ? AND date >= ?", currentUserID(c), since).
		Order("date ASC").
		Find(&stats).Error; err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to load stats", Message: err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// RegisterAnalyticsRoutes wires the analytics surface.
func RegisterAnalyticsRoutes(r *gin.RouterGroup, handler *AnalyticsHandler) {
	r.GET("/snapshots", handler.ListSnapshots)
	r.POST("/analytics/sync", handler.Sync)
	r.GET("/stats/dashboard", handler.DashboardStats)
}
