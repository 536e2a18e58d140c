package handlers

import (
	"net/http"
	"time"

	"churnguard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// BatchHandler is the entry point the external cron scheduler calls.
// The response shape is a fixed contract with that caller:
// 200 {"processed":N,"total":M,"duration_ms":D} or 500 {"error":"..."}.
type BatchHandler struct {
	batch  *services.BatchService
	logger *logrus.Logger
}

func NewBatchHandler(batch *services.BatchService, logger *logrus.Logger) *BatchHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &BatchHandler{batch: batch, logger: logger}
}

// Run executes one batch pass over all active triggers.
func (h *BatchHandler) Run(c *gin.Context) {
	start := time.Now()

	result, err := h.batch.RunBatch(c.Request.Context())
	if err != nil {
		h.logger.Errorf("batch run failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processed":   result.TriggersProcessed,
		"total":       result.TotalMatches,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// RegisterBatchRoutes wires the scheduler-facing batch endpoint.
func RegisterBatchRoutes(r *gin.RouterGroup, handler *BatchHandler) {
	r.POST("/batch/run", handler.Run)
}
