package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"churnguard/internal/config"
	"churnguard/internal/metrics"
	"churnguard/internal/models"
	"churnguard/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// churn-relevant payment events; everything else is acknowledged and dropped.
var churnEventTypes = map[string]bool{
	"customer.subscription.deleted": true,
	"invoice.payment_failed":        true,
}

// WebhookHandler ingests payment-provider webhooks. Each accepted event
// is stored as a ChurnEvent and handed to the single-customer refresh
// path asynchronously; the provider only needs a fast 200.
type WebhookHandler struct {
	db        *gorm.DB
	analytics *services.AnalyticsService
	cfg       config.StripeConfig
	logger    *logrus.Logger
}

func NewWebhookHandler(db *gorm.DB, analytics *services.AnalyticsService, cfg config.StripeConfig, logger *logrus.Logger) *WebhookHandler {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 5 * time.Minute
	}
	return &WebhookHandler{db: db, analytics: analytics, cfg: cfg, logger: logger}
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			CustomerEmail string `json:"customer_email"`
			Customer      string `json:"customer"`
		} `json:"object"`
	} `json:"data"`
}

// HandleStripe verifies the signature, stores churn-relevant events and
// kicks off the customer refresh. Duplicate provider event ids are
// acknowledged without reprocessing.
func (h *WebhookHandler) HandleStripe(c *gin.Context) {
	userID, err := strconv.ParseUint(c.Param("user_id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid user id", Message: err.Error()})
		return
	}

	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid payload", Message: err.Error()})
		return
	}

	if err := verifyStripeSignature(c.GetHeader("Stripe-Signature"), payload, h.cfg.WebhookSecret, time.Now(), h.cfg.Tolerance); err != nil {
		h.logger.Warnf("webhook: signature rejected: %v", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid signature", Message: err.Error()})
		return
	}

	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid event", Message: err.Error()})
		return
	}
	if event.ID == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid event", Message: "missing event id"})
		return
	}

	if !churnEventTypes[event.Type] {
		c.JSON(http.StatusOK, SuccessResponse{Message: "ignored"})
		return
	}

	record := models.ChurnEvent{
		UserID:          uint(userID),
		ProviderEventID: event.ID,
		EventType:       event.Type,
		CustomerEmail:   event.Data.Object.CustomerEmail,
		Payload:         string(payload),
	}
	if err := h.db.WithContext(c.Request.Context()).Create(&record).Error; err != nil {
		// Unique index on ProviderEventID: a retry of an already stored
		// event is not an error for the caller.
		if strings.Contains(strings.ToLower(err.Error()), "unique") || strings.Contains(strings.ToLower(err.Error()), "duplicate") {
			c.JSON(http.StatusOK, SuccessResponse{Message: "duplicate"})
			return
		}
		h.logger.Errorf("webhook: store event %s: %v", event.ID, err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "Failed to store event", Message: err.Error()})
		return
	}
	metrics.IncWebhookEvent()

	go func(id uint) {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := h.analytics.RefreshCustomer(ctx, id); err != nil {
			h.logger.Errorf("webhook: refresh for event %d failed: %v", id, err)
		}
	}(record.ID)

	c.JSON(http.StatusOK, SuccessResponse{Message: "accepted"})
}

// verifyStripeSignature checks the "t=...,v1=..." header: HMAC-SHA256
// over "<t>.<payload>" with the endpoint secret, rejecting stale
// timestamps beyond the tolerance window.
func verifyStripeSignature(header string, payload []byte, secret string, now time.Time, tolerance time.Duration) error {
	if secret == "" {
		return errors.New("webhook secret not configured")
	}
	if header == "" {
		return errors.New("missing signature header")
	}

	var ts int64
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			parsed, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return errors.New("invalid timestamp")
			}
			ts = parsed
		case "v1":
			sig, err := hex.DecodeString(kv[1])
			if err != nil {
				continue
			}
			sigs = append(sigs, sig)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return errors.New("malformed signature header")
	}

	if diff := now.Sub(time.Unix(ts, 0)); diff > tolerance || diff < -tolerance {
		return errors.New("timestamp outside tolerance")
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return errors.New("no matching signature")
}

// RegisterWebhookRoutes wires the public webhook endpoint.
func RegisterWebhookRoutes(r *gin.RouterGroup, handler *WebhookHandler) {
	r.POST("/stripe/:user_id", handler.HandleStripe)
}
