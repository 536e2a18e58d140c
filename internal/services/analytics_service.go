package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"churnguard/internal/models"
	"churnguard/pkg/posthog"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// AnalyticsService turns raw behavioral events into per-customer
// AnalyticsSnapshot rows. Snapshots overlapping the synced period are
// deleted and replaced wholesale; there is no incremental merge.
type AnalyticsService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	events   posthog.API
	pipeline *PipelineService

	// newClient builds a per-user client from a connected integration's
	// credentials. Swappable in tests.
	newClient func(apiKey, projectID string) posthog.API
}

func NewAnalyticsService(db *gorm.DB, logger *logrus.Logger, events posthog.API, pipeline *PipelineService) *AnalyticsService {
	if logger == nil {
		logger = logrus.New()
	}
	s := &AnalyticsService{db: db, logger: logger, events: events, pipeline: pipeline}
	s.newClient = func(apiKey, projectID string) posthog.API {
		c := posthog.DefaultConfig()
		c.APIKey = apiKey
		c.ProjectID = projectID
		return posthog.NewClient(c, logger)
	}
	return s
}

// eventsFor resolves the analytics source for one user: a connected
// posthog integration with its own credentials wins, anyone else reads
// through the process-wide client.
func (s *AnalyticsService) eventsFor(ctx context.Context, userID uint) posthog.API {
	var integ models.Integration
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND provider = ? AND api_key <> '' AND project_id <> ''", userID, "posthog").
		First(&integ).Error
	if err != nil {
		if err != gorm.ErrRecordNotFound {
			s.logger.Warnf("analytics: integration lookup for user %d: %v", userID, err)
		}
		return s.events
	}
	return s.newClient(integ.APIKey, integ.ProjectID)
}

// SyncUser rebuilds all of a user's snapshots for the given period from
// the analytics provider. Returns the number of snapshots written.
func (s *AnalyticsService) SyncUser(ctx context.Context, userID uint, periodStart, periodEnd time.Time) (int, error) {
	if !periodEnd.After(periodStart) {
		return 0, fmt.Errorf("period end must be after period start")
	}

	events, err := s.eventsFor(ctx, userID).ListEvents(ctx, periodStart, periodEnd)
	if err != nil {
		s.markIntegrationError(ctx, userID, err)
		return 0, fmt.Errorf("fetch events: %w", err)
	}

	snapshots := aggregateSnapshots(events, userID, periodStart, periodEnd)

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND period_end > ? AND period_start < ?",
			userID, periodStart, periodEnd).
			Delete(&models.AnalyticsSnapshot{}).Error; err != nil {
			return err
		}
		if len(snapshots) == 0 {
			return nil
		}
		return tx.Create(&snapshots).Error
	})
	if err != nil {
		return 0, fmt.Errorf("replace snapshots: %w", err)
	}

	s.markSynced(ctx, userID)
	s.logger.Infof("analytics: synced %d snapshot(s) for user %d", len(snapshots), userID)
	return len(snapshots), nil
}

// RefreshCustomer is the webhook-driven single-customer path: rebuild
// one customer's snapshot for the trailing 30 days, mark the source
// churn event processed, then run the owning user's realtime triggers
// against the fresh snapshot.
func (s *AnalyticsService) RefreshCustomer(ctx context.Context, churnEventID uint) error {
	var event models.ChurnEvent
	if err := s.db.WithContext(ctx).First(&event, churnEventID).Error; err != nil {
		return fmt.Errorf("load churn event %d: %w", churnEventID, err)
	}
	if event.Processed {
		return nil
	}
	if event.CustomerEmail == "" {
		return fmt.Errorf("churn event %d has no customer email", churnEventID)
	}

	periodEnd := time.Now().UTC()
	periodStart := periodEnd.AddDate(0, 0, -30)

	rawEvents, err := s.eventsFor(ctx, event.UserID).ListCustomerEvents(ctx, event.CustomerEmail, periodStart, periodEnd)
	if err != nil {
		return fmt.Errorf("fetch events for %s: %w", event.CustomerEmail, err)
	}

	snapshots := aggregateSnapshots(rawEvents, event.UserID, periodStart, periodEnd)
	var snap models.AnalyticsSnapshot
	if len(snapshots) > 0 {
		snap = snapshots[0]
	} else {
		// No events in the window: store an empty snapshot so the rules
		// see the customer as inactive rather than invisible.
		snap = models.AnalyticsSnapshot{
			UserID:        event.UserID,
			CustomerEmail: event.CustomerEmail,
			PeriodStart:   periodStart,
			PeriodEnd:     periodEnd,
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ? AND customer_email = ? AND period_end > ? AND period_start < ?",
			event.UserID, event.CustomerEmail, periodStart, periodEnd).
			Delete(&models.AnalyticsSnapshot{}).Error; err != nil {
			return err
		}
		if err := tx.Create(&snap).Error; err != nil {
			return err
		}
		now := time.Now()
		return tx.Model(&models.ChurnEvent{}).
			Where("id = ?", event.ID).
			Updates(map[string]interface{}{"processed": true, "processed_at": now}).Error
	})
	if err != nil {
		return fmt.Errorf("refresh snapshot for %s: %w", event.CustomerEmail, err)
	}

	return s.notifyRealtime(ctx, event.UserID, snap)
}

// notifyRealtime runs the user's active realtime triggers against one
// fresh snapshot. Shares the rule evaluator and renderer with the batch
// path; per-trigger failures are logged and do not stop the rest.
func (s *AnalyticsService) notifyRealtime(ctx context.Context, userID uint, snap models.AnalyticsSnapshot) error {
	var triggers []models.Trigger
	if err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC, id ASC") }).
		Preload("Template").
		Where("user_id = ? AND is_active = ? AND frequency_type = ?", userID, true, FrequencyRealtime).
		Find(&triggers).Error; err != nil {
		return fmt.Errorf("load realtime triggers: %w", err)
	}

	for _, trigger := range triggers {
		matched, sent := s.pipeline.NotifyCustomer(ctx, trigger, snap)
		if matched {
			s.logger.Infof("analytics: realtime trigger %d matched %s (sent=%t)",
				trigger.ID, snap.CustomerEmail, sent)
		}
	}
	return nil
}

// ListSnapshots returns a user's current snapshots.
func (s *AnalyticsService) ListSnapshots(ctx context.Context, userID uint) ([]models.AnalyticsSnapshot, error) {
	var snapshots []models.AnalyticsSnapshot
	if err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("customer_email ASC").
		Find(&snapshots).Error; err != nil {
		return nil, err
	}
	return snapshots, nil
}

func (s *AnalyticsService) markSynced(ctx context.Context, userID uint) {
	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("user_id = ? AND provider = ?", userID, "posthog").
		Updates(map[string]interface{}{"status": "connected", "last_error": "", "last_synced_at": now}).Error; err != nil {
		s.logger.Warnf("analytics: mark integration synced for user %d: %v", userID, err)
	}
}

func (s *AnalyticsService) markIntegrationError(ctx context.Context, userID uint, cause error) {
	if err := s.db.WithContext(ctx).Model(&models.Integration{}).
		Where("user_id = ? AND provider = ?", userID, "posthog").
		Updates(map[string]interface{}{"status": "error", "last_error": cause.Error()}).Error; err != nil {
		s.logger.Warnf("analytics: mark integration error for user %d: %v", userID, err)
	}
}

// aggregateSnapshots folds raw events into one snapshot per customer.
// Engagement score blends activity density (distinct active days over
// the period) and event volume, clamped to 0-100.
func aggregateSnapshots(events []posthog.Event, userID uint, periodStart, periodEnd time.Time) []models.AnalyticsSnapshot {
	type acc struct {
		days     map[string]struct{}
		features map[string]int
		total    int
		lastSeen time.Time
	}

	byCustomer := make(map[string]*acc)
	for _, ev := range events {
		if ev.DistinctID == "" {
			continue
		}
		a := byCustomer[ev.DistinctID]
		if a == nil {
			a = &acc{days: make(map[string]struct{}), features: make(map[string]int)}
			byCustomer[ev.DistinctID] = a
		}
		a.total++
		a.days[ev.Timestamp.UTC().Format("2006-01-02")] = struct{}{}
		a.features[ev.Event]++
		if ev.Timestamp.After(a.lastSeen) {
			a.lastSeen = ev.Timestamp
		}
	}

	periodDays := periodEnd.Sub(periodStart).Hours() / 24
	if periodDays < 1 {
		periodDays = 1
	}

	emails := make([]string, 0, len(byCustomer))
	for email := range byCustomer {
		emails = append(emails, email)
	}
	sort.Strings(emails)

	snapshots := make([]models.AnalyticsSnapshot, 0, len(emails))
	for _, email := range emails {
		a := byCustomer[email]
		lastSeen := a.lastSeen
		snapshots = append(snapshots, models.AnalyticsSnapshot{
			UserID:          userID,
			CustomerEmail:   email,
			EngagementScore: engagementScore(len(a.days), a.total, periodDays),
			ActiveDays:      len(a.days),
			TotalEvents:     a.total,
			LastSeen:        &lastSeen,
			MostUsedFeature: topFeature(a.features),
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
		})
	}
	return snapshots
}

// engagementScore weights activity density and event volume equally.
// Volume saturates at 200 events per period.
func engagementScore(activeDays, totalEvents int, periodDays float64) int {
	density := float64(activeDays) / periodDays
	if density > 1 {
		density = 1
	}
	volume := float64(totalEvents) / 200
	if volume > 1 {
		volume = 1
	}
	score := int(math.Round(50*density + 50*volume))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

func topFeature(features map[string]int) string {
	top, topCount := "", 0
	names := make([]string, 0, len(features))
	for name := range features {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if features[name] > topCount {
			top, topCount = name, features[name]
		}
	}
	return top
}
