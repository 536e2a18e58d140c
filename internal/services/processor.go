package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"churnguard/internal/config"
	"churnguard/internal/metrics"
	"churnguard/internal/models"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PipelineService runs the trigger evaluation and notification
// pipeline: due-check, rule evaluation, rendering, sending and the
// execution log. Per-customer failures never propagate past this
// boundary; only total inability to read the trigger's snapshots does.
type PipelineService struct {
	db      *gorm.DB
	logger  *logrus.Logger
	sender  EmailSender
	senders *SenderResolver
	cfg     config.PipelineConfig
}

func NewPipelineService(db *gorm.DB, logger *logrus.Logger, sender EmailSender, cfg config.PipelineConfig) *PipelineService {
	if logger == nil {
		logger = logrus.New()
	}
	if cfg.CustomerConcurrency <= 0 {
		cfg.CustomerConcurrency = 4
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 15 * time.Second
	}
	if cfg.SnapshotLoadTimeout <= 0 {
		cfg.SnapshotLoadTimeout = 10 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 5 * time.Minute
	}
	return &PipelineService{db: db, logger: logger, sender: sender, cfg: cfg}
}

// UseSenderResolver routes delivery through per-user integrations
// instead of the single process-wide sender.
func (s *PipelineService) UseSenderResolver(r *SenderResolver) {
	s.senders = r
}

// ProcessResult aggregates one trigger's pass over its customers.
type ProcessResult struct {
	Attempted int `json:"attempted"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// LastExecutedAt reconstructs a trigger's last run time from the
// execution log. Nil means the trigger has never produced a log row.
// A due run that matched zero customers writes nothing, so such a
// trigger reads as never-run on the next pass; known behavior.
func (s *PipelineService) LastExecutedAt(ctx context.Context, triggerID uint) (*time.Time, error) {
	var exec models.TriggerExecution
	err := s.db.WithContext(ctx).
		Where("trigger_id = ?", triggerID).
		Order("executed_at DESC").
		First(&exec).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &exec.ExecutedAt, nil
}

// ProcessTrigger runs one trigger against all of its owner's snapshots.
// Not-due triggers return zero counts with no side effects. Matched
// customers are delivered concurrently under a bounded semaphore and
// joined settle-all: one customer's failure never cancels the rest.
func (s *PipelineService) ProcessTrigger(ctx context.Context, trigger models.Trigger) (ProcessResult, error) {
	now := time.Now()

	last, err := s.LastExecutedAt(ctx, trigger.ID)
	if err != nil {
		return ProcessResult{}, fmt.Errorf("last execution time: %w", err)
	}
	if !IsDue(trigger, last, now) {
		return ProcessResult{}, nil
	}

	if len(trigger.Conditions) == 0 {
		s.logger.Warnf("pipeline: trigger %d (%s) has no conditions, skipping", trigger.ID, trigger.Name)
		return ProcessResult{}, nil
	}

	loadCtx, cancel := context.WithTimeout(ctx, s.cfg.SnapshotLoadTimeout)
	defer cancel()
	var snapshots []models.AnalyticsSnapshot
	if err := s.db.WithContext(loadCtx).
		Where("user_id = ?", trigger.UserID).
		Find(&snapshots).Error; err != nil {
		return ProcessResult{}, fmt.Errorf("load snapshots for user %d: %w", trigger.UserID, err)
	}
	if len(snapshots) == 0 {
		return ProcessResult{}, nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result ProcessResult
	)
	sem := make(chan struct{}, s.cfg.CustomerConcurrency)

	for _, snap := range snapshots {
		matched, outcomes := EvaluateConditions(trigger.Conditions, snap, now)
		s.warnUnknown(trigger, snap, outcomes)
		if !matched {
			continue
		}

		wg.Add(1)
		sem <- struct{}{}
		go func(snap models.AnalyticsSnapshot, outcomes []ConditionOutcome) {
			defer wg.Done()
			defer func() { <-sem }()

			sent := s.deliver(ctx, trigger, snap, outcomes, now)

			mu.Lock()
			result.Attempted++
			if sent {
				result.Sent++
			} else {
				result.Failed++
			}
			mu.Unlock()
		}(snap, outcomes)
	}
	wg.Wait()

	return result, nil
}

// deliver renders and sends one customer's email and appends the
// execution log row. Returns whether the email went out. Errors are
// recorded on the row, never returned.
func (s *PipelineService) deliver(ctx context.Context, trigger models.Trigger, snap models.AnalyticsSnapshot, outcomes []ConditionOutcome, now time.Time) bool {
	email := RenderEmail(trigger.Template, snap)

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.SendTimeout)
	defer cancel()

	sender := s.sender
	if s.senders != nil {
		sender = s.senders.SenderFor(ctx, trigger.UserID)
	}
	messageID, sendErr := sender.Send(sendCtx, snap.CustomerEmail, email.Subject, email.HTML, email.Text)

	execData, _ := json.Marshal(map[string]interface{}{
		"conditions": outcomes,
		"message_id": messageID,
		"subject":    email.Subject,
	})

	exec := models.TriggerExecution{
		TriggerID:     trigger.ID,
		CustomerEmail: snap.CustomerEmail,
		EmailSent:     sendErr == nil,
		ExecutionData: string(execData),
		ExecutedAt:    now,
	}
	if sendErr != nil {
		exec.ErrorMessage = sendErr.Error()
		metrics.IncEmailFailed()
		s.logger.Warnf("pipeline: trigger %d send to %s failed: %v", trigger.ID, snap.CustomerEmail, sendErr)
	} else {
		metrics.IncEmailSent()
	}

	if err := s.db.WithContext(ctx).Create(&exec).Error; err != nil {
		s.logger.Errorf("pipeline: trigger %d log write for %s failed: %v", trigger.ID, snap.CustomerEmail, err)
	}

	return sendErr == nil
}

func (s *PipelineService) warnUnknown(trigger models.Trigger, snap models.AnalyticsSnapshot, outcomes []ConditionOutcome) {
	for _, out := range outcomes {
		if !out.Known {
			s.logger.Warnf("pipeline: trigger %d condition %s %s evaluated false for %s: unknown type or operator",
				trigger.ID, out.ConditionType, out.Operator, snap.CustomerEmail)
		}
	}
}

// NotifyCustomer is the realtime notification path: evaluate one
// trigger against a single fresh snapshot and deliver on match. Used by
// the webhook-driven refresh, which bypasses the periodic due-check.
func (s *PipelineService) NotifyCustomer(ctx context.Context, trigger models.Trigger, snap models.AnalyticsSnapshot) (bool, bool) {
	now := time.Now()
	if len(trigger.Conditions) == 0 {
		s.logger.Warnf("pipeline: trigger %d (%s) has no conditions, skipping", trigger.ID, trigger.Name)
		return false, false
	}
	matched, outcomes := EvaluateConditions(trigger.Conditions, snap, now)
	s.warnUnknown(trigger, snap, outcomes)
	if !matched {
		return false, false
	}
	return true, s.deliver(ctx, trigger, snap, outcomes, now)
}
