package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"churnguard/internal/metrics"
	"churnguard/internal/models"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BatchService is the periodic entry point: one pass over every active
// trigger. It is invoked by an external scheduler and holds no state
// between invocations.
type BatchService struct {
	db       *gorm.DB
	logger   *logrus.Logger
	pipeline *PipelineService
	workers  int
}

func NewBatchService(db *gorm.DB, logger *logrus.Logger, pipeline *PipelineService, workers int) *BatchService {
	if logger == nil {
		logger = logrus.New()
	}
	// Small pool on purpose: triggers fan out to a rate-limited email API.
	if workers < 1 {
		workers = 1
	}
	if workers > 5 {
		workers = 5
	}
	return &BatchService{db: db, logger: logger, pipeline: pipeline, workers: workers}
}

// BatchResult aggregates one batch pass.
type BatchResult struct {
	TriggersProcessed int `json:"triggers_processed"`
	TotalMatches      int `json:"total_matches"`
	TotalErrors       int `json:"total_errors"`
}

// RunBatch processes every active trigger once. Per-trigger failures
// are counted and logged but never abort the batch; only failing to
// load the trigger list at all is a batch-level error.
func (s *BatchService) RunBatch(ctx context.Context) (BatchResult, error) {
	runID := uuid.NewString()[:8]

	var triggers []models.Trigger
	if err := s.db.WithContext(ctx).
		Preload("Conditions", func(db *gorm.DB) *gorm.DB { return db.Order("order_index ASC, id ASC") }).
		Preload("Template").
		Where("is_active = ?", true).
		Find(&triggers).Error; err != nil {
		return BatchResult{}, fmt.Errorf("load active triggers: %w", err)
	}
	if len(triggers) == 0 {
		return BatchResult{}, nil
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		result BatchResult
		rollup = make(map[uint]*userRollup) // per owning user
	)

	jobs := make(chan models.Trigger)
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for trigger := range jobs {
				res, err := s.runOne(ctx, runID, trigger)
				mu.Lock()
				result.TriggersProcessed++
				result.TotalMatches += res.Attempted
				result.TotalErrors += res.Failed
				if err != nil {
					result.TotalErrors++
				}
				if res.Attempted > 0 {
					agg := rollup[trigger.UserID]
					if agg == nil {
						agg = &userRollup{}
						rollup[trigger.UserID] = agg
					}
					agg.Triggers++
					agg.Sent += res.Sent
					agg.Failed += res.Failed
				}
				mu.Unlock()
			}
		}()
	}
	for _, trigger := range triggers {
		jobs <- trigger
	}
	close(jobs)
	wg.Wait()

	s.updateDailyStats(ctx, rollup)
	metrics.IncBatchRun(result.TriggersProcessed, result.TotalMatches, result.TotalErrors)
	s.logger.Infof("batch %s: processed=%d matches=%d errors=%d",
		runID, result.TriggersProcessed, result.TotalMatches, result.TotalErrors)

	return result, nil
}

// runOne processes a single trigger under its lease, containing panics
// and processor-level errors so the rest of the batch keeps going.
func (s *BatchService) runOne(ctx context.Context, runID string, trigger models.Trigger) (res ProcessResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			s.logger.Errorf("batch %s: trigger %d panicked: %v", runID, trigger.ID, r)
		}
	}()

	acquired, leaseErr := s.pipeline.AcquireLease(ctx, trigger.ID, runID)
	if leaseErr != nil {
		return ProcessResult{}, fmt.Errorf("acquire lease for trigger %d: %w", trigger.ID, leaseErr)
	}
	if !acquired {
		s.logger.Infof("batch %s: trigger %d held by another run, skipping", runID, trigger.ID)
		return ProcessResult{}, nil
	}
	defer func() {
		if relErr := s.pipeline.ReleaseLease(ctx, trigger.ID, runID); relErr != nil {
			s.logger.Warnf("batch %s: release lease for trigger %d: %v", runID, trigger.ID, relErr)
		}
	}()

	res, procErr := s.pipeline.ProcessTrigger(ctx, trigger)
	if procErr != nil {
		s.logger.Errorf("batch %s: trigger %d failed: %v", runID, trigger.ID, procErr)
		return res, procErr
	}
	return res, nil
}

// userRollup accumulates one user's share of a batch pass: how many of
// their triggers fired (matched at least one customer) and the send
// outcomes across those triggers.
type userRollup struct {
	Triggers int
	Sent     int
	Failed   int
}

func (s *BatchService) updateDailyStats(ctx context.Context, rollup map[uint]*userRollup) {
	day := time.Now().UTC().Truncate(24 * time.Hour)
	for userID, agg := range rollup {
		stats := models.DailyStats{
			UserID:        userID,
			Date:          day,
			TriggersFired: agg.Triggers,
			EmailsSent:    agg.Sent,
			EmailsFailed:  agg.Failed,
		}
		err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "user_id"}, {Name: "date"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"triggers_fired": gorm.Expr("daily_stats.triggers_fired + ?", agg.Triggers),
					"emails_sent":    gorm.Expr("daily_stats.emails_sent + ?", agg.Sent),
					"emails_failed":  gorm.Expr("daily_stats.emails_failed + ?", agg.Failed),
				}),
			}).
			Create(&stats).Error
		if err != nil {
			s.logger.Warnf("batch: daily stats for user %d: %v", userID, err)
		}
	}
}
