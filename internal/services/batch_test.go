package services

import (
	"context"
	"testing"
	"time"

	"churnguard/internal/config"
	"churnguard/internal/models"
)

func TestRunBatch_Totals(t *testing.T) {
	db := newPipelineTestDB(t, "batch_totals")
	sender := newFakeSender()
	pipeline := NewPipelineService(db, quietLogger(), sender, config.PipelineConfig{})
	batch := NewBatchService(db, quietLogger(), pipeline, 2)

	// Two active triggers for the same account; both match the lone
	// low-score customer.
	seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedTrigger(t, db, FrequencyHourly, []models.TriggerCondition{
		{ConditionType: "total_events", Operator: "<", ThresholdValue: 100, OrderIndex: 0},
	})
	seedSnapshot(t, db, "alice@example.com", 20)

	res, err := batch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.TriggersProcessed != 2 {
		t.Errorf("TriggersProcessed = %d, want 2", res.TriggersProcessed)
	}
	if res.TotalMatches != 2 {
		t.Errorf("TotalMatches = %d, want 2", res.TotalMatches)
	}
	if res.TotalErrors != 0 {
		t.Errorf("TotalErrors = %d, want 0", res.TotalErrors)
	}
	if got := len(sender.sentTo()); got != 2 {
		t.Errorf("emails sent = %d, want 2", got)
	}
}

func TestRunBatch_InactiveAndRealtimeExcluded(t *testing.T) {
	db := newPipelineTestDB(t, "batch_excluded")
	sender := newFakeSender()
	pipeline := NewPipelineService(db, quietLogger(), sender, config.PipelineConfig{})
	batch := NewBatchService(db, quietLogger(), pipeline, 1)

	inactive := seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	if err := db.Model(&models.Trigger{}).Where("id = ?", inactive.ID).Update("is_active", false).Error; err != nil {
		t.Fatalf("deactivate: %v", err)
	}
	// Realtime triggers are loaded but never due in a batch pass.
	seedTrigger(t, db, FrequencyRealtime, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedSnapshot(t, db, "alice@example.com", 20)

	res, err := batch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.TotalMatches != 0 {
		t.Errorf("TotalMatches = %d, want 0", res.TotalMatches)
	}
	if len(sender.sentTo()) != 0 {
		t.Error("no email should have been sent")
	}
}

func TestRunBatch_SendFailureCountsOnce(t *testing.T) {
	db := newPipelineTestDB(t, "batch_sendfail")
	sender := newFakeSender("bad@example.com")
	pipeline := NewPipelineService(db, quietLogger(), sender, config.PipelineConfig{})
	batch := NewBatchService(db, quietLogger(), pipeline, 1)

	seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedSnapshot(t, db, "bad@example.com", 10)
	seedSnapshot(t, db, "good@example.com", 15)

	res, err := batch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.TriggersProcessed != 1 || res.TotalMatches != 2 {
		t.Errorf("result = %+v, want 1 trigger, 2 matches", res)
	}
	// One failed send increments the error count by exactly one; the
	// trigger itself did not error.
	if res.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", res.TotalErrors)
	}
}

func TestRunBatch_HeldLeaseSkipsTrigger(t *testing.T) {
	db := newPipelineTestDB(t, "batch_lease")
	sender := newFakeSender()
	pipeline := NewPipelineService(db, quietLogger(), sender, config.PipelineConfig{LeaseTTL: time.Hour})
	batch := NewBatchService(db, quietLogger(), pipeline, 1)

	trigger := seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedSnapshot(t, db, "alice@example.com", 20)

	// Another run already holds the trigger.
	acquired, err := pipeline.AcquireLease(context.Background(), trigger.ID, "other-run")
	if err != nil || !acquired {
		t.Fatalf("seed lease: acquired=%v err=%v", acquired, err)
	}

	res, err := batch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.TotalMatches != 0 || len(sender.sentTo()) != 0 {
		t.Errorf("held trigger must be skipped, got %+v", res)
	}

	// Release and re-run: now it fires.
	if err := pipeline.ReleaseLease(context.Background(), trigger.ID, "other-run"); err != nil {
		t.Fatalf("release lease: %v", err)
	}
	res, err = batch.RunBatch(context.Background())
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if res.TotalMatches != 1 {
		t.Errorf("TotalMatches = %d, want 1 after release", res.TotalMatches)
	}
}

func TestRunBatch_UpdatesDailyStats(t *testing.T) {
	db := newPipelineTestDB(t, "batch_stats")
	sender := newFakeSender()
	pipeline := NewPipelineService(db, quietLogger(), sender, config.PipelineConfig{})
	batch := NewBatchService(db, quietLogger(), pipeline, 1)

	// Two triggers for the same user, both matching the one customer:
	// the daily rollup must count both, not the batch pass.
	seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 40, OrderIndex: 0},
	})
	seedTrigger(t, db, FrequencyDaily, []models.TriggerCondition{
		{ConditionType: "days_since_last_seen", Operator: ">", ThresholdValue: 1, OrderIndex: 0},
	})
	seedSnapshot(t, db, "alice@example.com", 20)

	if _, err := batch.RunBatch(context.Background()); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}

	var stats models.DailyStats
	if err := db.Where("user_id = ?", 1).First(&stats).Error; err != nil {
		t.Fatalf("load daily stats: %v", err)
	}
	if stats.TriggersFired != 2 {
		t.Errorf("TriggersFired = %d, want 2", stats.TriggersFired)
	}
	if stats.EmailsSent != 2 || stats.EmailsFailed != 0 {
		t.Errorf("stats = %+v, want 2 sent", stats)
	}
}

func TestAcquireLease(t *testing.T) {
	db := newPipelineTestDB(t, "lease_basic")
	pipeline := NewPipelineService(db, quietLogger(), newFakeSender(), config.PipelineConfig{LeaseTTL: time.Hour})
	ctx := context.Background()

	acquired, err := pipeline.AcquireLease(ctx, 7, "run-a")
	if err != nil || !acquired {
		t.Fatalf("first acquire: acquired=%v err=%v", acquired, err)
	}

	// Second holder is refused while the lease is live.
	acquired, err = pipeline.AcquireLease(ctx, 7, "run-b")
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if acquired {
		t.Error("live lease must not be acquirable by another holder")
	}

	// A different trigger is independent.
	acquired, err = pipeline.AcquireLease(ctx, 8, "run-b")
	if err != nil || !acquired {
		t.Fatalf("other trigger: acquired=%v err=%v", acquired, err)
	}

	// Release frees it for the next holder.
	if err := pipeline.ReleaseLease(ctx, 7, "run-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	acquired, err = pipeline.AcquireLease(ctx, 7, "run-b")
	if err != nil || !acquired {
		t.Fatalf("acquire after release: acquired=%v err=%v", acquired, err)
	}
}

func TestAcquireLease_StealsExpired(t *testing.T) {
	db := newPipelineTestDB(t, "lease_expired")
	pipeline := NewPipelineService(db, quietLogger(), newFakeSender(), config.PipelineConfig{LeaseTTL: time.Hour})
	ctx := context.Background()

	// Plant an already-expired lease.
	expired := models.TriggerLease{
		TriggerID: 9,
		Holder:    "crashed-run",
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.Create(&expired).Error; err != nil {
		t.Fatalf("seed lease: %v", err)
	}

	acquired, err := pipeline.AcquireLease(ctx, 9, "run-b")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if !acquired {
		t.Error("expired lease must be reclaimable")
	}

	// ReleaseLease by the old holder must not drop the stolen lease.
	if err := pipeline.ReleaseLease(ctx, 9, "crashed-run"); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	var lease models.TriggerLease
	if err := db.First(&lease, "trigger_id = ?", 9).Error; err != nil {
		t.Fatalf("lease gone after stale release: %v", err)
	}
	if lease.Holder != "run-b" {
		t.Errorf("holder = %s, want run-b", lease.Holder)
	}
}
