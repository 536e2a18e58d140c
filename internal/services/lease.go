package services

import (
	"context"
	"time"

	"churnguard/internal/models"

	"gorm.io/gorm/clause"
)

// AcquireLease claims the per-trigger processing lease. Because the
// schedule state is derived from the execution log rather than an
// atomically claimed lock, two overlapping batch invocations could both
// judge a trigger due; the lease closes that double-send window.
// Returns false when another holder has an unexpired claim.
func (s *PipelineService) AcquireLease(ctx context.Context, triggerID uint, holder string) (bool, error) {
	now := time.Now()
	lease := models.TriggerLease{
		TriggerID: triggerID,
		Holder:    holder,
		ExpiresAt: now.Add(s.cfg.LeaseTTL),
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&lease)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}

	// A lease row exists. Steal it only if expired.
	upd := s.db.WithContext(ctx).Model(&models.TriggerLease{}).
		Where("trigger_id = ? AND expires_at <= ?", triggerID, now).
		Updates(map[string]interface{}{
			"holder":     holder,
			"expires_at": now.Add(s.cfg.LeaseTTL),
		})
	if upd.Error != nil {
		return false, upd.Error
	}
	return upd.RowsAffected == 1, nil
}

// ReleaseLease drops the claim if we still hold it. An expired lease
// stolen by someone else is left alone.
func (s *PipelineService) ReleaseLease(ctx context.Context, triggerID uint, holder string) error {
	return s.db.WithContext(ctx).
		Where("trigger_id = ? AND holder = ?", triggerID, holder).
		Delete(&models.TriggerLease{}).Error
}
