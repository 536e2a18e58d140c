package services

import (
	"testing"
	"time"

	"churnguard/internal/models"
)

func testSnapshot() models.AnalyticsSnapshot {
	lastSeen := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return models.AnalyticsSnapshot{
		CustomerEmail:   "alice@example.com",
		EngagementScore: 42,
		ActiveDays:      10,
		TotalEvents:     120,
		LastSeen:        &lastSeen,
	}
}

func TestEvaluateCondition(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	snap := testSnapshot()

	tests := []struct {
		name      string
		cond      models.TriggerCondition
		wantMet   bool
		wantKnown bool
	}{
		{
			name:      "engagement score below threshold",
			cond:      models.TriggerCondition{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 50},
			wantMet:   true,
			wantKnown: true,
		},
		{
			name:      "engagement score equal",
			cond:      models.TriggerCondition{ConditionType: "engagement_score", Operator: "=", ThresholdValue: 42},
			wantMet:   true,
			wantKnown: true,
		},
		{
			name:      "active days gte",
			cond:      models.TriggerCondition{ConditionType: "active_days", Operator: ">=", ThresholdValue: 10},
			wantMet:   true,
			wantKnown: true,
		},
		{
			name:      "total events not equal",
			cond:      models.TriggerCondition{ConditionType: "total_events", Operator: "!=", ThresholdValue: 120},
			wantMet:   false,
			wantKnown: true,
		},
		{
			name:      "days since last seen",
			cond:      models.TriggerCondition{ConditionType: "days_since_last_seen", Operator: ">", ThresholdValue: 7},
			wantMet:   true, // seen 10 days before now
			wantKnown: true,
		},
		{
			name:      "days since last seen lte",
			cond:      models.TriggerCondition{ConditionType: "days_since_last_seen", Operator: "<=", ThresholdValue: 9},
			wantMet:   false,
			wantKnown: true,
		},
		{
			name:      "unknown condition type fails closed",
			cond:      models.TriggerCondition{ConditionType: "revenue", Operator: ">", ThresholdValue: 0},
			wantMet:   false,
			wantKnown: false,
		},
		{
			name:      "unknown operator fails closed",
			cond:      models.TriggerCondition{ConditionType: "engagement_score", Operator: "~", ThresholdValue: 0},
			wantMet:   false,
			wantKnown: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := EvaluateCondition(tt.cond, snap, now)
			if out.Met != tt.wantMet {
				t.Errorf("Met = %v, want %v", out.Met, tt.wantMet)
			}
			if out.Known != tt.wantKnown {
				t.Errorf("Known = %v, want %v", out.Known, tt.wantKnown)
			}
		})
	}
}

func TestEvaluateCondition_NeverSeen(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	snap := testSnapshot()
	snap.LastSeen = nil

	cond := models.TriggerCondition{ConditionType: "days_since_last_seen", Operator: ">", ThresholdValue: 365}
	out := EvaluateCondition(cond, snap, now)
	if !out.Met {
		t.Error("never-seen customer should exceed any realistic inactivity threshold")
	}
	if out.Actual != neverSeenDays {
		t.Errorf("Actual = %v, want %v", out.Actual, float64(neverSeenDays))
	}
}

func TestEvaluateConditions_EmptyList(t *testing.T) {
	matched, outcomes := EvaluateConditions(nil, testSnapshot(), time.Now())
	if matched {
		t.Error("empty condition list must evaluate to false")
	}
	if len(outcomes) != 0 {
		t.Errorf("outcomes = %d, want 0", len(outcomes))
	}
}

func TestEvaluateConditions_LeftFold(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	snap := testSnapshot() // score 42, active 10, events 120

	// A AND B OR C must evaluate as (A AND B) OR C.
	// A true, B false, C true: (true AND false) OR true = true.
	conds := []models.TriggerCondition{
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 50, LogicalOperator: "AND", OrderIndex: 0},
		{ConditionType: "active_days", Operator: ">", ThresholdValue: 100, LogicalOperator: "AND", OrderIndex: 1},
		{ConditionType: "total_events", Operator: ">", ThresholdValue: 100, LogicalOperator: "OR", OrderIndex: 2},
	}
	matched, outcomes := EvaluateConditions(conds, snap, now)
	if !matched {
		t.Error("(true AND false) OR true should match")
	}
	if len(outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(outcomes))
	}

	// Under A AND (B OR C) the same inputs with C false would still
	// short-circuit differently; check the mirror case too.
	// A true, B true, C false: (true AND true) OR false = true,
	// then flip A false: (false AND true) OR false = false.
	conds[0].ThresholdValue = 10 // score 42 < 10 is false
	conds[1].ThresholdValue = 5  // active 10 > 5 is true
	conds[2].ThresholdValue = 500
	matched, _ = EvaluateConditions(conds, snap, now)
	if matched {
		t.Error("(false AND true) OR false should not match")
	}
}

func TestEvaluateConditions_OrderIndex(t *testing.T) {
	now := time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC)
	snap := testSnapshot()

	// Conditions arrive out of slice order; the fold must follow
	// OrderIndex. Verified via the outcome order.
	conds := []models.TriggerCondition{
		{ConditionType: "active_days", Operator: ">", ThresholdValue: 100, LogicalOperator: "OR", OrderIndex: 1},
		{ConditionType: "engagement_score", Operator: "<", ThresholdValue: 50, LogicalOperator: "AND", OrderIndex: 0},
	}
	matched, outcomes := EvaluateConditions(conds, snap, now)
	if !matched {
		t.Error("score<50 OR active>100 should match")
	}
	if outcomes[0].ConditionType != "engagement_score" {
		t.Errorf("first outcome = %s, want engagement_score (OrderIndex 0)", outcomes[0].ConditionType)
	}
}

func TestEvaluateConditions_UnknownNeverMatches(t *testing.T) {
	now := time.Now()
	snap := testSnapshot()

	// A single unrecognized condition must yield false, not panic and
	// not fire.
	conds := []models.TriggerCondition{
		{ConditionType: "churn_probability", Operator: ">", ThresholdValue: 0.5},
	}
	matched, outcomes := EvaluateConditions(conds, snap, now)
	if matched {
		t.Error("unknown condition type must not match")
	}
	if outcomes[0].Known {
		t.Error("outcome should be flagged unknown")
	}
}
