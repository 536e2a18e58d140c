package services

import (
	"math"
	"sort"
	"time"

	"churnguard/internal/models"
)

// ConditionType is the closed set of snapshot metrics a condition can
// compare against. Anything not recognized maps to ConditionUnknown and
// evaluates to false rather than firing on malformed config.
type ConditionType int

const (
	ConditionUnknown ConditionType = iota
	ConditionEngagementScore
	ConditionActiveDays
	ConditionTotalEvents
	ConditionDaysSinceLastSeen
)

// neverSeenDays is the days_since_last_seen value for customers with no
// last_seen at all, large enough to exceed any realistic threshold so
// "no data" reads as maximally inactive.
const neverSeenDays = 999

func ParseConditionType(s string) ConditionType {
	switch s {
	case "engagement_score":
		return ConditionEngagementScore
	case "active_days":
		return ConditionActiveDays
	case "total_events":
		return ConditionTotalEvents
	case "days_since_last_seen":
		return ConditionDaysSinceLastSeen
	default:
		return ConditionUnknown
	}
}

// CompareOp is the closed set of threshold operators.
type CompareOp int

const (
	OpUnknown CompareOp = iota
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpEqual
	OpNotEqual
)

func ParseCompareOp(s string) CompareOp {
	switch s {
	case ">":
		return OpGreater
	case ">=":
		return OpGreaterEqual
	case "<":
		return OpLess
	case "<=":
		return OpLessEqual
	case "=", "==":
		return OpEqual
	case "!=":
		return OpNotEqual
	default:
		return OpUnknown
	}
}

// LogicalOp combines one condition's result with the accumulated result
// of all prior conditions. Anything other than OR is treated as AND.
type LogicalOp int

const (
	LogicalAnd LogicalOp = iota
	LogicalOr
)

func ParseLogicalOp(s string) LogicalOp {
	if s == "OR" || s == "or" {
		return LogicalOr
	}
	return LogicalAnd
}

// ConditionOutcome is the result of evaluating one condition. Known is
// false when the condition type or operator was not recognized; Met is
// then always false (fail closed).
type ConditionOutcome struct {
	ConditionType string  `json:"condition_type"`
	Operator      string  `json:"operator"`
	Threshold     float64 `json:"threshold"`
	Actual        float64 `json:"actual"`
	Met           bool    `json:"met"`
	Known         bool    `json:"known"`
}

// EvaluateCondition resolves the snapshot metric named by the condition
// and applies the threshold comparison. Pure: no I/O, deterministic for
// a fixed now.
func EvaluateCondition(cond models.TriggerCondition, snap models.AnalyticsSnapshot, now time.Time) ConditionOutcome {
	out := ConditionOutcome{
		ConditionType: cond.ConditionType,
		Operator:      cond.Operator,
		Threshold:     cond.ThresholdValue,
	}

	ct := ParseConditionType(cond.ConditionType)
	op := ParseCompareOp(cond.Operator)
	if ct == ConditionUnknown || op == OpUnknown {
		return out
	}
	out.Known = true

	switch ct {
	case ConditionEngagementScore:
		out.Actual = float64(snap.EngagementScore)
	case ConditionActiveDays:
		out.Actual = float64(snap.ActiveDays)
	case ConditionTotalEvents:
		out.Actual = float64(snap.TotalEvents)
	case ConditionDaysSinceLastSeen:
		if snap.LastSeen == nil {
			out.Actual = neverSeenDays
		} else {
			out.Actual = math.Floor(now.Sub(*snap.LastSeen).Hours() / 24)
		}
	}

	out.Met = compare(op, out.Actual, cond.ThresholdValue)
	return out
}

func compare(op CompareOp, actual, threshold float64) bool {
	switch op {
	case OpGreater:
		return actual > threshold
	case OpGreaterEqual:
		return actual >= threshold
	case OpLess:
		return actual < threshold
	case OpLessEqual:
		return actual <= threshold
	case OpEqual:
		return actual == threshold
	case OpNotEqual:
		return actual != threshold
	default:
		return false
	}
}

// EvaluateConditions combines an ordered condition list into one boolean
// per (trigger, customer) pair. The combination is a strict left-to-right
// fold in OrderIndex order with no operator precedence:
// A AND B OR C evaluates as (A AND B) OR C, never A AND (B OR C).
// An empty list evaluates to false. Returns per-condition outcomes for
// diagnostics alongside the final result.
func EvaluateConditions(conditions []models.TriggerCondition, snap models.AnalyticsSnapshot, now time.Time) (bool, []ConditionOutcome) {
	if len(conditions) == 0 {
		return false, nil
	}

	ordered := make([]models.TriggerCondition, len(conditions))
	copy(ordered, conditions)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].OrderIndex < ordered[j].OrderIndex
	})

	outcomes := make([]ConditionOutcome, 0, len(ordered))

	first := EvaluateCondition(ordered[0], snap, now)
	outcomes = append(outcomes, first)
	result := first.Met

	for _, cond := range ordered[1:] {
		out := EvaluateCondition(cond, snap, now)
		outcomes = append(outcomes, out)
		if ParseLogicalOp(cond.LogicalOperator) == LogicalOr {
			result = result || out.Met
		} else {
			result = result && out.Met
		}
	}

	return result, outcomes
}
