package services

import (
	"fmt"
	"time"

	"churnguard/internal/models"

	"github.com/robfig/cron/v3"
)

// Trigger frequencies. Realtime triggers are fired by the webhook path
// and must be skipped by the periodic batch to avoid double-processing.
const (
	FrequencyRealtime = "realtime"
	FrequencyHourly   = "hourly"
	FrequencyDaily    = "daily"
	FrequencyWeekly   = "weekly"
	FrequencyCustom   = "custom"
)

// IsDue reports whether enough time has elapsed since lastExec for the
// trigger to run again. Pure function of its inputs. Elapsed time is
// measured as exact durations, not calendar boundaries. Custom triggers
// are always due: the cron spec is validated at write time but the
// invocation cadence of the batch caller is trusted to match it.
func IsDue(trigger models.Trigger, lastExec *time.Time, now time.Time) bool {
	switch trigger.FrequencyType {
	case FrequencyRealtime:
		return false
	case FrequencyHourly:
		return lastExec == nil || now.Sub(*lastExec) >= time.Hour
	case FrequencyDaily:
		return lastExec == nil || now.Sub(*lastExec) >= 24*time.Hour
	case FrequencyWeekly:
		return lastExec == nil || now.Sub(*lastExec) >= 7*24*time.Hour
	case FrequencyCustom:
		return true
	default:
		// Unknown frequency never runs; same fail-closed stance as the
		// condition evaluator.
		return false
	}
}

// ValidateFrequency checks a frequency type and, for custom triggers,
// parses the cron spec with the standard 5-field parser so malformed
// specs are rejected when the trigger is created or updated.
func ValidateFrequency(frequencyType, frequencyValue string) error {
	switch frequencyType {
	case FrequencyRealtime, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return nil
	case FrequencyCustom:
		if frequencyValue == "" {
			return fmt.Errorf("custom frequency requires a cron spec")
		}
		if _, err := cron.ParseStandard(frequencyValue); err != nil {
			return fmt.Errorf("invalid cron spec %q: %w", frequencyValue, err)
		}
		return nil
	default:
		return fmt.Errorf("unsupported frequency type: %s", frequencyType)
	}
}
