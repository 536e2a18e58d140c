package models

import "time"

// Trigger is a user-defined churn rule: an ordered condition list plus
// an email template and a run frequency. A trigger with zero conditions
// never fires.
type Trigger struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"index" json:"user_id"`
	Name           string    `gorm:"not null" json:"name"`
	Description    string    `gorm:"type:text" json:"description"`
	FrequencyType  string    `gorm:"not null;default:'daily'" json:"frequency_type"` // realtime, hourly, daily, weekly, custom
	FrequencyValue string    `json:"frequency_value"`                                // cron spec, custom only
	IsActive       bool      `gorm:"default:true;index" json:"is_active"`
	TemplateID     uint      `gorm:"index" json:"template_id"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	Template   EmailTemplate      `gorm:"foreignKey:TemplateID" json:"template,omitempty"`
	Conditions []TriggerCondition `gorm:"foreignKey:TriggerID" json:"conditions,omitempty"`
}

// TriggerCondition is one threshold comparison against a customer
// snapshot. LogicalOperator combines this condition's result with the
// accumulated result of all prior conditions (left fold, in OrderIndex
// order); it is ignored on the first condition.
type TriggerCondition struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	TriggerID       uint      `gorm:"index" json:"trigger_id"`
	ConditionType   string    `gorm:"not null" json:"condition_type"` // engagement_score, active_days, total_events, days_since_last_seen
	Operator        string    `gorm:"not null" json:"operator"`       // >, >=, <, <=, =, !=
	ThresholdValue  float64   `json:"threshold_value"`
	ThresholdUnit   string    `json:"threshold_unit"` // display only
	LogicalOperator string    `gorm:"default:'AND'" json:"logical_operator"` // AND, OR
	OrderIndex      int       `gorm:"index" json:"order_index"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// TriggerExecution is the append-only log of match+send attempts. It is
// also the sole source of schedule state: a trigger's last run time is
// MAX(executed_at) over its rows. Non-matches are not logged.
type TriggerExecution struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	TriggerID     uint      `gorm:"index" json:"trigger_id"`
	CustomerEmail string    `gorm:"index" json:"customer_email"`
	EmailSent     bool      `json:"email_sent"`
	ErrorMessage  string    `gorm:"type:text" json:"error_message"`
	ExecutionData string    `gorm:"type:text" json:"execution_data"` // JSON diagnostics
	ExecutedAt    time.Time `gorm:"index" json:"executed_at"`

	Trigger Trigger `gorm:"foreignKey:TriggerID" json:"trigger,omitempty"`
}

// TriggerLease is a per-trigger processing claim. A batch pass must
// hold the lease before processing a trigger so two overlapping batch
// invocations cannot double-send; expired leases are reclaimable.
type TriggerLease struct {
	TriggerID uint      `gorm:"primaryKey" json:"trigger_id"`
	Holder    string    `gorm:"not null" json:"holder"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
