package models

import (
	"time"

	"gorm.io/gorm"
)

// User owns customers, triggers and templates. Authentication itself is
// handled by the dashboard; the API only needs the owner identity.
type User struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Email     string         `gorm:"unique;not null" json:"email"`
	Name      string         `json:"name"`
	APIToken  string         `gorm:"index" json:"-"` // token hash for CLI/API access
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	Triggers  []Trigger       `gorm:"foreignKey:UserID" json:"triggers,omitempty"`
	Templates []EmailTemplate `gorm:"foreignKey:UserID" json:"templates,omitempty"`
}

// Integration records a connected external account (stripe, posthog,
// resend, smtp). Written by the dashboard, read by the sync and send paths.
type Integration struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	UserID       uint           `gorm:"index;uniqueIndex:idx_user_provider" json:"user_id"`
	Provider     string         `gorm:"uniqueIndex:idx_user_provider;not null" json:"provider"` // stripe, posthog, resend, smtp
	APIKey       string         `json:"-"`
	ProjectID    string         `json:"project_id"` // posthog project, empty otherwise
	Status       string         `gorm:"default:'connected'" json:"status"` // connected, error
	LastError    string         `json:"last_error"`
	LastSyncedAt *time.Time     `json:"last_synced_at"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// AnalyticsSnapshot is the pre-aggregated per-customer usage summary for
// one period. The sync job replaces any snapshot overlapping the new
// period wholesale; there is no incremental merge.
type AnalyticsSnapshot struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"index" json:"user_id"`
	CustomerEmail   string     `gorm:"index;not null" json:"customer_email"`
	EngagementScore int        `json:"engagement_score"` // 0-100, clamped
	ActiveDays      int        `json:"active_days"`
	TotalEvents     int        `json:"total_events"`
	LastSeen        *time.Time `json:"last_seen"`
	MostUsedFeature string     `json:"most_used_feature"`
	PeriodStart     time.Time  `gorm:"index" json:"period_start"`
	PeriodEnd       time.Time  `gorm:"index" json:"period_end"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// EmailTemplate holds the subject/body text a trigger renders per
// customer. Variables is a derived JSON list kept for the template
// editor; it may be stale relative to the actual placeholders and the
// renderer does not rely on it.
type EmailTemplate struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"index" json:"user_id"`
	Name      string         `gorm:"not null" json:"name"`
	Subject   string         `gorm:"not null" json:"subject"`
	BodyHTML  string         `gorm:"type:text" json:"body_html"`
	BodyText  string         `gorm:"type:text" json:"body_text"`
	Variables string         `gorm:"type:text" json:"variables"` // JSON: ["engagement_score", ...]
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// ChurnEvent is a stored payment-webhook event. ProviderEventID is the
// upstream id, used to deduplicate webhook retries.
type ChurnEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          uint       `gorm:"index" json:"user_id"`
	ProviderEventID string     `gorm:"uniqueIndex;not null" json:"provider_event_id"`
	EventType       string     `gorm:"index" json:"event_type"` // customer.subscription.deleted, invoice.payment_failed
	CustomerEmail   string     `gorm:"index" json:"customer_email"`
	Payload         string     `gorm:"type:text" json:"payload"`
	Processed       bool       `gorm:"default:false;index" json:"processed"`
	ProcessedAt     *time.Time `json:"processed_at"`
	CreatedAt       time.Time  `json:"created_at"`
}

// DailyStats is a per-user daily rollup maintained by the batch runner
// for the dashboard overview.
type DailyStats struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	UserID        uint      `gorm:"index;uniqueIndex:idx_user_day" json:"user_id"`
	Date          time.Time `gorm:"uniqueIndex:idx_user_day" json:"date"`
	TriggersFired int       `json:"triggers_fired"`
	EmailsSent    int       `json:"emails_sent"`
	EmailsFailed  int       `json:"emails_failed"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
