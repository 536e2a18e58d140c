package main

import (
	"fmt"
	"log"
	"os"

	"churnguard/internal/config"
	"churnguard/internal/models"

	"github.com/spf13/viper"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func main() {
	viper.AddConfigPath(".")
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	cfg := config.Load()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		sslmode := cfg.Database.SSLMode
		if sslmode == "" {
			sslmode = "disable"
		}
		dsn = fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
			cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
			cfg.Database.Name, cfg.Database.Port, sslmode)
	}

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Info),
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	log.Println("Starting database migration...")

	err = db.AutoMigrate(
		&models.User{},
		&models.Integration{},
		&models.Trigger{},
		&models.TriggerCondition{},
		&models.TriggerLease{},
		&models.EmailTemplate{},
		&models.AnalyticsSnapshot{},
		&models.TriggerExecution{},
		&models.ChurnEvent{},
		&models.DailyStats{},
	)
	if err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	log.Println("Database migration completed successfully!")

	log.Println("Creating additional indexes...")

	// Execution log is queried by (trigger_id, executed_at DESC) on every due-check.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_executions_trigger_executed ON trigger_executions(trigger_id, executed_at)")

	// Snapshot lookups are always scoped to an account and a period.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_snapshots_user_period ON analytics_snapshots(user_id, period_end)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_snapshots_user_email ON analytics_snapshots(user_id, customer_email)")

	// Batch runs list active triggers per account.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_triggers_user_active ON triggers(user_id, is_active)")

	// Webhook dedup and replay lookups.
	db.Exec("CREATE INDEX IF NOT EXISTS idx_churn_events_user_processed ON churn_events(user_id, processed)")

	db.Exec("CREATE INDEX IF NOT EXISTS idx_daily_stats_date ON daily_stats(date)")

	log.Println("Additional indexes created successfully!")

	if len(os.Args) > 1 && os.Args[1] == "--seed" {
		log.Println("Seeding default data...")
		seedDefaultData(db)
		log.Println("Default data seeded successfully!")
	}

	log.Println("Migration process completed!")
}

func seedDefaultData(db *gorm.DB) {
	var adminUser models.User
	if err := db.Where("email = ?", "admin@churnguard.local").First(&adminUser).Error; err != nil {
		adminUser = models.User{
			Email: "admin@churnguard.local",
			Name:  "Admin",
		}
		db.Create(&adminUser)
		log.Println("Created default admin user")
	}

	var tpl models.EmailTemplate
	if err := db.Where("user_id = ? AND name = ?", adminUser.ID, "We miss you").First(&tpl).Error; err != nil {
		tpl = models.EmailTemplate{
			UserID:  adminUser.ID,
			Name:    "We miss you",
			Subject: "We miss you, {customer_email}",
			BodyHTML: "<p>Your engagement score dropped to {engagement_score}. " +
				"You were last seen on {last_seen}.</p>",
			BodyText: "Your engagement score dropped to {engagement_score}. " +
				"You were last seen on {last_seen}.",
		}
		db.Create(&tpl)
		log.Println("Created default win-back template")
	}

	var count int64
	db.Model(&models.Trigger{}).Where("user_id = ?", adminUser.ID).Count(&count)
	if count == 0 {
		trigger := models.Trigger{
			UserID:        adminUser.ID,
			Name:          "Low engagement daily check",
			FrequencyType: "daily",
			IsActive:      true,
			TemplateID:    tpl.ID,
			Conditions: []models.TriggerCondition{
				{
					ConditionType:   "engagement_score",
					Operator:        "<",
					ThresholdValue:  40,
					LogicalOperator: "AND",
					OrderIndex:      0,
				},
				{
					ConditionType:   "days_since_last_seen",
					Operator:        ">",
					ThresholdValue:  7,
					ThresholdUnit:   "days",
					LogicalOperator: "AND",
					OrderIndex:      1,
				},
			},
		}
		db.Create(&trigger)
		log.Println("Created sample trigger")
	}
}
