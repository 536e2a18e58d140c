package cli

import (
	"fmt"

	"churnguard/internal/config"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// bootstrap loads the configuration, initializes logging and opens the
// database connection shared by the one-shot subcommands.
func bootstrap() (*config.Config, *gorm.DB, *logrus.Logger, error) {
	cfg := config.Load()

	if err := config.InitLogger(cfg); err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	appLogger := logrus.StandardLogger()

	db, err := gorm.Open(postgres.Open(buildDSN(cfg)), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("connect database: %w", err)
	}
	return cfg, db, appLogger, nil
}

func buildDSN(cfg *config.Config) string {
	sslmode := cfg.Database.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Database.Host, cfg.Database.User, cfg.Database.Password,
		cfg.Database.Name, cfg.Database.Port, sslmode)
}
