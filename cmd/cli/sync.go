package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"churnguard/internal/services"
	"churnguard/pkg/posthog"

	"github.com/spf13/cobra"
)

var (
	syncUserID uint
	syncDays   int
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull analytics events for a user and rebuild their snapshots",
	Run:   runSync,
}

func init() {
	syncCmd.Flags().UintVar(&syncUserID, "user", 0, "account to sync (required)")
	syncCmd.Flags().IntVar(&syncDays, "days", 30, "trailing window to aggregate, in days")
	_ = syncCmd.MarkFlagRequired("user")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) {
	cfg, db, appLogger, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	events := posthog.NewClient(&posthog.Config{
		BaseURL:    cfg.PostHog.BaseURL,
		APIKey:     cfg.PostHog.APIKey,
		ProjectID:  cfg.PostHog.ProjectID,
		Timeout:    cfg.PostHog.Timeout,
		MaxRetries: cfg.PostHog.MaxRetries,
	}, appLogger)
	analytics := services.NewAnalyticsService(db, appLogger, events, nil)

	end := time.Now().UTC()
	start := end.AddDate(0, 0, -syncDays)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	count, err := analytics.SyncUser(ctx, syncUserID, start, end)
	if err != nil {
		appLogger.Fatalf("Sync failed: %v", err)
	}
	fmt.Printf("user=%d snapshots=%d window=%s..%s\n",
		syncUserID, count, start.Format("2006-01-02"), end.Format("2006-01-02"))
}
