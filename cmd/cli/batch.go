package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"churnguard/internal/services"

	"github.com/spf13/cobra"
)

var batchTimeout time.Duration

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Run a single batch pass over all active triggers",
	Long: `Evaluate every active trigger once against the latest analytics
snapshots and send retention emails to matching customers. Intended to be
invoked from cron.`,
	Run: runBatch,
}

func init() {
	batchCmd.Flags().DurationVar(&batchTimeout, "timeout", 10*time.Minute, "abort the batch pass after this long")
	rootCmd.AddCommand(batchCmd)
}

func runBatch(cmd *cobra.Command, args []string) {
	cfg, db, appLogger, err := bootstrap()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	sender, err := services.NewEmailSender(cfg, appLogger)
	if err != nil {
		appLogger.Fatalf("Failed to init email sender: %v", err)
	}
	pipeline := services.NewPipelineService(db, appLogger, sender, cfg.Pipeline)
	pipeline.UseSenderResolver(services.NewSenderResolver(db, cfg, appLogger, sender))
	batch := services.NewBatchService(db, appLogger, pipeline, cfg.Pipeline.TriggerConcurrency)

	ctx, cancel := context.WithTimeout(context.Background(), batchTimeout)
	defer cancel()

	started := time.Now()
	result, err := batch.RunBatch(ctx)
	if err != nil {
		appLogger.Fatalf("Batch run failed: %v", err)
	}
	fmt.Printf("processed=%d matches=%d errors=%d duration=%s\n",
		result.TriggersProcessed, result.TotalMatches, result.TotalErrors,
		time.Since(started).Round(time.Millisecond))
	if result.TotalErrors > 0 {
		os.Exit(1)
	}
}
