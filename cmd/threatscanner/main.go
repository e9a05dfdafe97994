package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"ThreatScanner/internal/app"
	"ThreatScanner/internal/config"
	"ThreatScanner/internal/logging"
)

func main() {
	_ = godotenv.Load()

	var batchLimit int

	rootCmd := &cobra.Command{
		Use:   "threatscanner",
		Short: "Ingests, dedups, scores, and enriches security-relevant events",
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, a *app.Application) error {
				return a.RunIngestion(ctx)
			})
		},
	})

	enrichCmd := &cobra.Command{
		Use:   "enrich",
		Short: "Run one enrichment cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, a *app.Application) error {
				return a.RunEnrichment(ctx, batchLimit)
			})
		},
	}
	enrichCmd.Flags().IntVar(&batchLimit, "batch-limit", 0, "Max records to enrich this cycle (0 = config default)")
	rootCmd.AddCommand(enrichCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run both cycles on their configured cadences until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(func(ctx context.Context, a *app.Application) error {
				return a.Run(ctx)
			})
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func withApplication(fn func(context.Context, *app.Application) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Logging.Level)

	application, err := app.New(cfg, logger)
	if err != nil {
		return err
	}
	defer application.Close()

	if err := fn(ctx, application); err != nil {
		logger.Error("run failed", "error", err)
		return err
	}
	return nil
}
