package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/osokin/receipt-ledger/internal/config"
	"github.com/osokin/receipt-ledger/internal/extract"
	"github.com/osokin/receipt-ledger/internal/gcsstore"
	infraBQ "github.com/osokin/receipt-ledger/internal/infra/bigquery"
	"github.com/osokin/receipt-ledger/internal/jobs"
	"github.com/osokin/receipt-ledger/internal/jobs/inmemory"
	"github.com/osokin/receipt-ledger/internal/logger"
)

func main() {
	var (
		configPath = flag.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	)
	flag.Parse()

	log := logger.New()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	// Initialize job store and queue
	// In production, this would be replaced with Cloud Tasks or Pub/Sub
	jobStore := inmemory.NewStore()
	jobQueue := inmemory.NewQueue(cfg.QueueBuffer, cfg.Workers, jobStore)

	log.Info().Msg("Starting worker service")

	parser := extract.NewGeminiParser(repo, cfg.ModelName)
	extractor := extract.New(repo, parser, gcsstore.Fetch, cfg.ModelName)

	// Create job handler that processes extraction jobs
	handler := func(ctx context.Context, job jobs.Job) error {
		extractJob, ok := job.(*jobs.ExtractReceiptJob)
		if !ok {
			return fmt.Errorf("unexpected job type: %T", job)
		}

		log.Info().
			Str("job_id", extractJob.JobID).
			Str("document_id", extractJob.DocumentID).
			Str("gcs_uri", extractJob.GCSURI).
			Msg("Processing extraction job")

		runID, err := extractor.Run(ctx, extractJob.DocumentID)
		extractJob.ExtractionRunID = runID
		if err != nil {
			log.Error().
				Err(err).
				Str("job_id", extractJob.JobID).
				Str("document_id", extractJob.DocumentID).
				Msg("Extraction failed")
			return err
		}

		log.Info().
			Str("job_id", extractJob.JobID).
			Str("document_id", extractJob.DocumentID).
			Str("extraction_run_id", runID).
			Msg("Extraction completed successfully")

		return nil
	}

	// Start consuming jobs
	if err := jobQueue.Start(ctx, handler); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	log.Info().Int("workers", cfg.Workers).Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	// Cancel context to stop workers
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := jobQueue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}

	// Close the queue
	if err := jobQueue.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close job queue")
	}

	log.Info().Msg("Worker service exited")
}
