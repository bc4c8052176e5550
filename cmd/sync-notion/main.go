package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/osokin/receipt-ledger/internal/config"
	infraBQ "github.com/osokin/receipt-ledger/internal/infra/bigquery"
	"github.com/osokin/receipt-ledger/internal/logger"
	"github.com/osokin/receipt-ledger/internal/notionsync"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	// Parse CLI flags
	configPath := flag.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	startDateStr := flag.String("start-date", "", "Start date in YYYY-MM-DD format (required)")
	endDateStr := flag.String("end-date", "", "End date in YYYY-MM-DD format (required)")
	notionToken := flag.String("notion-token", "", "Notion API token (overrides config)")
	notionDBID := flag.String("notion-db-id", "", "Notion database ID for transactions (overrides config)")
	receiptsDBID := flag.String("receipts-db-id", "", "Notion database ID for receipts (optional)")
	dryRun := flag.Bool("dry-run", false, "Dry run mode - preview changes without syncing")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	token := *notionToken
	if token == "" {
		token = cfg.NotionToken
	}
	dbID := *notionDBID
	if dbID == "" {
		dbID = cfg.NotionDatabaseID
	}

	// Validate required flags
	if *startDateStr == "" {
		log.Fatal().Msg("Error: --start-date is required")
	}
	if *endDateStr == "" {
		log.Fatal().Msg("Error: --end-date is required")
	}
	if token == "" {
		log.Fatal().Msg("Error: a Notion token is required (--notion-token or NOTION_TOKEN)")
	}
	if dbID == "" {
		log.Fatal().Msg("Error: a Notion database ID is required (--notion-db-id or NOTION_DATABASE_ID)")
	}

	// Parse dates
	startDate, err := time.Parse("2006-01-02", *startDateStr)
	if err != nil {
		log.Fatal().Err(err).Str("start_date", *startDateStr).Msg("Error: invalid start-date format, expected YYYY-MM-DD")
	}

	endDate, err := time.Parse("2006-01-02", *endDateStr)
	if err != nil {
		log.Fatal().Err(err).Str("end_date", *endDateStr).Msg("Error: invalid end-date format, expected YYYY-MM-DD")
	}

	// Validate date range
	if endDate.Before(startDate) {
		log.Fatal().
			Time("start_date", startDate).
			Time("end_date", endDate).
			Msg("Error: end-date must be after start-date")
	}

	// Create context with timeout so CLI doesn't hang
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	// Add logger to context
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("start_date", *startDateStr).
		Str("end_date", *endDateStr).
		Bool("dry_run", *dryRun).
		Msg("Starting Notion sync")

	// Initialize BigQuery repository
	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize BigQuery repository")
	}
	defer repo.Close()

	// Initialize Notion client
	notionClient := notionsync.NewNotionClient(token)

	// Sync transactions
	if err := notionsync.SyncTransactions(ctx, repo, notionClient, dbID, startDate, endDate, *dryRun); err != nil {
		log.Fatal().Err(err).Msg("Transaction sync failed")
	}

	// Sync receipts into their own database when one is configured
	if *receiptsDBID != "" {
		if err := notionsync.SyncReceipts(ctx, repo, repo, notionClient, *receiptsDBID, *dryRun); err != nil {
			log.Fatal().Err(err).Msg("Receipt sync failed")
		}
	}

	fmt.Println("Sync completed successfully.")
}
