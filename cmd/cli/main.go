package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	bigquerylib "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/config"
	"github.com/osokin/receipt-ledger/internal/extract"
	"github.com/osokin/receipt-ledger/internal/gcsstore"
	infraBQ "github.com/osokin/receipt-ledger/internal/infra/bigquery"
	"github.com/osokin/receipt-ledger/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "upload":
		runUpload(log)
	case "extract":
		runExtract(log)
	case "inspect":
		runInspect(log)
	case "import":
		runImport(log)
	case "summary":
		runSummary(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Receipt Ledger CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  upload    Upload a receipt image or PDF and register it for extraction")
	fmt.Println("  extract   Run extraction for an uploaded document")
	fmt.Println("  inspect   Inspect a document, its receipt and line items")
	fmt.Println("  import    Bulk-import transactions from a JSON file")
	fmt.Println("  summary   Print spending totals for a date range")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nRun 'cli <command> -h' for more information on a command.")
}

func loadConfig(log zerolog.Logger, configPath string) *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	return cfg
}

func runUpload(log zerolog.Logger) {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	filePath := fs.String("file", "", "Path to local receipt image or PDF")
	andExtract := fs.Bool("extract", false, "Run extraction after uploading")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli upload -file PATH [-extract]")
	}

	cfg := loadConfig(log, *configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}
	if len(data) == 0 {
		log.Fatal().Msg("File is empty")
	}

	mimeType := http.DetectContentType(data)
	if mimeType == "application/octet-stream" && bytes.HasPrefix(data, []byte("%PDF-")) {
		mimeType = "application/pdf"
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	if existing, err := repo.FindDocumentByChecksum(ctx, checksum); err != nil {
		log.Fatal().Err(err).Msg("Checksum lookup failed")
	} else if existing != nil {
		log.Fatal().
			Str("document_id", existing.DocumentID).
			Msg("A document with identical content already exists")
	}

	objects, err := gcsstore.New(ctx, cfg.Bucket)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer objects.Close()

	filename := filepath.Base(*filePath)
	now := time.Now()
	objectName := fmt.Sprintf("receipts/%s/%s-%s", now.Format("2006/01/02"), uuid.NewString(), filename)

	if _, err := objects.Upload(ctx, objectName, mimeType, bytes.NewReader(data)); err != nil {
		log.Fatal().Err(err).Msg("Upload to GCS failed")
	}

	doc := &bq.DocumentRow{
		DocumentID:       uuid.NewString(),
		UserID:           extract.DefaultUserID,
		GCSURI:           objects.URI(objectName),
		DocumentType:     "RECEIPT",
		OriginalFilename: filename,
		FileMimeType:     mimeType,
		SizeBytes:        int64(len(data)),
		ChecksumSHA256:   checksum,
		UploadTS:         now,
		ExtractionStatus: extract.StatusPending,
	}
	if err := repo.InsertDocument(ctx, doc); err != nil {
		_ = objects.Delete(ctx, objectName)
		log.Fatal().Err(err).Msg("Failed to insert document metadata")
	}

	fmt.Printf("Uploaded %s\n", doc.GCSURI)
	fmt.Printf("Document ID: %s\n", doc.DocumentID)

	if *andExtract {
		runID := extractDocument(ctx, log, repo, cfg, doc.DocumentID)
		fmt.Printf("Extraction run: %s\n", runID)
	}
}

func runExtract(log zerolog.Logger) {
	fs := flag.NewFlagSet("extract", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	documentID := fs.String("document-id", "", "Document ID to extract")
	fs.Parse(os.Args[2:])

	if *documentID == "" {
		log.Fatal().Msg("Error: --document-id is required")
	}

	cfg := loadConfig(log, *configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	runID := extractDocument(ctx, log, repo, cfg, *documentID)
	fmt.Printf("Extraction completed, run %s\n", runID)
}

func extractDocument(ctx context.Context, log zerolog.Logger, repo *infraBQ.Repository, cfg *config.Config, documentID string) string {
	parser := extract.NewGeminiParser(repo, cfg.ModelName)
	extractor := extract.New(repo, parser, gcsstore.Fetch, cfg.ModelName)

	log.Info().Str("document_id", documentID).Msg("Starting extraction")

	runID, err := extractor.Run(ctx, documentID)
	if err != nil {
		log.Fatal().Err(err).Str("document_id", documentID).Msg("Extraction failed")
	}
	return runID
}

func runInspect(log zerolog.Logger) {
	fs := flag.NewFlagSet("inspect", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	documentID := fs.String("document-id", "", "Document ID to inspect")
	fs.Parse(os.Args[2:])

	if *documentID == "" {
		log.Fatal().Msg("Error: --document-id is required")
	}

	cfg := loadConfig(log, *configPath)

	ctx := logger.WithContext(context.Background(), log)

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	doc, err := repo.GetDocument(ctx, *documentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get document")
	}
	if doc == nil {
		log.Fatal().Msg("Document not found")
	}

	fmt.Println("\n=== Document ===")
	fmt.Printf("ID:       %s\n", doc.DocumentID)
	fmt.Printf("Filename: %s\n", doc.OriginalFilename)
	fmt.Printf("GCS URI:  %s\n", doc.GCSURI)
	fmt.Printf("Object:   %s\n", gcsstore.FilenameFromURI(doc.GCSURI))
	fmt.Printf("MIME:     %s\n", doc.FileMimeType)
	fmt.Printf("Uploaded: %s\n", doc.UploadTS.Format(time.RFC3339))
	fmt.Printf("Status:   %s\n", doc.ExtractionStatus)

	receipt, err := repo.GetReceiptByDocument(ctx, *documentID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to get receipt")
	}
	if receipt == nil {
		fmt.Println("\nNo extracted receipt yet.")
		return
	}

	fmt.Println("\n=== Receipt ===")
	fmt.Printf("ID:       %s\n", receipt.ReceiptID)
	fmt.Printf("Merchant: %s\n", receipt.MerchantName)
	if receipt.PurchaseDate.Valid {
		fmt.Printf("Date:     %s\n", receipt.PurchaseDate.Date)
	}
	if receipt.TotalAmount != nil {
		fmt.Printf("Total:    %s %s\n", receipt.TotalAmount.FloatString(2), receipt.Currency)
	}
	if receipt.PaymentMethod != "" {
		fmt.Printf("Payment:  %s", receipt.PaymentMethod)
		if receipt.CardLast4 != "" {
			fmt.Printf(" (*%s)", receipt.CardLast4)
		}
		fmt.Println()
	}

	items, err := repo.ListReceiptLineItems(ctx, receipt.ReceiptID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list line items")
	}

	fmt.Printf("\n=== Line Items (%d) ===\n", len(items))
	for i, item := range items {
		fmt.Printf("\n%d. %s\n", i+1, item.Description)
		if item.Quantity.Valid {
			fmt.Printf("   Quantity: %g\n", item.Quantity.Float64)
		}
		if item.TotalPrice.Valid {
			fmt.Printf("   Total:    %.2f\n", item.TotalPrice.Float64)
		}
		if item.CategoryName != "" {
			fmt.Printf("   Category: %s\n", item.CategoryName)
		}
	}
	fmt.Println()
}

// importFileRow mirrors one entry of the bulk-import request body. Amount
// stays raw so a malformed value rejects that row alone.
type importFileRow struct {
	Description       string          `json:"description"`
	Date              string          `json:"date"`
	Amount            json.RawMessage `json:"amount"`
	Currency          string          `json:"currency"`
	Category          string          `json:"category,omitempty"`
	Subcategory       string          `json:"subcategory,omitempty"`
	MerchantName      string          `json:"merchant_name,omitempty"`
	ExternalReference string          `json:"external_reference,omitempty"`
	Tags              []string        `json:"tags,omitempty"`
	Notes             string          `json:"notes,omitempty"`
}

func runImport(log zerolog.Logger) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	filePath := fs.String("file", "", "Path to JSON file with an array of transactions")
	source := fs.String("source", "cli", "Label recorded on the import batch")
	fs.Parse(os.Args[2:])

	if *filePath == "" {
		log.Fatal().Msg("Usage: cli import -file PATH [-source LABEL]")
	}

	cfg := loadConfig(log, *configPath)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	data, err := os.ReadFile(*filePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read file")
	}

	var entries []importFileRow
	if err := json.Unmarshal(data, &entries); err != nil {
		log.Fatal().Err(err).Msg("Failed to parse JSON")
	}
	if len(entries) == 0 {
		log.Fatal().Msg("No transactions in file")
	}

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	validator, err := extract.NewCategoryValidator(ctx, repo)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load category taxonomy")
	}

	batchID := uuid.NewString()
	now := time.Now()

	var rows []*bq.TransactionRow
	rejected := 0
	for i, in := range entries {
		row, err := buildImportRow(in, batchID, now, validator)
		if err != nil {
			fmt.Fprintf(os.Stderr, "row %d rejected: %v\n", i, err)
			rejected++
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := repo.InsertTransactions(ctx, rows); err != nil {
			log.Fatal().Err(err).Msg("Failed to insert transactions")
		}
	}

	batch := &bq.ImportBatchRow{
		ImportBatchID:  batchID,
		UserID:         extract.DefaultUserID,
		SourceLabel:    *source,
		SubmittedCount: int64(len(entries)),
		ImportedCount:  int64(len(rows)),
		RejectedCount:  int64(rejected),
		CreatedTS:      now,
	}
	if err := repo.InsertImportBatch(ctx, batch); err != nil {
		log.Error().Err(err).Str("import_batch_id", batchID).Msg("Failed to record import batch")
	}

	fmt.Printf("Import batch %s: %d imported, %d rejected\n", batchID, len(rows), rejected)
}

func buildImportRow(in importFileRow, batchID string, now time.Time, validator *extract.CategoryValidator) (*bq.TransactionRow, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}

	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", in.Date)
	}

	amount, err := parseAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount must be non-zero")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q, want 3-letter code", in.Currency)
	}

	category := in.Category
	subcategory := in.Subcategory
	if category != "" {
		if err := validator.ValidateCategory(category, subcategory); err != nil {
			category = extract.FallbackCategory
			subcategory = ""
		}
	}

	return &bq.TransactionRow{
		TransactionID:     uuid.NewString(),
		UserID:            extract.DefaultUserID,
		ImportBatchID:     bigquerylib.NullString{StringVal: batchID, Valid: true},
		Source:            "IMPORT",
		TransactionDate:   civil.DateOf(date),
		Amount:            amount.Rat(),
		Currency:          currency,
		RawDescription:    in.Description,
		CategoryName:      bigquerylib.NullString{StringVal: category, Valid: category != ""},
		SubcategoryName:   bigquerylib.NullString{StringVal: subcategory, Valid: subcategory != ""},
		MerchantName:      bigquerylib.NullString{StringVal: in.MerchantName, Valid: in.MerchantName != ""},
		ExternalReference: bigquerylib.NullString{StringVal: in.ExternalReference, Valid: in.ExternalReference != ""},
		Tags:              in.Tags,
		Notes:             bigquerylib.NullString{StringVal: in.Notes, Valid: in.Notes != ""},
		CreatedTS:         now,
	}, nil
}

// parseAmount parses an amount given either as a JSON number or as a quoted
// numeric string.
func parseAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, fmt.Errorf("amount is required")
	}
	s = strings.Trim(s, `"`)

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	configPath := fs.String("config", os.Getenv("CONFIG_FILE"), "Path to JSON config file")
	startStr := fs.String("start", "", "Start date (YYYY-MM-DD), defaults to one year ago")
	endStr := fs.String("end", "", "End date (YYYY-MM-DD), defaults to today")
	fs.Parse(os.Args[2:])

	cfg := loadConfig(log, *configPath)

	ctx := logger.WithContext(context.Background(), log)

	start := time.Now().AddDate(-1, 0, 0)
	end := time.Now()
	var err error
	if *startStr != "" {
		if start, err = time.Parse("2006-01-02", *startStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid start date")
		}
	}
	if *endStr != "" {
		if end, err = time.Parse("2006-01-02", *endStr); err != nil {
			log.Fatal().Err(err).Msg("Invalid end date")
		}
	}
	if end.Before(start) {
		log.Fatal().Msg("End date is before start date")
	}

	repo, err := infraBQ.NewRepository(ctx, cfg.ProjectID, cfg.DatasetID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create BigQuery repository")
	}
	defer repo.Close()

	summary, err := repo.Summarize(ctx, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute summary")
	}

	fmt.Printf("\n=== Summary %s to %s ===\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("Income:   %.2f\n", summary.TotalIncome)
	fmt.Printf("Expenses: %.2f\n", summary.TotalExpenses)
	fmt.Printf("Net:      %.2f\n", summary.Net)
	fmt.Printf("Count:    %d\n", summary.Count)

	categories, err := repo.CategoryBreakdown(ctx, start, end)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to compute category breakdown")
	}

	if len(categories) > 0 {
		fmt.Println("\n=== By Category ===")
		for _, c := range categories {
			fmt.Printf("%-24s %10.2f  (%d)\n", c.CategoryName, c.Total, c.Count)
		}
	}
	fmt.Println()
}
