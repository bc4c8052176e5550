package bigquery

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
)

// DocumentRepository provides an interface for receipt-document metadata operations.
type DocumentRepository interface {
	// InsertDocument inserts a single DocumentRow into the database.
	InsertDocument(ctx context.Context, row *DocumentRow) error

	// GetDocument retrieves a document by ID. Returns nil if not found.
	GetDocument(ctx context.Context, documentID string) (*DocumentRow, error)

	// ListDocuments retrieves all documents, newest first.
	ListDocuments(ctx context.Context) ([]*DocumentRow, error)

	// FindDocumentByChecksum retrieves a document by its SHA-256 checksum.
	// Returns nil if no document with the given checksum exists.
	FindDocumentByChecksum(ctx context.Context, checksum string) (*DocumentRow, error)

	// UpdateDocumentStatus sets the extraction_status and processed_ts of a document.
	UpdateDocumentStatus(ctx context.Context, documentID, status string) error
}

// ReceiptRepository provides an interface for extracted-receipt operations.
type ReceiptRepository interface {
	// InsertReceipt inserts a single ReceiptRow into the database.
	InsertReceipt(ctx context.Context, row *ReceiptRow) error

	// InsertReceiptLineItems inserts a batch of line items for a receipt.
	InsertReceiptLineItems(ctx context.Context, rows []*ReceiptLineItemRow) error

	// GetReceiptByDocument retrieves the receipt extracted from a document,
	// if any. Returns nil if the document has no extracted receipt yet.
	GetReceiptByDocument(ctx context.Context, documentID string) (*ReceiptRow, error)

	// ListReceiptLineItems retrieves the line items of a receipt in line order.
	ListReceiptLineItems(ctx context.Context, receiptID string) ([]*ReceiptLineItemRow, error)
}

// TransactionRepository provides an interface for transaction operations.
type TransactionRepository interface {
	// InsertTransactions inserts a batch of TransactionRow into the database.
	InsertTransactions(ctx context.Context, rows []*TransactionRow) error

	// QueryTransactions queries transactions matching the filter, ordered by
	// transaction date.
	QueryTransactions(ctx context.Context, filter TransactionFilter) ([]*TransactionRow, error)

	// UpdateTransactionExternalReference sets the external_reference field
	// of a transaction, used to track mirrored Notion pages.
	UpdateTransactionExternalReference(ctx context.Context, transactionID, externalRef string) error
}

// ImportRepository provides an interface for bulk-import bookkeeping.
type ImportRepository interface {
	// InsertImportBatch records one bulk import call.
	InsertImportBatch(ctx context.Context, row *ImportBatchRow) error

	// ListImportBatches retrieves import batches, newest first.
	ListImportBatches(ctx context.Context) ([]*ImportBatchRow, error)
}

// CategoryRepository provides an interface for category taxonomy operations.
type CategoryRepository interface {
	// ListActiveCategories retrieves all active categories from the database.
	ListActiveCategories(ctx context.Context) ([]CategoryRow, error)
}

// ExtractionRepository tracks extraction runs and raw model outputs.
type ExtractionRepository interface {
	// StartExtractionRun inserts a new run with status=RUNNING and returns its ID.
	StartExtractionRun(ctx context.Context, documentID string) (string, error)

	// MarkExtractionRunFailed sets status=FAILED, finished_ts and error_message.
	MarkExtractionRunFailed(ctx context.Context, runID string, extractErr error)

	// MarkExtractionRunSucceeded sets status=SUCCESS, finished_ts and the
	// token counts reported by the model. Invalid counts store as NULL.
	MarkExtractionRunSucceeded(ctx context.Context, runID string, tokensInput, tokensOutput bigquery.NullInt64) error

	// ListExtractionRuns retrieves all runs for a document, newest first.
	ListExtractionRuns(ctx context.Context, documentID string) ([]*ExtractionRunRow, error)

	// MarkExtractionRunsSuperseded marks all non-running runs for a document
	// as SUPERSEDED so their transactions drop out of query results.
	MarkExtractionRunsSuperseded(ctx context.Context, documentID string) error

	// InsertModelOutput stores the raw model response for a run.
	InsertModelOutput(ctx context.Context, row *ModelOutputRow) error
}

// SummaryRepository provides the aggregation queries behind the summary endpoints.
type SummaryRepository interface {
	// Summarize returns overall income/expense totals for a date range.
	Summarize(ctx context.Context, startDate, endDate time.Time) (*SummaryRow, error)

	// CategoryBreakdown returns per-category totals for a date range.
	CategoryBreakdown(ctx context.Context, startDate, endDate time.Time) ([]*CategorySummaryRow, error)

	// MerchantBreakdown returns the top merchants by spend for a date range.
	MerchantBreakdown(ctx context.Context, startDate, endDate time.Time, limit int) ([]*MerchantSummaryRow, error)

	// MonthlyBreakdown returns per-month totals for a calendar year.
	MonthlyBreakdown(ctx context.Context, year int) ([]*MonthlySummaryRow, error)
}

// Store combines all repository interfaces implemented by the BigQuery layer.
type Store interface {
	DocumentRepository
	ReceiptRepository
	TransactionRepository
	ImportRepository
	CategoryRepository
	ExtractionRepository
	SummaryRepository

	Close() error
}

// TransactionFilter defines filtering criteria for QueryTransactions.
type TransactionFilter struct {
	StartDate time.Time
	EndDate   time.Time

	Category string
	Merchant string

	Limit int

	// Offset takes effect only together with Limit; BigQuery accepts
	// OFFSET only after a LIMIT clause.
	Offset int
}

// DocumentRow represents an uploaded receipt file in BigQuery.
type DocumentRow struct {
	DocumentID string `bigquery:"document_id" json:"document_id"`
	UserID     string `bigquery:"user_id" json:"user_id"`
	GCSURI     string `bigquery:"gcs_uri" json:"gcs_uri"`

	DocumentType string `bigquery:"document_type" json:"document_type"`

	OriginalFilename string `bigquery:"original_filename" json:"original_filename"`
	FileMimeType     string `bigquery:"file_mime_type" json:"file_mime_type"`
	SizeBytes        int64  `bigquery:"size_bytes" json:"size_bytes"`
	ChecksumSHA256   string `bigquery:"checksum_sha256" json:"checksum_sha256"`

	UploadTS    time.Time              `bigquery:"upload_ts" json:"upload_ts"`
	ProcessedTS bigquery.NullTimestamp `bigquery:"processed_ts" json:"processed_ts,omitempty"`

	ExtractionStatus string `bigquery:"extraction_status" json:"extraction_status"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// ReceiptRow represents an extracted receipt in BigQuery.
type ReceiptRow struct {
	ReceiptID string `bigquery:"receipt_id" json:"receipt_id"`
	UserID    string `bigquery:"user_id" json:"user_id"`

	DocumentID      string `bigquery:"document_id" json:"document_id"`
	ExtractionRunID string `bigquery:"extraction_run_id" json:"extraction_run_id"`

	MerchantID   bigquery.NullString `bigquery:"merchant_id" json:"merchant_id,omitempty"`
	MerchantName string              `bigquery:"merchant_name" json:"merchant_name"`

	PurchaseDate     bigquery.NullDate     `bigquery:"purchase_date" json:"purchase_date,omitempty"`
	PurchaseDatetime bigquery.NullDateTime `bigquery:"purchase_datetime" json:"purchase_datetime,omitempty"`

	TotalAmount    *big.Rat `bigquery:"total_amount" json:"-"`
	SubtotalAmount *big.Rat `bigquery:"subtotal_amount" json:"-"`
	TaxAmount      *big.Rat `bigquery:"tax_amount" json:"-"`
	TipAmount      *big.Rat `bigquery:"tip_amount" json:"-"`

	Currency string `bigquery:"currency" json:"currency"`

	PaymentMethod       string              `bigquery:"payment_method" json:"payment_method,omitempty"`
	CardLast4           string              `bigquery:"card_last4" json:"card_last4,omitempty"`
	LinkedTransactionID bigquery.NullString `bigquery:"linked_transaction_id" json:"linked_transaction_id,omitempty"`

	CreatedTS time.Time              `bigquery:"created_ts" json:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts" json:"updated_ts,omitempty"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// MarshalJSON renders NUMERIC amounts as fixed two-decimal strings.
func (r ReceiptRow) MarshalJSON() ([]byte, error) {
	type Alias ReceiptRow
	return json.Marshal(&struct {
		TotalAmount    string  `json:"total_amount"`
		SubtotalAmount *string `json:"subtotal_amount,omitempty"`
		TaxAmount      *string `json:"tax_amount,omitempty"`
		TipAmount      *string `json:"tip_amount,omitempty"`
		*Alias
	}{
		TotalAmount:    ratString(r.TotalAmount),
		SubtotalAmount: ratStringPtr(r.SubtotalAmount),
		TaxAmount:      ratStringPtr(r.TaxAmount),
		TipAmount:      ratStringPtr(r.TipAmount),
		Alias:          (*Alias)(&r),
	})
}

// ReceiptLineItemRow represents one line item of an extracted receipt.
type ReceiptLineItemRow struct {
	LineItemID string `bigquery:"line_item_id" json:"line_item_id"`
	ReceiptID  string `bigquery:"receipt_id" json:"receipt_id"`

	LineIndex int64 `bigquery:"line_index" json:"line_index"`

	Description string `bigquery:"description" json:"description"`

	Quantity   bigquery.NullFloat64 `bigquery:"quantity" json:"quantity,omitempty"`
	UnitPrice  bigquery.NullFloat64 `bigquery:"unit_price" json:"unit_price,omitempty"`
	TotalPrice bigquery.NullFloat64 `bigquery:"total_price" json:"total_price,omitempty"`

	CategoryName    string `bigquery:"category_name" json:"category_name,omitempty"`
	SubcategoryName string `bigquery:"subcategory_name" json:"subcategory_name,omitempty"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// TransactionRow represents a transaction record in BigQuery.
type TransactionRow struct {
	TransactionID string `bigquery:"transaction_id" json:"transaction_id"`

	UserID string `bigquery:"user_id" json:"user_id"`

	DocumentID      bigquery.NullString `bigquery:"document_id" json:"document_id,omitempty"`
	ExtractionRunID bigquery.NullString `bigquery:"extraction_run_id" json:"extraction_run_id,omitempty"`
	ImportBatchID   bigquery.NullString `bigquery:"import_batch_id" json:"import_batch_id,omitempty"`

	// Source records how the row entered the system: RECEIPT or IMPORT.
	Source string `bigquery:"source" json:"source"`

	TransactionDate civil.Date `bigquery:"transaction_date" json:"transaction_date"`

	Amount   *big.Rat `bigquery:"amount" json:"-"`
	Currency string   `bigquery:"currency" json:"currency"`

	RawDescription        string              `bigquery:"raw_description" json:"raw_description"`
	NormalizedDescription bigquery.NullString `bigquery:"normalized_description" json:"normalized_description,omitempty"`

	CategoryID      bigquery.NullString `bigquery:"category_id" json:"category_id,omitempty"`
	CategoryName    bigquery.NullString `bigquery:"category_name" json:"category_name,omitempty"`
	SubcategoryName bigquery.NullString `bigquery:"subcategory_name" json:"subcategory_name,omitempty"`

	MerchantID   bigquery.NullString `bigquery:"merchant_id" json:"merchant_id,omitempty"`
	MerchantName bigquery.NullString `bigquery:"merchant_name" json:"merchant_name,omitempty"`

	ExternalReference bigquery.NullString `bigquery:"external_reference" json:"external_reference,omitempty"`

	Tags []string `bigquery:"tags" json:"tags,omitempty"`

	Notes bigquery.NullString `bigquery:"notes" json:"notes,omitempty"`

	ModelConfidenceScore bigquery.NullFloat64 `bigquery:"model_confidence_score" json:"model_confidence_score,omitempty"`

	CreatedTS time.Time              `bigquery:"created_ts" json:"created_ts"`
	UpdatedTS bigquery.NullTimestamp `bigquery:"updated_ts" json:"updated_ts,omitempty"`
}

// MarshalJSON customizes JSON serialization for TransactionRow.
func (t TransactionRow) MarshalJSON() ([]byte, error) {
	type Alias TransactionRow
	return json.Marshal(&struct {
		Amount string `json:"amount"`
		*Alias
	}{
		Amount: ratString(t.Amount),
		Alias:  (*Alias)(&t),
	})
}

func ratString(r *big.Rat) string {
	if r == nil {
		return "0.00"
	}
	f, _ := r.Float64()
	return fmt.Sprintf("%.2f", f)
}

func ratStringPtr(r *big.Rat) *string {
	if r == nil {
		return nil
	}
	s := ratString(r)
	return &s
}

// CategoryRow represents a denormalized category-subcategory pair.
type CategoryRow struct {
	CategoryID      string              `bigquery:"category_id" json:"category_id"`
	CategoryName    string              `bigquery:"category_name" json:"category_name"`
	SubcategoryName bigquery.NullString `bigquery:"subcategory_name" json:"subcategory_name,omitempty"`

	Slug string `bigquery:"slug" json:"slug"`

	Description bigquery.NullString `bigquery:"description" json:"description,omitempty"`
	IsActive    bigquery.NullBool   `bigquery:"is_active" json:"is_active,omitempty"`

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts" json:"created_ts,omitempty"`
	RetiredTS bigquery.NullTimestamp `bigquery:"retired_ts" json:"-"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// ImportBatchRow records one call to the bulk import endpoint.
type ImportBatchRow struct {
	ImportBatchID string `bigquery:"import_batch_id" json:"import_batch_id"`
	UserID        string `bigquery:"user_id" json:"user_id"`

	// SourceLabel is a free-text client-supplied label, e.g. "revolut-csv".
	SourceLabel string `bigquery:"source_label" json:"source_label,omitempty"`

	SubmittedCount int64 `bigquery:"submitted_count" json:"submitted_count"`
	ImportedCount  int64 `bigquery:"imported_count" json:"imported_count"`
	RejectedCount  int64 `bigquery:"rejected_count" json:"rejected_count"`

	CreatedTS time.Time `bigquery:"created_ts" json:"created_ts"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// ExtractionRunRow represents an extraction run record in BigQuery.
type ExtractionRunRow struct {
	ExtractionRunID string `bigquery:"extraction_run_id" json:"extraction_run_id"`
	DocumentID      string `bigquery:"document_id" json:"document_id"`

	StartedTS  time.Time              `bigquery:"started_ts" json:"started_ts"`
	FinishedTS bigquery.NullTimestamp `bigquery:"finished_ts" json:"finished_ts,omitempty"`

	ExtractorType    string `bigquery:"extractor_type" json:"extractor_type"`
	ExtractorVersion string `bigquery:"extractor_version" json:"extractor_version"`

	Status       string `bigquery:"status" json:"status"`
	ErrorMessage string `bigquery:"error_message" json:"error_message,omitempty"`

	TokensInput  bigquery.NullInt64 `bigquery:"tokens_input" json:"tokens_input,omitempty"`
	TokensOutput bigquery.NullInt64 `bigquery:"tokens_output" json:"tokens_output,omitempty"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// ModelOutputRow retains the raw model response for auditability.
type ModelOutputRow struct {
	OutputID        string `bigquery:"output_id" json:"output_id"`
	ExtractionRunID string `bigquery:"extraction_run_id" json:"extraction_run_id"`
	DocumentID      string `bigquery:"document_id" json:"document_id"`

	ModelName    string              `bigquery:"model_name" json:"model_name"`
	ModelVersion bigquery.NullString `bigquery:"model_version" json:"model_version,omitempty"`

	RawJSON       bigquery.NullJSON   `bigquery:"raw_json" json:"-"`
	ExtractedText bigquery.NullString `bigquery:"extracted_text" json:"-"`

	CreatedTS bigquery.NullTimestamp `bigquery:"created_ts" json:"created_ts,omitempty"`
	Notes     bigquery.NullString    `bigquery:"notes" json:"notes,omitempty"`

	Metadata bigquery.NullJSON `bigquery:"metadata" json:"-"`
}

// SummaryRow is the overall income/expense rollup for a date range.
type SummaryRow struct {
	TotalIncome   float64 `bigquery:"total_income" json:"total_income"`
	TotalExpenses float64 `bigquery:"total_expenses" json:"total_expenses"`
	Net           float64 `bigquery:"net" json:"net"`
	Count         int64   `bigquery:"tx_count" json:"count"`
}

// CategorySummaryRow is one category bucket of a breakdown query.
type CategorySummaryRow struct {
	CategoryName string  `bigquery:"category_name" json:"category_name"`
	Total        float64 `bigquery:"total" json:"total"`
	Count        int64   `bigquery:"tx_count" json:"count"`
}

// MerchantSummaryRow is one merchant bucket of a breakdown query.
type MerchantSummaryRow struct {
	MerchantName string  `bigquery:"merchant_name" json:"merchant_name"`
	Total        float64 `bigquery:"total" json:"total"`
	Count        int64   `bigquery:"tx_count" json:"count"`
}

// MonthlySummaryRow is one month bucket of the monthly breakdown.
type MonthlySummaryRow struct {
	Year          int64   `bigquery:"year" json:"year"`
	Month         int64   `bigquery:"month" json:"month"`
	TotalIncome   float64 `bigquery:"total_income" json:"total_income"`
	TotalExpenses float64 `bigquery:"total_expenses" json:"total_expenses"`
	Net           float64 `bigquery:"net" json:"net"`
	Count         int64   `bigquery:"tx_count" json:"count"`
}
