package extract

import (
	"context"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
)

// Usage reports the token accounting and model revision of one model call.
// A nil Usage means the model did not report any.
type Usage struct {
	TokensInput  int64
	TokensOutput int64
	ModelVersion string
}

// ReceiptParser provides an interface for AI-powered receipt parsing.
// This interface enables mocking and testing of the model call.
type ReceiptParser interface {
	// ParseReceipt sends the file bytes to a model and returns parsed JSON
	// output as a generic map with a top-level "receipt" key, plus the
	// usage metadata reported by the model.
	ParseReceipt(ctx context.Context, data []byte, mimeType string) (map[string]interface{}, *Usage, error)
}

// Store is the subset of the persistence layer the extractor needs.
type Store interface {
	bq.DocumentRepository
	bq.ReceiptRepository
	bq.TransactionRepository
	bq.CategoryRepository
	bq.ExtractionRepository
}

// Fetcher downloads file bytes from a storage URI. Matches gcsstore.Fetch.
type Fetcher func(ctx context.Context, uri string) ([]byte, error)
