package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
)

const (
	documentsTable      = "documents"
	receiptsTable       = "receipts"
	lineItemsTable      = "receipt_line_items"
	transactionsTable   = "transactions"
	categoriesTable     = "categories"
	importBatchesTable  = "import_batches"
	extractionRunsTable = "extraction_runs"
	modelOutputsTable   = "model_outputs"

	dateFormat = "2006-01-02"
)

// Re-export interfaces from the shared package so callers can depend on this
// package alone.
type Store = bq.Store
type DocumentRepository = bq.DocumentRepository
type ReceiptRepository = bq.ReceiptRepository
type TransactionRepository = bq.TransactionRepository
type CategoryRepository = bq.CategoryRepository
type SummaryRepository = bq.SummaryRepository

// Repository is the BigQuery-backed implementation of bq.Store. It holds a
// shared BigQuery client to avoid creating a new connection per operation.
type Repository struct {
	client    *bigquery.Client
	projectID string
	datasetID string
}

// NewRepository creates a Repository with its own BigQuery client.
func NewRepository(ctx context.Context, projectID, datasetID string) (*Repository, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewRepository: creating client: %w", err)
	}
	return NewRepositoryWithClient(client, projectID, datasetID), nil
}

// NewRepositoryWithClient creates a Repository around an existing client.
// The caller keeps ownership of the client's lifecycle when using this
// constructor directly; Close is still safe to call.
func NewRepositoryWithClient(client *bigquery.Client, projectID, datasetID string) *Repository {
	return &Repository{
		client:    client,
		projectID: projectID,
		datasetID: datasetID,
	}
}

// Close closes the underlying BigQuery client.
func (r *Repository) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// table returns the fully qualified, backticked table name.
func (r *Repository) table(name string) string {
	return "`" + r.projectID + "." + r.datasetID + "." + name + "`"
}

// inserter returns a streaming inserter for the given table.
func (r *Repository) inserter(name string) *bigquery.Inserter {
	return r.client.DatasetInProject(r.projectID, r.datasetID).Table(name).Inserter()
}

// runDML runs a DML query and waits for it to finish.
func (r *Repository) runDML(ctx context.Context, q *bigquery.Query, op string) error {
	job, err := q.Run(ctx)
	if err != nil {
		return fmt.Errorf("%s: running query: %w", op, err)
	}

	status, err := job.Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return fmt.Errorf("%s: job error: %w", op, err)
	}

	return nil
}

// Ensure Repository satisfies the full store interface.
var _ bq.Store = (*Repository)(nil)
