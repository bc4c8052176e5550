package bigquery

import (
	"context"
	"fmt"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

// InsertImportBatch records one bulk import call.
func (r *Repository) InsertImportBatch(ctx context.Context, row *bq.ImportBatchRow) error {
	if err := r.inserter(importBatchesTable).Put(ctx, row); err != nil {
		return fmt.Errorf("InsertImportBatch: inserting row: %w", err)
	}
	return nil
}

// ListImportBatches retrieves import batches, newest first.
func (r *Repository) ListImportBatches(ctx context.Context) ([]*bq.ImportBatchRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			import_batch_id,
			user_id,
			source_label,
			submitted_count,
			imported_count,
			rejected_count,
			created_ts,
			metadata
		FROM %s
		ORDER BY created_ts DESC
	`, r.table(importBatchesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListImportBatches: query read: %w", err)
	}

	var batches []*bq.ImportBatchRow
	for {
		var row bq.ImportBatchRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListImportBatches: iter next: %w", err)
		}
		batches = append(batches, &row)
	}

	return batches, nil
}
