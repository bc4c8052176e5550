package bigquery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

// InsertTransactions inserts a batch of TransactionRow into the transactions table.
func (r *Repository) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.inserter(transactionsTable).Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertTransactions: inserting rows: %w", err)
	}
	return nil
}

// UpdateTransactionExternalReference sets the external_reference of a
// transaction and bumps updated_ts.
func (r *Repository) UpdateTransactionExternalReference(ctx context.Context, transactionID, externalRef string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET external_reference = @external_reference,
		    updated_ts = @updated_ts
		WHERE transaction_id = @transaction_id
	`, r.table(transactionsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "external_reference", Value: externalRef},
		{Name: "updated_ts", Value: time.Now()},
		{Name: "transaction_id", Value: transactionID},
	}

	return r.runDML(ctx, q, "UpdateTransactionExternalReference")
}

// QueryTransactions queries transactions matching the filter, ordered by
// transaction date. Receipt-derived transactions are only included when they
// belong to a successful, non-superseded extraction run; imported rows are
// always included.
func (r *Repository) QueryTransactions(ctx context.Context, filter bq.TransactionFilter) ([]*bq.TransactionRow, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `
		SELECT
			t.transaction_id,
			t.user_id,
			t.document_id,
			t.extraction_run_id,
			t.import_batch_id,
			t.source,
			t.transaction_date,
			t.amount,
			t.currency,
			t.raw_description,
			t.normalized_description,
			t.category_id,
			t.category_name,
			t.subcategory_name,
			t.merchant_id,
			t.merchant_name,
			t.external_reference,
			t.tags,
			t.notes,
			t.model_confidence_score,
			t.created_ts,
			t.updated_ts
		FROM %s t
		LEFT JOIN %s er
		  ON t.extraction_run_id = er.extraction_run_id
		WHERE t.transaction_date >= @start_date
		  AND t.transaction_date <= @end_date
		  AND (t.source != 'RECEIPT' OR er.status = 'SUCCESS')
	`, r.table(transactionsTable), r.table(extractionRunsTable))

	params := []bigquery.QueryParameter{
		{Name: "start_date", Value: filter.StartDate.Format(dateFormat)},
		{Name: "end_date", Value: filter.EndDate.Format(dateFormat)},
	}

	if filter.Category != "" {
		sb.WriteString("  AND UPPER(TRIM(t.category_name)) = @category\n")
		params = append(params, bigquery.QueryParameter{
			Name: "category", Value: strings.ToUpper(strings.TrimSpace(filter.Category)),
		})
	}
	if filter.Merchant != "" {
		sb.WriteString("  AND UPPER(TRIM(t.merchant_name)) = @merchant\n")
		params = append(params, bigquery.QueryParameter{
			Name: "merchant", Value: strings.ToUpper(strings.TrimSpace(filter.Merchant)),
		})
	}

	sb.WriteString("  ORDER BY t.transaction_date, t.created_ts\n")

	if filter.Limit > 0 {
		sb.WriteString("  LIMIT @limit\n")
		params = append(params, bigquery.QueryParameter{Name: "limit", Value: int64(filter.Limit)})
		if filter.Offset > 0 {
			sb.WriteString("  OFFSET @offset\n")
			params = append(params, bigquery.QueryParameter{Name: "offset", Value: int64(filter.Offset)})
		}
	}

	q := r.client.Query(sb.String())
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("QueryTransactions: query read: %w", err)
	}

	var rows []*bq.TransactionRow
	for {
		var row bq.TransactionRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("QueryTransactions: iter next: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}
