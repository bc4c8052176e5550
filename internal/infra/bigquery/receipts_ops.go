package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

// InsertReceipt inserts a single ReceiptRow into the receipts table.
func (r *Repository) InsertReceipt(ctx context.Context, row *bq.ReceiptRow) error {
	if err := r.inserter(receiptsTable).Put(ctx, row); err != nil {
		return fmt.Errorf("InsertReceipt: inserting row: %w", err)
	}
	return nil
}

// InsertReceiptLineItems inserts a batch of line items for a receipt.
func (r *Repository) InsertReceiptLineItems(ctx context.Context, rows []*bq.ReceiptLineItemRow) error {
	if len(rows) == 0 {
		return nil
	}
	if err := r.inserter(lineItemsTable).Put(ctx, rows); err != nil {
		return fmt.Errorf("InsertReceiptLineItems: inserting rows: %w", err)
	}
	return nil
}

// GetReceiptByDocument retrieves the receipt extracted from a document, if
// any. When a document has been re-extracted, the receipt from the latest
// run wins.
func (r *Repository) GetReceiptByDocument(ctx context.Context, documentID string) (*bq.ReceiptRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			receipt_id,
			user_id,
			document_id,
			extraction_run_id,
			merchant_id,
			merchant_name,
			purchase_date,
			purchase_datetime,
			total_amount,
			subtotal_amount,
			tax_amount,
			tip_amount,
			currency,
			payment_method,
			card_last4,
			linked_transaction_id,
			created_ts,
			updated_ts,
			metadata
		FROM %s
		WHERE document_id = @document_id
		ORDER BY created_ts DESC
		LIMIT 1
	`, r.table(receiptsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: documentID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("GetReceiptByDocument: query read: %w", err)
	}

	var row bq.ReceiptRow
	err = it.Next(&row)
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetReceiptByDocument: iter next: %w", err)
	}

	return &row, nil
}

// ListReceiptLineItems retrieves the line items of a receipt in line order.
func (r *Repository) ListReceiptLineItems(ctx context.Context, receiptID string) ([]*bq.ReceiptLineItemRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			line_item_id,
			receipt_id,
			line_index,
			description,
			quantity,
			unit_price,
			total_price,
			category_name,
			subcategory_name,
			metadata
		FROM %s
		WHERE receipt_id = @receipt_id
		ORDER BY line_index
	`, r.table(lineItemsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "receipt_id", Value: receiptID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListReceiptLineItems: query read: %w", err)
	}

	var items []*bq.ReceiptLineItemRow
	for {
		var row bq.ReceiptLineItemRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListReceiptLineItems: iter next: %w", err)
		}
		items = append(items, &row)
	}

	return items, nil
}
