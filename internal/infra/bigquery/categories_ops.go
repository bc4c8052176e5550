package bigquery

import (
	"context"
	"fmt"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

// ListActiveCategories returns all active categories ordered by name.
func (r *Repository) ListActiveCategories(ctx context.Context) ([]bq.CategoryRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
		  category_id,
		  category_name,
		  subcategory_name,
		  slug,
		  is_active
		FROM %s
		WHERE is_active = TRUE
		ORDER BY category_name, subcategory_name
	`, r.table(categoriesTable)))

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListActiveCategories: query read: %w", err)
	}

	var rows []bq.CategoryRow
	for {
		var row bq.CategoryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListActiveCategories: iter next: %w", err)
		}
		rows = append(rows, row)
	}

	return rows, nil
}
