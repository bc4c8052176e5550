package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

// activeTransactions is the WITH clause shared by all summary queries. It
// filters receipt-derived rows down to successful, non-superseded extraction
// runs while keeping imported rows.
func (r *Repository) activeTransactions() string {
	return fmt.Sprintf(`
		WITH active AS (
			SELECT t.*
			FROM %s t
			LEFT JOIN %s er
			  ON t.extraction_run_id = er.extraction_run_id
			WHERE t.source != 'RECEIPT' OR er.status = 'SUCCESS'
		)
	`, r.table(transactionsTable), r.table(extractionRunsTable))
}

// Summarize returns overall income/expense totals for a date range.
func (r *Repository) Summarize(ctx context.Context, startDate, endDate time.Time) (*bq.SummaryRow, error) {
	q := r.client.Query(r.activeTransactions() + `
		SELECT
			CAST(COALESCE(SUM(IF(amount > 0, amount, 0)), 0) AS FLOAT64) AS total_income,
			CAST(COALESCE(SUM(IF(amount < 0, -amount, 0)), 0) AS FLOAT64) AS total_expenses,
			CAST(COALESCE(SUM(amount), 0) AS FLOAT64) AS net,
			COUNT(*) AS tx_count
		FROM active
		WHERE transaction_date >= @start_date
		  AND transaction_date <= @end_date
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("Summarize: query read: %w", err)
	}

	var row bq.SummaryRow
	if err := it.Next(&row); err != nil && err != iterator.Done {
		return nil, fmt.Errorf("Summarize: iter next: %w", err)
	}

	return &row, nil
}

// CategoryBreakdown returns per-category totals for a date range, largest
// absolute total first. Transactions without a category fall into the
// Uncategorized bucket.
func (r *Repository) CategoryBreakdown(ctx context.Context, startDate, endDate time.Time) ([]*bq.CategorySummaryRow, error) {
	q := r.client.Query(r.activeTransactions() + `
		SELECT
			COALESCE(category_name, 'Uncategorized') AS category_name,
			CAST(SUM(amount) AS FLOAT64) AS total,
			COUNT(*) AS tx_count
		FROM active
		WHERE transaction_date >= @start_date
		  AND transaction_date <= @end_date
		GROUP BY category_name
		ORDER BY ABS(SUM(amount)) DESC
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("CategoryBreakdown: query read: %w", err)
	}

	var rows []*bq.CategorySummaryRow
	for {
		var row bq.CategorySummaryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("CategoryBreakdown: iter next: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}

// MerchantBreakdown returns the top merchants by spend for a date range.
// Only expense rows count; income is not attributed to merchants.
func (r *Repository) MerchantBreakdown(ctx context.Context, startDate, endDate time.Time, limit int) ([]*bq.MerchantSummaryRow, error) {
	if limit <= 0 {
		limit = 10
	}

	q := r.client.Query(r.activeTransactions() + `
		SELECT
			merchant_name,
			CAST(SUM(-amount) AS FLOAT64) AS total,
			COUNT(*) AS tx_count
		FROM active
		WHERE transaction_date >= @start_date
		  AND transaction_date <= @end_date
		  AND amount < 0
		  AND merchant_name IS NOT NULL
		GROUP BY merchant_name
		ORDER BY total DESC
		LIMIT @limit
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "start_date", Value: startDate.Format(dateFormat)},
		{Name: "end_date", Value: endDate.Format(dateFormat)},
		{Name: "limit", Value: int64(limit)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("MerchantBreakdown: query read: %w", err)
	}

	var rows []*bq.MerchantSummaryRow
	for {
		var row bq.MerchantSummaryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MerchantBreakdown: iter next: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}

// MonthlyBreakdown returns per-month totals for a calendar year.
func (r *Repository) MonthlyBreakdown(ctx context.Context, year int) ([]*bq.MonthlySummaryRow, error) {
	q := r.client.Query(r.activeTransactions() + `
		SELECT
			EXTRACT(YEAR FROM transaction_date) AS year,
			EXTRACT(MONTH FROM transaction_date) AS month,
			CAST(COALESCE(SUM(IF(amount > 0, amount, 0)), 0) AS FLOAT64) AS total_income,
			CAST(COALESCE(SUM(IF(amount < 0, -amount, 0)), 0) AS FLOAT64) AS total_expenses,
			CAST(COALESCE(SUM(amount), 0) AS FLOAT64) AS net,
			COUNT(*) AS tx_count
		FROM active
		WHERE EXTRACT(YEAR FROM transaction_date) = @year
		GROUP BY year, month
		ORDER BY month
	`)
	q.Parameters = []bigquery.QueryParameter{
		{Name: "year", Value: int64(year)},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("MonthlyBreakdown: query read: %w", err)
	}

	var rows []*bq.MonthlySummaryRow
	for {
		var row bq.MonthlySummaryRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("MonthlyBreakdown: iter next: %w", err)
		}
		rows = append(rows, &row)
	}

	return rows, nil
}
