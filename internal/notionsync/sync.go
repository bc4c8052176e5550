package notionsync

import (
	"context"
	"fmt"
	"time"

	"github.com/jomei/notionapi"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/logger"
)

const (
	// BatchSize defines the number of transactions to process in a single batch
	BatchSize = 100
)

// SyncTransactions syncs transactions from BigQuery to Notion within the
// specified date range. It queries BigQuery, deletes stale Notion pages, and
// creates pages for transactions not yet mirrored. The external_reference
// field on transactions is used to track Notion page IDs for idempotency.
func SyncTransactions(ctx context.Context, repo bq.TransactionRepository, notionClient NotionService, notionDBID string, startDate, endDate time.Time, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Time("start_date", startDate).
		Time("end_date", endDate).
		Bool("dry_run", dryRun).
		Msg("Starting transaction sync to Notion")

	// Receipt-derived rows from superseded or failed runs are already
	// filtered out by the query.
	transactions, err := repo.QueryTransactions(ctx, bq.TransactionFilter{
		StartDate: startDate,
		EndDate:   endDate,
	})
	if err != nil {
		return fmt.Errorf("failed to query transactions: %w", err)
	}

	log.Info().Int("transaction_count", len(transactions)).Msg("Retrieved transactions from BigQuery")

	validTransactionIDs := make(map[string]bool)
	for _, tx := range transactions {
		validTransactionIDs[tx.TransactionID] = true
	}

	log.Info().Msg("Querying existing transactions from Notion")
	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("failed to query Notion pages: %w", err)
	}

	log.Info().Int("notion_page_count", len(notionPages)).Msg("Retrieved existing Notion pages")

	existingTransactionIDs := make(map[string]bool)
	for _, page := range notionPages {
		txID := extractRichTextProperty(page, "Transaction ID")
		if txID != "" {
			existingTransactionIDs[txID] = true
		}
	}

	// Delete stale pages: those without a Transaction ID or whose
	// transaction dropped out of the active set.
	deleted := deleteStalePages(ctx, notionClient, notionPages, dryRun, func(page notionapi.Page) (string, bool) {
		txID := extractRichTextProperty(page, "Transaction ID")
		return txID, txID != "" && validTransactionIDs[txID]
	})

	var created, updated, skipped int
	for i := 0; i < len(transactions); i += BatchSize {
		end := i + BatchSize
		if end > len(transactions) {
			end = len(transactions)
		}

		for _, tx := range transactions[i:end] {
			if existingTransactionIDs[tx.TransactionID] {
				skipped++
				continue
			}

			existingPageID := GetNotionPageIDFromTransaction(tx)

			if dryRun {
				if existingPageID != "" {
					updated++
				} else {
					created++
				}
				log.Info().
					Str("transaction_id", tx.TransactionID).
					Msg("[DRY RUN] Would sync transaction to Notion")
				continue
			}

			props := TransactionToNotionProperties(tx)

			if existingPageID != "" {
				if _, err := notionClient.UpdatePage(ctx, existingPageID, props); err != nil {
					log.Warn().
						Err(err).
						Str("transaction_id", tx.TransactionID).
						Str("page_id", existingPageID).
						Msg("Failed to update Notion page")
					continue
				}
				updated++
			} else {
				page, err := notionClient.CreatePage(ctx, notionDBID, props)
				if err != nil {
					log.Warn().
						Err(err).
						Str("transaction_id", tx.TransactionID).
						Msg("Failed to create Notion page")
					continue
				}

				// Record the page on the transaction so the next sync
				// updates instead of recreating.
				ref := SetNotionPageIDOnTransaction(string(page.ID))
				if err := repo.UpdateTransactionExternalReference(ctx, tx.TransactionID, ref); err != nil {
					log.Warn().
						Err(err).
						Str("transaction_id", tx.TransactionID).
						Str("page_id", string(page.ID)).
						Msg("Failed to record Notion page reference")
				}

				log.Debug().
					Str("transaction_id", tx.TransactionID).
					Str("page_id", string(page.ID)).
					Msg("Created Notion page")
				created++
			}
		}
	}

	log.Info().
		Int("deleted", deleted).
		Int("created", created).
		Int("updated", updated).
		Int("skipped", skipped).
		Int("total", len(transactions)).
		Msg("Transaction sync completed")

	return nil
}

// SyncReceipts mirrors extracted receipts to a Notion database. Receipts are
// created once and never updated; a re-extraction produces a new receipt row
// and the stale page is deleted on the next sync.
func SyncReceipts(ctx context.Context, documents bq.DocumentRepository, receipts bq.ReceiptRepository, notionClient NotionService, notionDBID string, dryRun bool) error {
	log := logger.FromContext(ctx)

	log.Info().
		Bool("dry_run", dryRun).
		Msg("Starting receipts sync to Notion")

	docs, err := documents.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %w", err)
	}

	// Collect the current receipt per document. Old extractions do not
	// surface here, so their pages age out as stale.
	var current []*bq.ReceiptRow
	validReceiptIDs := make(map[string]bool)
	for _, doc := range docs {
		receipt, err := receipts.GetReceiptByDocument(ctx, doc.DocumentID)
		if err != nil {
			return fmt.Errorf("failed to get receipt for document %s: %w", doc.DocumentID, err)
		}
		if receipt == nil {
			continue
		}
		current = append(current, receipt)
		validReceiptIDs[receipt.ReceiptID] = true
	}

	log.Info().Int("receipt_count", len(current)).Msg("Retrieved receipts from BigQuery")

	notionPages, err := queryAllNotionPages(ctx, notionClient, notionDBID)
	if err != nil {
		return fmt.Errorf("failed to query Notion pages: %w", err)
	}

	existingReceiptIDs := make(map[string]bool)
	for _, page := range notionPages {
		id := extractRichTextProperty(page, "Receipt ID")
		if id != "" {
			existingReceiptIDs[id] = true
		}
	}

	deleted := deleteStalePages(ctx, notionClient, notionPages, dryRun, func(page notionapi.Page) (string, bool) {
		id := extractRichTextProperty(page, "Receipt ID")
		return id, id != "" && validReceiptIDs[id]
	})

	var created, skipped int
	for _, receipt := range current {
		if existingReceiptIDs[receipt.ReceiptID] {
			skipped++
			continue
		}

		if dryRun {
			log.Info().
				Str("receipt_id", receipt.ReceiptID).
				Msg("[DRY RUN] Would create Notion page for receipt")
			created++
			continue
		}

		page, err := notionClient.CreatePage(ctx, notionDBID, ReceiptToNotionProperties(receipt))
		if err != nil {
			log.Warn().
				Err(err).
				Str("receipt_id", receipt.ReceiptID).
				Msg("Failed to create Notion page for receipt")
			continue
		}

		log.Debug().
			Str("receipt_id", receipt.ReceiptID).
			Str("page_id", string(page.ID)).
			Msg("Created Notion page for receipt")
		created++
	}

	log.Info().
		Int("deleted", deleted).
		Int("created", created).
		Int("skipped", skipped).
		Int("total", len(current)).
		Msg("Receipts sync completed")

	return nil
}

// deleteStalePages archives pages whose identity is either missing or no
// longer part of the valid set. identify returns the page's entity ID and
// whether it is still valid.
func deleteStalePages(ctx context.Context, notionClient NotionService, pages []notionapi.Page, dryRun bool, identify func(notionapi.Page) (string, bool)) int {
	log := logger.FromContext(ctx)

	var deleted int
	for _, page := range pages {
		id, valid := identify(page)
		if valid {
			continue
		}

		if dryRun {
			log.Info().
				Str("entity_id", id).
				Str("page_id", string(page.ID)).
				Msg("[DRY RUN] Would delete stale Notion page")
			deleted++
			continue
		}

		if err := notionClient.DeletePage(ctx, string(page.ID)); err != nil {
			log.Warn().
				Err(err).
				Str("entity_id", id).
				Str("page_id", string(page.ID)).
				Msg("Failed to delete stale Notion page")
			continue
		}
		deleted++
	}

	return deleted
}

// queryAllNotionPages queries all pages from a Notion database and returns them.
// Handles pagination automatically.
func queryAllNotionPages(ctx context.Context, notionClient NotionService, databaseID string) ([]notionapi.Page, error) {
	var allPages []notionapi.Page
	var cursor notionapi.Cursor

	for {
		req := &notionapi.DatabaseQueryRequest{
			PageSize: 100,
		}

		// Only set StartCursor if we have a cursor value
		if cursor != "" {
			req.StartCursor = cursor
		}

		resp, err := notionClient.QueryDatabase(ctx, databaseID, req)
		if err != nil {
			return nil, fmt.Errorf("queryAllNotionPages: %w", err)
		}

		allPages = append(allPages, resp.Results...)

		if !resp.HasMore {
			break
		}
		cursor = resp.NextCursor
	}

	return allPages, nil
}

// extractRichTextProperty reads a rich text property's first fragment from a
// Notion page. Returns empty string if not found.
func extractRichTextProperty(page notionapi.Page, name string) string {
	if prop, ok := page.Properties[name]; ok {
		if richTextProp, ok := prop.(*notionapi.RichTextProperty); ok {
			if len(richTextProp.RichText) > 0 {
				return richTextProp.RichText[0].PlainText
			}
		}
	}
	return ""
}
