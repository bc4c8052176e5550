package notionsync

import (
	"fmt"
	"strings"
	"time"

	"github.com/jomei/notionapi"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
)

func richText(content string) []notionapi.RichText {
	return []notionapi.RichText{
		{
			Type: notionapi.ObjectTypeText,
			Text: &notionapi.Text{Content: content},
		},
	}
}

// TransactionToNotionProperties converts a BigQuery TransactionRow to Notion
// properties. The Notion transactions database uses: Description (title),
// Date, Amount, Currency, Source, Category, Subcategory, Merchant,
// Transaction ID, Imported At, Notes.
func TransactionToNotionProperties(tx *bq.TransactionRow) notionapi.Properties {
	props := notionapi.Properties{
		"Description": notionapi.TitleProperty{
			Title: richText(tx.RawDescription),
		},
		"Date": notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: func() *notionapi.Date {
					d := notionapi.Date(time.Date(
						tx.TransactionDate.Year,
						tx.TransactionDate.Month,
						tx.TransactionDate.Day,
						0, 0, 0, 0, time.UTC,
					))
					return &d
				}(),
			},
		},
		"Amount": notionapi.NumberProperty{
			Number: func() float64 {
				if tx.Amount != nil {
					f, _ := tx.Amount.Float64()
					return f
				}
				return 0
			}(),
		},
		"Currency": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: func() string {
					if tx.Currency != "" {
						return tx.Currency
					}
					return "EUR"
				}(),
			},
		},
		"Transaction ID": notionapi.RichTextProperty{
			RichText: richText(tx.TransactionID),
		},
	}

	// Source records whether the row came from a receipt or a bulk import.
	if tx.Source != "" {
		props["Source"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.Source},
		}
	}

	if tx.CategoryName.Valid && tx.CategoryName.StringVal != "" {
		props["Category"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.CategoryName.StringVal},
		}
	}

	if tx.SubcategoryName.Valid && tx.SubcategoryName.StringVal != "" {
		props["Subcategory"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: tx.SubcategoryName.StringVal},
		}
	}

	if tx.MerchantName.Valid && tx.MerchantName.StringVal != "" {
		props["Merchant"] = notionapi.RichTextProperty{
			RichText: richText(tx.MerchantName.StringVal),
		}
	}

	props["Imported At"] = notionapi.DateProperty{
		Date: &notionapi.DateObject{
			Start: (*notionapi.Date)(&tx.CreatedTS),
		},
	}

	if tx.Notes.Valid && tx.Notes.StringVal != "" {
		props["Notes"] = notionapi.RichTextProperty{
			RichText: richText(tx.Notes.StringVal),
		}
	}

	return props
}

// ReceiptToNotionProperties converts a BigQuery ReceiptRow to Notion
// properties for the receipts database: Merchant (title), Purchase Date,
// Total, Currency, Payment Method, Card Last 4, Receipt ID, Document.
func ReceiptToNotionProperties(r *bq.ReceiptRow) notionapi.Properties {
	props := notionapi.Properties{
		"Merchant": notionapi.TitleProperty{
			Title: richText(r.MerchantName),
		},
		"Total": notionapi.NumberProperty{
			Number: func() float64 {
				if r.TotalAmount != nil {
					f, _ := r.TotalAmount.Float64()
					return f
				}
				return 0
			}(),
		},
		"Currency": notionapi.SelectProperty{
			Select: notionapi.Option{
				Name: func() string {
					if r.Currency != "" {
						return r.Currency
					}
					return "EUR"
				}(),
			},
		},
		"Receipt ID": notionapi.RichTextProperty{
			RichText: richText(r.ReceiptID),
		},
	}

	if r.PurchaseDate.Valid {
		props["Purchase Date"] = notionapi.DateProperty{
			Date: &notionapi.DateObject{
				Start: func() *notionapi.Date {
					d := notionapi.Date(time.Date(
						r.PurchaseDate.Date.Year,
						r.PurchaseDate.Date.Month,
						r.PurchaseDate.Date.Day,
						0, 0, 0, 0, time.UTC,
					))
					return &d
				}(),
			},
		}
	}

	if r.PaymentMethod != "" {
		props["Payment Method"] = notionapi.SelectProperty{
			Select: notionapi.Option{Name: r.PaymentMethod},
		}
	}

	if r.CardLast4 != "" {
		props["Card Last 4"] = notionapi.RichTextProperty{
			RichText: richText(r.CardLast4),
		}
	}

	if r.DocumentID != "" {
		props["Document"] = notionapi.RichTextProperty{
			RichText: richText(r.DocumentID),
		}
	}

	return props
}

// GetNotionPageIDFromTransaction extracts the Notion page ID from the
// external_reference field. Imported rows may carry client references in the
// same field, so only "notion:" prefixed values count.
func GetNotionPageIDFromTransaction(tx *bq.TransactionRow) string {
	if tx.ExternalReference.Valid && strings.HasPrefix(tx.ExternalReference.StringVal, "notion:") {
		return extractPageID(tx.ExternalReference.StringVal)
	}
	return ""
}

// SetNotionPageIDOnTransaction creates a formatted external_reference string
// for storing a Notion page ID.
func SetNotionPageIDOnTransaction(pageID string) string {
	return fmt.Sprintf("notion:%s", pageID)
}

// extractPageID extracts the page ID from the external_reference format
// "notion:page_id".
func extractPageID(externalRef string) string {
	if strings.HasPrefix(externalRef, "notion:") {
		return strings.TrimPrefix(externalRef, "notion:")
	}
	return externalRef
}
