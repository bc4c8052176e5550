package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Receipt is one normalized receipt produced by the extraction model.
// This is a domain struct, not a BigQuery row; the persistence layer maps it
// into the receipts table schema.
type Receipt struct {
	MerchantName string     // from "merchant_name"
	PurchaseDate time.Time  // parsed from "purchase_date" (YYYY-MM-DD)
	PurchaseTime *time.Time // parsed from "purchase_time" (HH:MM) or nil

	Currency string // from "currency", uppercased

	Total    decimal.Decimal  // from "total"
	Subtotal *decimal.Decimal // from "subtotal" or nil
	Tax      *decimal.Decimal // from "tax" or nil
	Tip      *decimal.Decimal // from "tip" or nil

	PaymentMethod string // from "payment_method" ("CARD", "CASH", ...)
	CardLast4     string // from "card_last4"

	Category    string // merchant-level category
	Subcategory string

	LineItems []LineItem
}

// LineItem is a single purchased item on a receipt.
type LineItem struct {
	Description string
	Quantity    *decimal.Decimal
	UnitPrice   *decimal.Decimal
	TotalPrice  *decimal.Decimal

	Category    string
	Subcategory string
}
