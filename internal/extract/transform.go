package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/osokin/receipt-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// transformModelOutput converts raw model output into a normalized receipt.
func transformModelOutput(rawOutput map[string]interface{}) (*domain.Receipt, error) {
	// Expect top-level: { "receipt": {...} }
	rAny, ok := rawOutput["receipt"]
	if !ok {
		return nil, fmt.Errorf("transformModelOutput: missing 'receipt' key in model output")
	}

	obj, ok := rAny.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("transformModelOutput: 'receipt' is %T, want map[string]interface{}", rAny)
	}

	// Required fields
	merchant, err := getStringField(obj, "merchant_name", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	dateStr, err := getStringField(obj, "purchase_date", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	currency, err := getStringField(obj, "currency", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	category, err := getStringField(obj, "category", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	total, err := getDecimalField(obj, "total", true)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}

	// Parse date string YYYY-MM-DD
	date, err := time.Parse("2006-01-02", dateStr)
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: invalid purchase_date %q: %w", dateStr, err)
	}

	// Optional fields
	timePtr, err := getOptionalStringField(obj, "purchase_time")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	var purchaseTime *time.Time
	if timePtr != nil {
		hm, err := time.Parse("15:04", *timePtr)
		if err != nil {
			return nil, fmt.Errorf("transformModelOutput: invalid purchase_time %q: %w", *timePtr, err)
		}
		t := time.Date(date.Year(), date.Month(), date.Day(), hm.Hour(), hm.Minute(), 0, 0, time.UTC)
		purchaseTime = &t
	}

	subtotal, err := getOptionalDecimalField(obj, "subtotal")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	tax, err := getOptionalDecimalField(obj, "tax")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	tip, err := getOptionalDecimalField(obj, "tip")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}

	paymentPtr, err := getOptionalStringField(obj, "payment_method")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	payment := ""
	if paymentPtr != nil {
		payment = strings.ToUpper(*paymentPtr)
	}

	last4Ptr, err := getOptionalStringField(obj, "card_last4")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	last4 := ""
	if last4Ptr != nil {
		last4 = *last4Ptr
	}

	subcategoryPtr, err := getOptionalStringField(obj, "subcategory")
	if err != nil {
		return nil, fmt.Errorf("transformModelOutput: %w", err)
	}
	subcategory := ""
	if subcategoryPtr != nil {
		subcategory = *subcategoryPtr
	}

	receipt := &domain.Receipt{
		MerchantName:  merchant,
		PurchaseDate:  date,
		PurchaseTime:  purchaseTime,
		Currency:      strings.ToUpper(currency),
		Total:         total,
		Subtotal:      subtotal,
		Tax:           tax,
		Tip:           tip,
		PaymentMethod: payment,
		CardLast4:     last4,
		Category:      category,
		Subcategory:   subcategory,
	}

	items, err := transformLineItems(obj)
	if err != nil {
		return nil, err
	}
	receipt.LineItems = items

	return receipt, nil
}

func transformLineItems(obj map[string]interface{}) ([]domain.LineItem, error) {
	liAny, ok := obj["line_items"]
	if !ok || liAny == nil {
		return nil, nil
	}

	liSlice, ok := liAny.([]interface{})
	if !ok {
		return nil, fmt.Errorf("transformLineItems: 'line_items' is %T, want []interface{}", liAny)
	}

	result := make([]domain.LineItem, 0, len(liSlice))

	for i, item := range liSlice {
		m, ok := item.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transformLineItems: element %d is %T, want map[string]interface{}", i, item)
		}

		desc, err := getStringField(m, "description", true)
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		category, err := getStringField(m, "category", true)
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		subcategoryPtr, err := getOptionalStringField(m, "subcategory")
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		subcategory := ""
		if subcategoryPtr != nil {
			subcategory = *subcategoryPtr
		}

		quantity, err := getOptionalDecimalField(m, "quantity")
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		unitPrice, err := getOptionalDecimalField(m, "unit_price")
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}
		totalPrice, err := getOptionalDecimalField(m, "total_price")
		if err != nil {
			return nil, fmt.Errorf("line item %d: %w", i, err)
		}

		result = append(result, domain.LineItem{
			Description: desc,
			Quantity:    quantity,
			UnitPrice:   unitPrice,
			TotalPrice:  totalPrice,
			Category:    category,
			Subcategory: subcategory,
		})
	}

	return result, nil
}

func getStringField(m map[string]interface{}, key string, required bool) (string, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return "", fmt.Errorf("missing required field %q", key)
		}
		return "", nil
	}
	switch val := v.(type) {
	case string:
		if required && strings.TrimSpace(val) == "" {
			return "", fmt.Errorf("required field %q is empty", key)
		}
		return val, nil
	default:
		return "", fmt.Errorf("field %q has type %T, want string", key, v)
	}
}

func getOptionalStringField(m map[string]interface{}, key string) (*string, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		return &s, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want string or null", key, v)
	}
}

func getDecimalField(m map[string]interface{}, key string, required bool) (decimal.Decimal, error) {
	v, ok := m[key]
	if !ok {
		if required {
			return decimal.Zero, fmt.Errorf("missing required field %q", key)
		}
		return decimal.Zero, nil
	}
	switch val := v.(type) {
	case float64:
		return decimal.NewFromFloat(val), nil
	case string: // some models quote numbers; tolerate it
		d, err := decimal.NewFromString(strings.TrimSpace(val))
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q is not a valid number: %w", key, err)
		}
		return d, nil
	default:
		return decimal.Zero, fmt.Errorf("field %q has type %T, want number", key, v)
	}
}

func getOptionalDecimalField(m map[string]interface{}, key string) (*decimal.Decimal, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch val := v.(type) {
	case float64:
		d := decimal.NewFromFloat(val)
		return &d, nil
	case string:
		s := strings.TrimSpace(val)
		if s == "" {
			return nil, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return nil, fmt.Errorf("field %q is not a valid number: %w", key, err)
		}
		return &d, nil
	default:
		return nil, fmt.Errorf("field %q has type %T, want number or null", key, v)
	}
}
