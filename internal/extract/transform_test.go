package extract

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func rawReceipt(t *testing.T, body string) map[string]interface{} {
	t.Helper()
	var parsed interface{}
	if err := json.Unmarshal([]byte(body), &parsed); err != nil {
		t.Fatalf("bad test JSON: %v", err)
	}
	return map[string]interface{}{"receipt": parsed}
}

func TestTransformModelOutput(t *testing.T) {
	raw := rawReceipt(t, `{
		"merchant_name": "REWE Markt",
		"purchase_date": "2025-11-03",
		"purchase_time": "18:42",
		"currency": "eur",
		"total": 23.97,
		"subtotal": 22.40,
		"tax": 1.57,
		"tip": null,
		"payment_method": "card",
		"card_last4": "4821",
		"category": "Groceries",
		"subcategory": "Supermarket",
		"line_items": [
			{"description": "Milk 1L", "quantity": 2, "unit_price": 1.19, "total_price": 2.38, "category": "Groceries", "subcategory": "Supermarket"},
			{"description": "Deposit refund", "quantity": null, "unit_price": null, "total_price": -0.25, "category": "Groceries", "subcategory": ""}
		]
	}`)

	r, err := transformModelOutput(raw)
	if err != nil {
		t.Fatalf("transformModelOutput failed: %v", err)
	}

	if r.MerchantName != "REWE Markt" {
		t.Errorf("MerchantName = %q", r.MerchantName)
	}
	wantDate := time.Date(2025, 11, 3, 0, 0, 0, 0, time.UTC)
	if !r.PurchaseDate.Equal(wantDate) {
		t.Errorf("PurchaseDate = %v, want %v", r.PurchaseDate, wantDate)
	}
	if r.PurchaseTime == nil {
		t.Fatal("PurchaseTime is nil")
	}
	if r.PurchaseTime.Hour() != 18 || r.PurchaseTime.Minute() != 42 {
		t.Errorf("PurchaseTime = %v, want 18:42", r.PurchaseTime)
	}
	if r.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR (uppercased)", r.Currency)
	}
	if r.Total.StringFixed(2) != "23.97" {
		t.Errorf("Total = %s, want 23.97", r.Total)
	}
	if r.Subtotal == nil || r.Subtotal.StringFixed(2) != "22.40" {
		t.Errorf("Subtotal = %v, want 22.40", r.Subtotal)
	}
	if r.Tip != nil {
		t.Errorf("Tip = %v, want nil", r.Tip)
	}
	if r.PaymentMethod != "CARD" {
		t.Errorf("PaymentMethod = %q, want CARD (uppercased)", r.PaymentMethod)
	}
	if r.CardLast4 != "4821" {
		t.Errorf("CardLast4 = %q", r.CardLast4)
	}

	if len(r.LineItems) != 2 {
		t.Fatalf("got %d line items, want 2", len(r.LineItems))
	}
	first := r.LineItems[0]
	if first.Description != "Milk 1L" {
		t.Errorf("line 0 description = %q", first.Description)
	}
	if first.Quantity == nil || first.Quantity.StringFixed(0) != "2" {
		t.Errorf("line 0 quantity = %v, want 2", first.Quantity)
	}
	second := r.LineItems[1]
	if second.TotalPrice == nil || second.TotalPrice.StringFixed(2) != "-0.25" {
		t.Errorf("line 1 total_price = %v, want -0.25", second.TotalPrice)
	}
	if second.Quantity != nil {
		t.Errorf("line 1 quantity = %v, want nil", second.Quantity)
	}
}

func TestTransformModelOutput_NoLineItems(t *testing.T) {
	raw := rawReceipt(t, `{
		"merchant_name": "Parking Garage",
		"purchase_date": "2025-11-03",
		"purchase_time": null,
		"currency": "EUR",
		"total": 4.50,
		"category": "Transportation",
		"line_items": []
	}`)

	r, err := transformModelOutput(raw)
	if err != nil {
		t.Fatalf("transformModelOutput failed: %v", err)
	}
	if r.PurchaseTime != nil {
		t.Errorf("PurchaseTime = %v, want nil", r.PurchaseTime)
	}
	if len(r.LineItems) != 0 {
		t.Errorf("got %d line items, want 0", len(r.LineItems))
	}
}

func TestTransformModelOutput_QuotedNumbers(t *testing.T) {
	raw := rawReceipt(t, `{
		"merchant_name": "Kiosk",
		"purchase_date": "2025-11-03",
		"currency": "EUR",
		"total": "3.20",
		"category": "Groceries"
	}`)

	r, err := transformModelOutput(raw)
	if err != nil {
		t.Fatalf("transformModelOutput failed: %v", err)
	}
	if r.Total.StringFixed(2) != "3.20" {
		t.Errorf("Total = %s, want 3.20", r.Total)
	}
}

func TestTransformModelOutput_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantSub string
	}{
		{
			name:    "missing merchant",
			body:    `{"purchase_date": "2025-11-03", "currency": "EUR", "total": 1, "category": "Groceries"}`,
			wantSub: "merchant_name",
		},
		{
			name:    "missing total",
			body:    `{"merchant_name": "X", "purchase_date": "2025-11-03", "currency": "EUR", "category": "Groceries"}`,
			wantSub: "total",
		},
		{
			name:    "bad date",
			body:    `{"merchant_name": "X", "purchase_date": "03.11.2025", "currency": "EUR", "total": 1, "category": "Groceries"}`,
			wantSub: "purchase_date",
		},
		{
			name:    "bad time",
			body:    `{"merchant_name": "X", "purchase_date": "2025-11-03", "purchase_time": "6pm", "currency": "EUR", "total": 1, "category": "Groceries"}`,
			wantSub: "purchase_time",
		},
		{
			name:    "total wrong type",
			body:    `{"merchant_name": "X", "purchase_date": "2025-11-03", "currency": "EUR", "total": true, "category": "Groceries"}`,
			wantSub: "total",
		},
		{
			name:    "line item missing description",
			body:    `{"merchant_name": "X", "purchase_date": "2025-11-03", "currency": "EUR", "total": 1, "category": "Groceries", "line_items": [{"category": "Groceries"}]}`,
			wantSub: "description",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := transformModelOutput(rawReceipt(t, tt.body))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantSub) {
				t.Errorf("error %q does not mention %q", err, tt.wantSub)
			}
		})
	}
}

func TestTransformModelOutput_MissingReceiptKey(t *testing.T) {
	_, err := transformModelOutput(map[string]interface{}{"transactions": []interface{}{}})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestCleanModelJSON(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain JSON untouched",
			input: `{"a": 1}`,
			want:  `{"a": 1}`,
		},
		{
			name:  "json fence",
			input: "```json\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "bare fence",
			input: "```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "leading prose",
			input: "Here is the receipt:\n{\"a\": 1}",
			want:  `{"a": 1}`,
		},
		{
			name:  "surrounding whitespace",
			input: "\n\n  {\"a\": 1}  \n",
			want:  `{"a": 1}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cleanModelJSON(tt.input)
			if got != tt.want {
				t.Errorf("cleanModelJSON(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
