package extract

import (
	"context"
	"testing"

	bigquerylib "cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// mockCategoryRepository is a mock for testing category validation
type mockCategoryRepository struct {
	categories []bq.CategoryRow
}

func (m *mockCategoryRepository) ListActiveCategories(ctx context.Context) ([]bq.CategoryRow, error) {
	return m.categories, nil
}

func testCategories() []bq.CategoryRow {
	return []bq.CategoryRow{
		{CategoryID: "cat1", CategoryName: "Groceries", SubcategoryName: bigquerylib.NullString{StringVal: "Supermarket", Valid: true}},
		{CategoryID: "cat2", CategoryName: "Groceries", SubcategoryName: bigquerylib.NullString{StringVal: "Bakery", Valid: true}},
		{CategoryID: "cat3", CategoryName: "Dining", SubcategoryName: bigquerylib.NullString{StringVal: "Restaurants", Valid: true}},
		{CategoryID: "cat4", CategoryName: "Transportation"},
		{CategoryID: "cat5", CategoryName: "Uncategorized"},
	}
}

func TestCategoryValidator_ValidateCategory(t *testing.T) {
	repo := &mockCategoryRepository{categories: testCategories()}
	validator, err := NewCategoryValidator(context.Background(), repo)
	if err != nil {
		t.Fatalf("NewCategoryValidator failed: %v", err)
	}

	tests := []struct {
		name        string
		category    string
		subcategory string
		wantErr     bool
	}{
		{
			name:        "valid category and subcategory",
			category:    "Groceries",
			subcategory: "Supermarket",
			wantErr:     false,
		},
		{
			name:        "valid with different case",
			category:    "groceries",
			subcategory: "bakery",
			wantErr:     false,
		},
		{
			name:        "valid with extra spaces",
			category:    "  Dining  ",
			subcategory: "  Restaurants  ",
			wantErr:     false,
		},
		{
			name:        "empty subcategory always accepted",
			category:    "Groceries",
			subcategory: "",
			wantErr:     false,
		},
		{
			name:        "category with no subcategories",
			category:    "Transportation",
			subcategory: "",
			wantErr:     false,
		},
		{
			name:        "invalid category",
			category:    "INVALID",
			subcategory: "",
			wantErr:     true,
		},
		{
			name:        "subcategory from another category",
			category:    "Dining",
			subcategory: "Supermarket",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validator.ValidateCategory(tt.category, tt.subcategory)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCategory() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCategoryValidator_ApplyTaxonomy(t *testing.T) {
	repo := &mockCategoryRepository{categories: testCategories()}
	validator, err := NewCategoryValidator(context.Background(), repo)
	if err != nil {
		t.Fatalf("NewCategoryValidator failed: %v", err)
	}

	r := &domain.Receipt{
		Category:    "Made Up",
		Subcategory: "Nope",
		LineItems: []domain.LineItem{
			{Description: "bread", Category: "Groceries", Subcategory: "Bakery"},
			{Description: "mystery", Category: "Unknown", Subcategory: ""},
		},
	}

	warnings := validator.ApplyTaxonomy(r)

	if len(warnings) != 2 {
		t.Fatalf("ApplyTaxonomy returned %d warnings, want 2: %v", len(warnings), warnings)
	}
	if r.Category != FallbackCategory {
		t.Errorf("receipt category = %q, want %q", r.Category, FallbackCategory)
	}
	if r.Subcategory != "" {
		t.Errorf("receipt subcategory = %q, want empty", r.Subcategory)
	}
	if r.LineItems[0].Category != "Groceries" {
		t.Errorf("valid line item category changed to %q", r.LineItems[0].Category)
	}
	if r.LineItems[1].Category != FallbackCategory {
		t.Errorf("invalid line item category = %q, want %q", r.LineItems[1].Category, FallbackCategory)
	}
}

func TestReconcileTotals(t *testing.T) {
	dec := func(s string) *decimal.Decimal {
		d, err := decimal.NewFromString(s)
		if err != nil {
			t.Fatalf("bad decimal %q: %v", s, err)
		}
		return &d
	}

	tests := []struct {
		name         string
		total        string
		itemTotals   []string
		wantWarnings int
	}{
		{
			name:         "exact match",
			total:        "12.50",
			itemTotals:   []string{"10.00", "2.50"},
			wantWarnings: 0,
		},
		{
			name:         "within tolerance",
			total:        "12.50",
			itemTotals:   []string{"10.00", "2.49"},
			wantWarnings: 0,
		},
		{
			name:         "mismatch beyond tolerance",
			total:        "12.50",
			itemTotals:   []string{"10.00"},
			wantWarnings: 1,
		},
		{
			name:         "discount line item",
			total:        "8.00",
			itemTotals:   []string{"10.00", "-2.00"},
			wantWarnings: 0,
		},
		{
			name:         "no line items",
			total:        "12.50",
			itemTotals:   nil,
			wantWarnings: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &domain.Receipt{Total: *dec(tt.total)}
			for _, it := range tt.itemTotals {
				r.LineItems = append(r.LineItems, domain.LineItem{TotalPrice: dec(it)})
			}

			warnings := reconcileTotals(r)
			if len(warnings) != tt.wantWarnings {
				t.Errorf("reconcileTotals() = %v, want %d warnings", warnings, tt.wantWarnings)
			}
		})
	}
}

func TestReconcileTotals_UnpricedItemsSkipped(t *testing.T) {
	r := &domain.Receipt{
		Total: decimal.NewFromInt(5),
		LineItems: []domain.LineItem{
			{Description: "no price"},
		},
	}

	if warnings := reconcileTotals(r); len(warnings) != 0 {
		t.Errorf("reconcileTotals() = %v, want none when no items carry totals", warnings)
	}
}

func TestNormalizeCategory(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Groceries", "GROCERIES"},
		{"groceries", "GROCERIES"},
		{"  Dining  ", "DINING"},
		{"TrAnSpOrT", "TRANSPORT"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := normalizeCategory(tt.input)
			if got != tt.want {
				t.Errorf("normalizeCategory(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
