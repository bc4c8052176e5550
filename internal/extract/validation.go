package extract

import (
	"context"
	"fmt"
	"strings"

	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// reconcileTolerance is the maximum absolute gap allowed between the stated
// total and the sum of line item totals before reconciliation is reported.
var reconcileTolerance = decimal.NewFromFloat(0.01)

// CategoryValidator validates receipt categories against the taxonomy.
type CategoryValidator struct {
	categories    map[string]bool            // Set of valid category names
	subcategories map[string]map[string]bool // Map of category -> set of valid subcategories
}

// NewCategoryValidator creates a validator from the categories taxonomy.
func NewCategoryValidator(ctx context.Context, repo bq.CategoryRepository) (*CategoryValidator, error) {
	rows, err := repo.ListActiveCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewCategoryValidator: list categories: %w", err)
	}
	return newCategoryValidatorFromRows(rows), nil
}

func newCategoryValidatorFromRows(rows []bq.CategoryRow) *CategoryValidator {
	validator := &CategoryValidator{
		categories:    make(map[string]bool),
		subcategories: make(map[string]map[string]bool),
	}

	// Build lookup maps. Each taxonomy row carries a category name and an
	// optional subcategory name.
	for _, row := range rows {
		normCat := normalizeCategory(row.CategoryName)
		validator.categories[normCat] = true
		if validator.subcategories[normCat] == nil {
			validator.subcategories[normCat] = make(map[string]bool)
		}
		if row.SubcategoryName.Valid && row.SubcategoryName.StringVal != "" {
			validator.subcategories[normCat][normalizeCategory(row.SubcategoryName.StringVal)] = true
		}
	}

	return validator
}

// ValidateCategory checks if a category and subcategory are valid.
// Returns nil if valid, error if invalid. An empty subcategory is always
// accepted so a merchant-level category can stand alone.
func (v *CategoryValidator) ValidateCategory(category, subcategory string) error {
	normCat := normalizeCategory(category)
	normSubcat := normalizeCategory(subcategory)

	if !v.categories[normCat] {
		return fmt.Errorf("invalid category: %q (normalized: %q)", category, normCat)
	}

	if normSubcat == "" {
		return nil
	}

	if subcats, ok := v.subcategories[normCat]; ok {
		if !subcats[normSubcat] {
			validSubs := make([]string, 0, len(subcats))
			for s := range subcats {
				validSubs = append(validSubs, s)
			}
			return fmt.Errorf("invalid subcategory %q for category %q. Valid subcategories: %v",
				subcategory, category, validSubs)
		}
	}

	return nil
}

// ApplyTaxonomy validates the receipt-level and line-item categories and
// replaces invalid assignments with the fallback category. It returns one
// warning string per replaced assignment.
func (v *CategoryValidator) ApplyTaxonomy(r *domain.Receipt) []string {
	var warnings []string

	if err := v.ValidateCategory(r.Category, r.Subcategory); err != nil {
		warnings = append(warnings, fmt.Sprintf("receipt category: %v", err))
		r.Category = FallbackCategory
		r.Subcategory = ""
	}

	for i := range r.LineItems {
		item := &r.LineItems[i]
		if err := v.ValidateCategory(item.Category, item.Subcategory); err != nil {
			warnings = append(warnings, fmt.Sprintf("line item %d: %v", i, err))
			item.Category = FallbackCategory
			item.Subcategory = ""
		}
	}

	return warnings
}

// reconcileTotals compares the stated receipt total against the sum of line
// item totals. A mismatch beyond the tolerance is reported as a warning, not
// an error, because receipts often omit rounding lines or fees.
func reconcileTotals(r *domain.Receipt) []string {
	if len(r.LineItems) == 0 {
		return nil
	}

	sum := decimal.Zero
	counted := 0
	for _, item := range r.LineItems {
		if item.TotalPrice == nil {
			continue
		}
		sum = sum.Add(*item.TotalPrice)
		counted++
	}

	// No priced line items means there is nothing to reconcile against.
	if counted == 0 {
		return nil
	}

	diff := r.Total.Sub(sum).Abs()
	if diff.GreaterThan(reconcileTolerance) {
		return []string{fmt.Sprintf(
			"total %s does not match line item sum %s (diff %s)",
			r.Total.StringFixed(2), sum.StringFixed(2), diff.StringFixed(2))}
	}

	return nil
}

// normalizeCategory normalizes a category name for comparison.
// Converts to uppercase and trims whitespace for case-insensitive comparison.
func normalizeCategory(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}
