package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bigquerylib "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/osokin/receipt-ledger/internal/api/middleware"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/extract"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// maxImportRows caps one bulk import call.
const maxImportRows = 1000

// TransactionsHandler handles transaction listing and bulk import.
type TransactionsHandler struct {
	transactions bq.TransactionRepository
	imports      bq.ImportRepository
	categories   bq.CategoryRepository
	log          zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(
	transactions bq.TransactionRepository,
	imports bq.ImportRepository,
	categories bq.CategoryRepository,
	log zerolog.Logger,
) *TransactionsHandler {
	return &TransactionsHandler{
		transactions: transactions,
		imports:      imports,
		categories:   categories,
		log:          log,
	}
}

// List handles GET /api/transactions
func (h *TransactionsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseTransactionFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	transactions, err := h.transactions.QueryTransactions(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to query transactions")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to query transactions")
		return
	}

	if transactions == nil {
		transactions = []*bq.TransactionRow{}
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": transactions,
		"count":        len(transactions),
	})
}

// importTransaction is one row of a bulk import request. Amount stays raw
// so a malformed value rejects that row alone, not the whole body.
type importTransaction struct {
	Date        string          `json:"date"`
	Description string          `json:"description"`
	Amount      json.RawMessage `json:"amount"`
	Currency    string          `json:"currency"`

	Category    string `json:"category,omitempty"`
	Subcategory string `json:"subcategory,omitempty"`

	MerchantName      string   `json:"merchant_name,omitempty"`
	ExternalReference string   `json:"external_reference,omitempty"`
	Tags              []string `json:"tags,omitempty"`
	Notes             string   `json:"notes,omitempty"`
}

// importRequest is the body of POST /api/transactions/import.
type importRequest struct {
	Source       string              `json:"source,omitempty"`
	Transactions []importTransaction `json:"transactions"`
}

// Import handles POST /api/transactions/import. Rows are validated
// individually; valid rows are inserted and invalid ones reported back,
// so one bad row does not sink the batch.
func (h *TransactionsHandler) Import(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req importRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if len(req.Transactions) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "No transactions to import")
		return
	}
	if len(req.Transactions) > maxImportRows {
		middleware.WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("Too many transactions in one batch (max %d)", maxImportRows))
		return
	}

	validator, err := extract.NewCategoryValidator(ctx, h.categories)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to load category taxonomy")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to load category taxonomy")
		return
	}

	batchID := uuid.NewString()
	now := time.Now()

	var rows []*bq.TransactionRow
	var rowErrors []string

	for i, in := range req.Transactions {
		row, err := buildImportedRow(in, batchID, now, validator)
		if err != nil {
			rowErrors = append(rowErrors, fmt.Sprintf("row %d: %v", i, err))
			continue
		}
		rows = append(rows, row)
	}

	if len(rows) > 0 {
		if err := h.transactions.InsertTransactions(ctx, rows); err != nil {
			h.log.Error().Err(err).Msg("Failed to insert imported transactions")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to insert transactions")
			return
		}
	}

	batch := &bq.ImportBatchRow{
		ImportBatchID:  batchID,
		UserID:         extract.DefaultUserID,
		SourceLabel:    req.Source,
		SubmittedCount: int64(len(req.Transactions)),
		ImportedCount:  int64(len(rows)),
		RejectedCount:  int64(len(rowErrors)),
		CreatedTS:      now,
	}
	if err := h.imports.InsertImportBatch(ctx, batch); err != nil {
		// The transactions are already in; losing the audit row is worth a
		// log line, not a failed response.
		h.log.Error().Err(err).Str("import_batch_id", batchID).Msg("Failed to record import batch")
	}

	h.log.Info().
		Str("import_batch_id", batchID).
		Int("imported", len(rows)).
		Int("rejected", len(rowErrors)).
		Msg("Bulk import completed")

	status := http.StatusCreated
	if len(rows) == 0 {
		status = http.StatusBadRequest
	}
	middleware.WriteJSON(w, status, map[string]interface{}{
		"import_batch_id": batchID,
		"submitted":       len(req.Transactions),
		"imported":        len(rows),
		"rejected":        len(rowErrors),
		"errors":          rowErrors,
	})
}

// ListImports handles GET /api/imports
func (h *TransactionsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	batches, err := h.imports.ListImportBatches(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list import batches")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list import batches")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"imports": batches,
		"count":   len(batches),
	})
}

// buildImportedRow validates one import row and converts it to a
// TransactionRow. An unknown category falls back to Uncategorized rather
// than rejecting the row, matching extraction behavior.
func buildImportedRow(in importTransaction, batchID string, now time.Time, validator *extract.CategoryValidator) (*bq.TransactionRow, error) {
	if strings.TrimSpace(in.Description) == "" {
		return nil, fmt.Errorf("description is required")
	}

	date, err := time.Parse("2006-01-02", in.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", in.Date)
	}

	amount, err := parseImportAmount(in.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("amount must be non-zero")
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if len(currency) != 3 {
		return nil, fmt.Errorf("invalid currency %q, want 3-letter code", in.Currency)
	}

	category := in.Category
	subcategory := in.Subcategory
	if category != "" {
		if err := validator.ValidateCategory(category, subcategory); err != nil {
			category = extract.FallbackCategory
			subcategory = ""
		}
	}

	return &bq.TransactionRow{
		TransactionID:     uuid.NewString(),
		UserID:            extract.DefaultUserID,
		ImportBatchID:     bigquerylib.NullString{StringVal: batchID, Valid: true},
		Source:            "IMPORT",
		TransactionDate:   civil.DateOf(date),
		Amount:            amount.Rat(),
		Currency:          currency,
		RawDescription:    in.Description,
		CategoryName:      bigquerylib.NullString{StringVal: category, Valid: category != ""},
		SubcategoryName:   bigquerylib.NullString{StringVal: subcategory, Valid: subcategory != ""},
		MerchantName:      bigquerylib.NullString{StringVal: in.MerchantName, Valid: in.MerchantName != ""},
		ExternalReference: bigquerylib.NullString{StringVal: in.ExternalReference, Valid: in.ExternalReference != ""},
		Tags:              in.Tags,
		Notes:             bigquerylib.NullString{StringVal: in.Notes, Valid: in.Notes != ""},
		CreatedTS:         now,
	}, nil
}

// parseImportAmount parses an amount given either as a JSON number or as a
// quoted numeric string.
func parseImportAmount(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Decimal{}, fmt.Errorf("amount is required")
	}
	s = strings.Trim(s, `"`)

	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

// parseTransactionFilter reads the query-string filters for GET /api/transactions.
func parseTransactionFilter(r *http.Request) (bq.TransactionFilter, error) {
	query := r.URL.Query()
	filter := bq.TransactionFilter{
		Category: query.Get("category"),
		Merchant: query.Get("merchant"),
	}

	if s := query.Get("start_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return filter, fmt.Errorf("invalid start_date format, want YYYY-MM-DD")
		}
		filter.StartDate = t
	} else {
		filter.StartDate = time.Now().AddDate(-1, 0, 0) // 1 year ago
	}

	if s := query.Get("end_date"); s != "" {
		t, err := time.Parse("2006-01-02", s)
		if err != nil {
			return filter, fmt.Errorf("invalid end_date format, want YYYY-MM-DD")
		}
		filter.EndDate = t
	} else {
		filter.EndDate = time.Now()
	}

	if s := query.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 1 {
			return filter, fmt.Errorf("invalid limit")
		}
		filter.Limit = limit
	}
	if s := query.Get("offset"); s != "" {
		offset, err := strconv.Atoi(s)
		if err != nil || offset < 0 {
			return filter, fmt.Errorf("invalid offset")
		}
		filter.Offset = offset
	}

	// OFFSET is only valid after LIMIT in BigQuery.
	if filter.Offset > 0 && filter.Limit == 0 {
		return filter, fmt.Errorf("offset requires limit")
	}

	return filter, nil
}
