package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	bigquerylib "cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
)

// mockStore implements Store with in-memory state for pipeline tests.
type mockStore struct {
	documents map[string]*bq.DocumentRow

	categories []bq.CategoryRow

	startedRuns    []string
	failedRuns     []string
	succeededRuns  []string
	supersededDocs []string

	tokensInput  bigquerylib.NullInt64
	tokensOutput bigquerylib.NullInt64

	modelOutputs []*bq.ModelOutputRow
	receipts     []*bq.ReceiptRow
	lineItems    []*bq.ReceiptLineItemRow
	transactions []*bq.TransactionRow

	statusUpdates map[string]string

	failInsertReceipt bool
}

func newMockStore() *mockStore {
	return &mockStore{
		documents:     make(map[string]*bq.DocumentRow),
		categories:    testCategories(),
		statusUpdates: make(map[string]string),
	}
}

func (m *mockStore) InsertDocument(ctx context.Context, row *bq.DocumentRow) error {
	m.documents[row.DocumentID] = row
	return nil
}

func (m *mockStore) GetDocument(ctx context.Context, documentID string) (*bq.DocumentRow, error) {
	return m.documents[documentID], nil
}

func (m *mockStore) ListDocuments(ctx context.Context) ([]*bq.DocumentRow, error) {
	return nil, nil
}

func (m *mockStore) FindDocumentByChecksum(ctx context.Context, checksum string) (*bq.DocumentRow, error) {
	return nil, nil
}

func (m *mockStore) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	m.statusUpdates[documentID] = status
	return nil
}

func (m *mockStore) InsertReceipt(ctx context.Context, row *bq.ReceiptRow) error {
	if m.failInsertReceipt {
		return errors.New("insert receipt blew up")
	}
	m.receipts = append(m.receipts, row)
	return nil
}

func (m *mockStore) InsertReceiptLineItems(ctx context.Context, rows []*bq.ReceiptLineItemRow) error {
	m.lineItems = append(m.lineItems, rows...)
	return nil
}

func (m *mockStore) GetReceiptByDocument(ctx context.Context, documentID string) (*bq.ReceiptRow, error) {
	return nil, nil
}

func (m *mockStore) ListReceiptLineItems(ctx context.Context, receiptID string) ([]*bq.ReceiptLineItemRow, error) {
	return nil, nil
}

func (m *mockStore) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	m.transactions = append(m.transactions, rows...)
	return nil
}

func (m *mockStore) QueryTransactions(ctx context.Context, filter bq.TransactionFilter) ([]*bq.TransactionRow, error) {
	return nil, nil
}

func (m *mockStore) UpdateTransactionExternalReference(ctx context.Context, transactionID, externalRef string) error {
	return nil
}

func (m *mockStore) ListActiveCategories(ctx context.Context) ([]bq.CategoryRow, error) {
	return m.categories, nil
}

func (m *mockStore) StartExtractionRun(ctx context.Context, documentID string) (string, error) {
	runID := fmt.Sprintf("run-%d", len(m.startedRuns)+1)
	m.startedRuns = append(m.startedRuns, runID)
	return runID, nil
}

func (m *mockStore) MarkExtractionRunFailed(ctx context.Context, runID string, extractErr error) {
	m.failedRuns = append(m.failedRuns, runID)
}

func (m *mockStore) MarkExtractionRunSucceeded(ctx context.Context, runID string, tokensInput, tokensOutput bigquerylib.NullInt64) error {
	m.succeededRuns = append(m.succeededRuns, runID)
	m.tokensInput = tokensInput
	m.tokensOutput = tokensOutput
	return nil
}

func (m *mockStore) ListExtractionRuns(ctx context.Context, documentID string) ([]*bq.ExtractionRunRow, error) {
	return nil, nil
}

func (m *mockStore) MarkExtractionRunsSuperseded(ctx context.Context, documentID string) error {
	m.supersededDocs = append(m.supersededDocs, documentID)
	return nil
}

func (m *mockStore) InsertModelOutput(ctx context.Context, row *bq.ModelOutputRow) error {
	m.modelOutputs = append(m.modelOutputs, row)
	return nil
}

var _ Store = (*mockStore)(nil)

// mockParser returns a canned model response.
type mockParser struct {
	output map[string]interface{}
	usage  *Usage
	err    error
}

func (m *mockParser) ParseReceipt(ctx context.Context, data []byte, mimeType string) (map[string]interface{}, *Usage, error) {
	return m.output, m.usage, m.err
}

func sampleModelOutput() map[string]interface{} {
	return map[string]interface{}{
		"receipt": map[string]interface{}{
			"merchant_name": "REWE Markt",
			"purchase_date": "2025-11-03",
			"currency":      "EUR",
			"total":         23.97,
			"category":      "Groceries",
			"subcategory":   "Supermarket",
			"line_items": []interface{}{
				map[string]interface{}{
					"description": "Milk 1L",
					"quantity":    2.0,
					"unit_price":  1.19,
					"total_price": 2.38,
					"category":    "Groceries",
					"subcategory": "Supermarket",
				},
			},
		},
	}
}

func seedDocument(store *mockStore, id string) {
	store.documents[id] = &bq.DocumentRow{
		DocumentID:       id,
		UserID:           DefaultUserID,
		GCSURI:           "gs://receipts-bucket/receipts/2025/11/03/" + id + "-rewe.jpg",
		FileMimeType:     "image/jpeg",
		ExtractionStatus: StatusPending,
		UploadTS:         time.Now(),
	}
}

func okFetcher(ctx context.Context, uri string) ([]byte, error) {
	return []byte("file-bytes"), nil
}

func TestExtractor_Run(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	parser := &mockParser{
		output: sampleModelOutput(),
		usage:  &Usage{TokensInput: 1420, TokensOutput: 387, ModelVersion: "gemini-2.0-flash-001"},
	}
	extractor := New(store, parser, okFetcher, "")

	runID, err := extractor.Run(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if runID != "run-1" {
		t.Errorf("runID = %q, want run-1", runID)
	}

	if len(store.modelOutputs) != 1 {
		t.Fatalf("got %d model outputs, want 1", len(store.modelOutputs))
	}
	output := store.modelOutputs[0]
	if output.ModelName != DefaultModelName {
		t.Errorf("model output ModelName = %q", output.ModelName)
	}
	if !output.ModelVersion.Valid || output.ModelVersion.StringVal != "gemini-2.0-flash-001" {
		t.Errorf("model output ModelVersion = %+v", output.ModelVersion)
	}
	if !output.RawJSON.Valid {
		t.Fatal("model output RawJSON not set")
	}
	var stored map[string]interface{}
	if err := json.Unmarshal([]byte(output.RawJSON.JSONVal), &stored); err != nil {
		t.Fatalf("RawJSON is not valid JSON text: %v", err)
	}
	if stored["receipt"].(map[string]interface{})["merchant_name"] != "REWE Markt" {
		t.Errorf("RawJSON receipt = %v", stored["receipt"])
	}

	if len(store.receipts) != 1 {
		t.Fatalf("got %d receipts, want 1", len(store.receipts))
	}
	receipt := store.receipts[0]
	if receipt.MerchantName != "REWE Markt" {
		t.Errorf("receipt merchant = %q", receipt.MerchantName)
	}
	if receipt.ExtractionRunID != runID {
		t.Errorf("receipt run ID = %q, want %q", receipt.ExtractionRunID, runID)
	}

	if len(store.lineItems) != 1 {
		t.Fatalf("got %d line items, want 1", len(store.lineItems))
	}
	if store.lineItems[0].ReceiptID != receipt.ReceiptID {
		t.Errorf("line item receipt ID = %q", store.lineItems[0].ReceiptID)
	}

	if len(store.transactions) != 1 {
		t.Fatalf("got %d transactions, want 1", len(store.transactions))
	}
	tx := store.transactions[0]
	if tx.Source != "RECEIPT" {
		t.Errorf("transaction source = %q", tx.Source)
	}
	// Receipts are spend, so the amount is stored negated.
	if f, _ := tx.Amount.Float64(); f != -23.97 {
		t.Errorf("transaction amount = %v, want -23.97", f)
	}

	if len(store.supersededDocs) != 1 || store.supersededDocs[0] != "doc-1" {
		t.Errorf("superseded docs = %v, want [doc-1]", store.supersededDocs)
	}
	if len(store.succeededRuns) != 1 || store.succeededRuns[0] != runID {
		t.Errorf("succeeded runs = %v", store.succeededRuns)
	}
	if !store.tokensInput.Valid || store.tokensInput.Int64 != 1420 {
		t.Errorf("tokens input = %+v, want 1420", store.tokensInput)
	}
	if !store.tokensOutput.Valid || store.tokensOutput.Int64 != 387 {
		t.Errorf("tokens output = %+v, want 387", store.tokensOutput)
	}
	if store.statusUpdates["doc-1"] != StatusExtracted {
		t.Errorf("document status = %q, want %q", store.statusUpdates["doc-1"], StatusExtracted)
	}
	if len(store.failedRuns) != 0 {
		t.Errorf("failed runs = %v, want none", store.failedRuns)
	}
}

func TestExtractor_Run_InvalidCategoryFallsBack(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	output := sampleModelOutput()
	output["receipt"].(map[string]interface{})["category"] = "Cryptozoology"
	parser := &mockParser{output: output}

	extractor := New(store, parser, okFetcher, "")
	if _, err := extractor.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	tx := store.transactions[0]
	if !tx.CategoryName.Valid || tx.CategoryName.StringVal != FallbackCategory {
		t.Errorf("transaction category = %+v, want %q", tx.CategoryName, FallbackCategory)
	}
}

func TestExtractor_Run_NoUsageStoresNullTokens(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	extractor := New(store, &mockParser{output: sampleModelOutput()}, okFetcher, "")
	if _, err := extractor.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if store.tokensInput.Valid || store.tokensOutput.Valid {
		t.Errorf("tokens = %+v / %+v, want NULL", store.tokensInput, store.tokensOutput)
	}
	if store.modelOutputs[0].ModelVersion.Valid {
		t.Errorf("model version = %+v, want NULL", store.modelOutputs[0].ModelVersion)
	}
}

func TestExtractor_Run_DocumentNotFound(t *testing.T) {
	store := newMockStore()
	parser := &mockParser{output: sampleModelOutput()}

	extractor := New(store, parser, okFetcher, "")
	if _, err := extractor.Run(context.Background(), "missing"); err == nil {
		t.Fatal("expected error for unknown document")
	}

	// No run was created, so nothing should be marked failed.
	if len(store.failedRuns) != 0 {
		t.Errorf("failed runs = %v, want none", store.failedRuns)
	}
}

func TestExtractor_Run_ParserFailureMarksRunFailed(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	parser := &mockParser{err: errors.New("model unavailable")}
	extractor := New(store, parser, okFetcher, "")

	runID, err := extractor.Run(context.Background(), "doc-1")
	if err == nil {
		t.Fatal("expected error from parser failure")
	}

	if len(store.failedRuns) != 1 || store.failedRuns[0] != runID {
		t.Errorf("failed runs = %v, want [%s]", store.failedRuns, runID)
	}
	if store.statusUpdates["doc-1"] != StatusFailed {
		t.Errorf("document status = %q, want %q", store.statusUpdates["doc-1"], StatusFailed)
	}
	if len(store.receipts) != 0 {
		t.Errorf("got %d receipts, want none", len(store.receipts))
	}
}

func TestExtractor_Run_FetchFailureMarksRunFailed(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	fetch := func(ctx context.Context, uri string) ([]byte, error) {
		return nil, errors.New("object gone")
	}
	extractor := New(store, &mockParser{output: sampleModelOutput()}, fetch, "")

	if _, err := extractor.Run(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected error from fetch failure")
	}
	if len(store.failedRuns) != 1 {
		t.Errorf("failed runs = %v, want one", store.failedRuns)
	}
}

func TestExtractor_Run_PersistFailureMarksRunFailed(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")
	store.failInsertReceipt = true

	extractor := New(store, &mockParser{output: sampleModelOutput()}, okFetcher, "")

	if _, err := extractor.Run(context.Background(), "doc-1"); err == nil {
		t.Fatal("expected error from persist failure")
	}
	if store.statusUpdates["doc-1"] != StatusFailed {
		t.Errorf("document status = %q, want %q", store.statusUpdates["doc-1"], StatusFailed)
	}
	if len(store.succeededRuns) != 0 {
		t.Errorf("succeeded runs = %v, want none", store.succeededRuns)
	}
}

func TestExtractor_Run_PurchaseDatetimeStored(t *testing.T) {
	store := newMockStore()
	seedDocument(store, "doc-1")

	output := sampleModelOutput()
	output["receipt"].(map[string]interface{})["purchase_time"] = "18:42"
	extractor := New(store, &mockParser{output: output}, okFetcher, "")

	if _, err := extractor.Run(context.Background(), "doc-1"); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	receipt := store.receipts[0]
	if !receipt.PurchaseDatetime.Valid {
		t.Fatal("PurchaseDatetime not set")
	}
	dt := receipt.PurchaseDatetime.DateTime
	if dt.Time.Hour != 18 || dt.Time.Minute != 42 {
		t.Errorf("PurchaseDatetime = %v, want 18:42", dt)
	}
}
