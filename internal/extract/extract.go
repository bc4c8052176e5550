package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bigquerylib "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/domain"
	"github.com/osokin/receipt-ledger/internal/logger"
	"github.com/shopspring/decimal"
)

// Step represents a single step in the extraction pipeline.
type Step interface {
	Execute(ctx context.Context, state *State) error
}

// State holds the shared state across all pipeline steps.
type State struct {
	DocumentID      string
	ExtractionRunID string

	Document       *bq.DocumentRow
	FileBytes      []byte
	RawModelOutput map[string]interface{}
	Usage          *Usage
	Receipt        *domain.Receipt
	ReceiptID      string
	Warnings       []string
}

// Extractor runs the receipt extraction pipeline for one uploaded document.
type Extractor struct {
	store  Store
	parser ReceiptParser
	fetch  Fetcher
	model  string
}

// New creates an Extractor wired to the given store, model parser and object
// fetcher.
func New(store Store, parser ReceiptParser, fetch Fetcher, model string) *Extractor {
	if model == "" {
		model = DefaultModelName
	}
	return &Extractor{store: store, parser: parser, fetch: fetch, model: model}
}

// Run executes the full extraction pipeline for a document and returns the
// ID of the extraction run it recorded. The run is marked FAILED and the
// document FAILED when any step after run creation errors.
func (e *Extractor) Run(ctx context.Context, documentID string) (string, error) {
	state := &State{DocumentID: documentID}

	steps := []Step{
		&loadDocumentStep{store: e.store},
		&startRunStep{store: e.store},
		&fetchFileStep{fetch: e.fetch},
		&parseReceiptStep{parser: e.parser},
		&storeModelOutputStep{store: e.store, model: e.model},
		&transformStep{},
		&validateStep{store: e.store},
		&persistStep{store: e.store},
		&markSuccessStep{store: e.store},
	}

	for i, step := range steps {
		if err := step.Execute(ctx, state); err != nil {
			e.fail(ctx, state, err)
			return state.ExtractionRunID, fmt.Errorf("extraction step %d failed: %w", i+1, err)
		}
	}

	return state.ExtractionRunID, nil
}

// fail records the failure on the run and the document. Run creation itself
// may have failed, in which case there is nothing to mark.
func (e *Extractor) fail(ctx context.Context, state *State, stepErr error) {
	if state.ExtractionRunID == "" {
		return
	}
	log := logger.FromContext(ctx)
	e.store.MarkExtractionRunFailed(ctx, state.ExtractionRunID, stepErr)
	if err := e.store.UpdateDocumentStatus(ctx, state.DocumentID, StatusFailed); err != nil {
		log.Error().Err(err).
			Str("document_id", state.DocumentID).
			Msg("failed to mark document as failed")
	}
}

// Step 1: loadDocumentStep loads the document row so later steps know the
// object URI and MIME type.
type loadDocumentStep struct {
	store Store
}

func (s *loadDocumentStep) Execute(ctx context.Context, state *State) error {
	doc, err := s.store.GetDocument(ctx, state.DocumentID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("document %s not found", state.DocumentID)
	}
	state.Document = doc
	return nil
}

// Step 2: startRunStep starts an extraction run (status=RUNNING).
type startRunStep struct {
	store Store
}

func (s *startRunStep) Execute(ctx context.Context, state *State) error {
	runID, err := s.store.StartExtractionRun(ctx, state.DocumentID)
	if err != nil {
		return err
	}
	state.ExtractionRunID = runID
	return nil
}

// Step 3: fetchFileStep fetches the receipt bytes from object storage.
type fetchFileStep struct {
	fetch Fetcher
}

func (s *fetchFileStep) Execute(ctx context.Context, state *State) error {
	data, err := s.fetch(ctx, state.Document.GCSURI)
	if err != nil {
		return err
	}
	state.FileBytes = data
	return nil
}

// Step 4: parseReceiptStep sends the file to the model.
type parseReceiptStep struct {
	parser ReceiptParser
}

func (s *parseReceiptStep) Execute(ctx context.Context, state *State) error {
	rawOutput, usage, err := s.parser.ParseReceipt(ctx, state.FileBytes, state.Document.FileMimeType)
	if err != nil {
		return err
	}
	state.RawModelOutput = rawOutput
	state.Usage = usage
	return nil
}

// Step 5: storeModelOutputStep retains the raw model response for audit.
type storeModelOutputStep struct {
	store Store
	model string
}

func (s *storeModelOutputStep) Execute(ctx context.Context, state *State) error {
	// The JSON column takes its value as serialized text.
	rawJSON, err := json.Marshal(state.RawModelOutput)
	if err != nil {
		return fmt.Errorf("marshal model output: %w", err)
	}

	row := &bq.ModelOutputRow{
		OutputID:        uuid.NewString(),
		ExtractionRunID: state.ExtractionRunID,
		DocumentID:      state.DocumentID,
		ModelName:       s.model,
		RawJSON:         bigquerylib.NullJSON{JSONVal: string(rawJSON), Valid: true},
		CreatedTS:       bigquerylib.NullTimestamp{Timestamp: time.Now(), Valid: true},
	}
	if state.Usage != nil && state.Usage.ModelVersion != "" {
		row.ModelVersion = bigquerylib.NullString{StringVal: state.Usage.ModelVersion, Valid: true}
	}
	return s.store.InsertModelOutput(ctx, row)
}

// Step 6: transformStep normalizes the raw model output into a receipt.
type transformStep struct{}

func (s *transformStep) Execute(ctx context.Context, state *State) error {
	receipt, err := transformModelOutput(state.RawModelOutput)
	if err != nil {
		return err
	}
	state.Receipt = receipt
	return nil
}

// Step 7: validateStep checks categories against the taxonomy and reconciles
// the stated total against line items. Both produce warnings, never failures.
type validateStep struct {
	store Store
}

func (s *validateStep) Execute(ctx context.Context, state *State) error {
	validator, err := NewCategoryValidator(ctx, s.store)
	if err != nil {
		return err
	}

	state.Warnings = append(state.Warnings, validator.ApplyTaxonomy(state.Receipt)...)
	state.Warnings = append(state.Warnings, reconcileTotals(state.Receipt)...)

	log := logger.FromContext(ctx)
	for _, w := range state.Warnings {
		log.Warn().
			Str("document_id", state.DocumentID).
			Str("extraction_run_id", state.ExtractionRunID).
			Msg(w)
	}
	return nil
}

// Step 8: persistStep writes the receipt, its line items and the derived
// transaction.
type persistStep struct {
	store Store
}

func (s *persistStep) Execute(ctx context.Context, state *State) error {
	r := state.Receipt
	receiptID := uuid.NewString()
	now := time.Now()

	receiptRow := &bq.ReceiptRow{
		ReceiptID:       receiptID,
		UserID:          DefaultUserID,
		DocumentID:      state.DocumentID,
		ExtractionRunID: state.ExtractionRunID,
		MerchantName:    r.MerchantName,
		PurchaseDate: bigquerylib.NullDate{
			Date:  civil.DateOf(r.PurchaseDate),
			Valid: true,
		},
		TotalAmount:   r.Total.Rat(),
		Currency:      r.Currency,
		PaymentMethod: r.PaymentMethod,
		CardLast4:     r.CardLast4,
		CreatedTS:     now,
	}
	if r.PurchaseTime != nil {
		receiptRow.PurchaseDatetime = bigquerylib.NullDateTime{
			DateTime: civil.DateTimeOf(*r.PurchaseTime),
			Valid:    true,
		}
	}
	if r.Subtotal != nil {
		receiptRow.SubtotalAmount = r.Subtotal.Rat()
	}
	if r.Tax != nil {
		receiptRow.TaxAmount = r.Tax.Rat()
	}
	if r.Tip != nil {
		receiptRow.TipAmount = r.Tip.Rat()
	}

	if err := s.store.InsertReceipt(ctx, receiptRow); err != nil {
		return err
	}
	state.ReceiptID = receiptID

	if len(r.LineItems) > 0 {
		items := make([]*bq.ReceiptLineItemRow, 0, len(r.LineItems))
		for i, li := range r.LineItems {
			items = append(items, &bq.ReceiptLineItemRow{
				LineItemID:      uuid.NewString(),
				ReceiptID:       receiptID,
				LineIndex:       int64(i),
				Description:     li.Description,
				Quantity:        nullFloatFromDecimal(li.Quantity),
				UnitPrice:       nullFloatFromDecimal(li.UnitPrice),
				TotalPrice:      nullFloatFromDecimal(li.TotalPrice),
				CategoryName:    li.Category,
				SubcategoryName: li.Subcategory,
			})
		}
		if err := s.store.InsertReceiptLineItems(ctx, items); err != nil {
			return err
		}
	}

	// A receipt is money out, so the derived transaction amount is negative.
	tx := &bq.TransactionRow{
		TransactionID:   uuid.NewString(),
		UserID:          DefaultUserID,
		DocumentID:      bigquerylib.NullString{StringVal: state.DocumentID, Valid: true},
		ExtractionRunID: bigquerylib.NullString{StringVal: state.ExtractionRunID, Valid: true},
		Source:          "RECEIPT",
		TransactionDate: civil.DateOf(r.PurchaseDate),
		Amount:          r.Total.Neg().Rat(),
		Currency:        r.Currency,
		RawDescription:  r.MerchantName,
		CategoryName:    bigquerylib.NullString{StringVal: r.Category, Valid: r.Category != ""},
		SubcategoryName: bigquerylib.NullString{StringVal: r.Subcategory, Valid: r.Subcategory != ""},
		MerchantName:    bigquerylib.NullString{StringVal: r.MerchantName, Valid: r.MerchantName != ""},
		CreatedTS:       now,
	}

	return s.store.InsertTransactions(ctx, []*bq.TransactionRow{tx})
}

// Step 9: markSuccessStep supersedes earlier runs, marks this one SUCCESS and
// flips the document status. The current run is still RUNNING when the
// supersede executes, so it is not affected.
type markSuccessStep struct {
	store Store
}

func (s *markSuccessStep) Execute(ctx context.Context, state *State) error {
	if err := s.store.MarkExtractionRunsSuperseded(ctx, state.DocumentID); err != nil {
		return err
	}

	var tokensIn, tokensOut bigquerylib.NullInt64
	if state.Usage != nil {
		tokensIn = bigquerylib.NullInt64{Int64: state.Usage.TokensInput, Valid: true}
		tokensOut = bigquerylib.NullInt64{Int64: state.Usage.TokensOutput, Valid: true}
	}
	if err := s.store.MarkExtractionRunSucceeded(ctx, state.ExtractionRunID, tokensIn, tokensOut); err != nil {
		return err
	}
	return s.store.UpdateDocumentStatus(ctx, state.DocumentID, StatusExtracted)
}

func nullFloatFromDecimal(d *decimal.Decimal) bigquerylib.NullFloat64 {
	if d == nil {
		return bigquerylib.NullFloat64{}
	}
	return bigquerylib.NullFloat64{Float64: d.InexactFloat64(), Valid: true}
}
