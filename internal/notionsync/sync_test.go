package notionsync

import (
	"context"
	"math/big"
	"testing"
	"time"

	bigquerylib "cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/jomei/notionapi"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
)

type mockNotion struct {
	pages []notionapi.Page

	created []notionapi.Properties
	updated map[string]notionapi.Properties
	deleted []string
}

func newMockNotion(pages ...notionapi.Page) *mockNotion {
	return &mockNotion{
		pages:   pages,
		updated: make(map[string]notionapi.Properties),
	}
}

func (m *mockNotion) CreatePage(ctx context.Context, databaseID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.created = append(m.created, properties)
	return &notionapi.Page{ID: notionapi.ObjectID("page-new")}, nil
}

func (m *mockNotion) UpdatePage(ctx context.Context, pageID string, properties notionapi.Properties) (*notionapi.Page, error) {
	m.updated[pageID] = properties
	return &notionapi.Page{ID: notionapi.ObjectID(pageID)}, nil
}

func (m *mockNotion) QueryDatabase(ctx context.Context, databaseID string, filter *notionapi.DatabaseQueryRequest) (*notionapi.DatabaseQueryResponse, error) {
	return &notionapi.DatabaseQueryResponse{Results: m.pages, HasMore: false}, nil
}

func (m *mockNotion) DeletePage(ctx context.Context, pageID string) error {
	m.deleted = append(m.deleted, pageID)
	return nil
}

type mockTxRepo struct {
	rows []*bq.TransactionRow

	externalRefs map[string]string // transaction ID -> reference
}

func (m *mockTxRepo) InsertTransactions(ctx context.Context, rows []*bq.TransactionRow) error {
	return nil
}

func (m *mockTxRepo) QueryTransactions(ctx context.Context, filter bq.TransactionFilter) ([]*bq.TransactionRow, error) {
	return m.rows, nil
}

func (m *mockTxRepo) UpdateTransactionExternalReference(ctx context.Context, transactionID, externalRef string) error {
	if m.externalRefs == nil {
		m.externalRefs = make(map[string]string)
	}
	m.externalRefs[transactionID] = externalRef
	return nil
}

func txPage(pageID, txID string) notionapi.Page {
	return notionapi.Page{
		ID: notionapi.ObjectID(pageID),
		Properties: notionapi.Properties{
			"Transaction ID": &notionapi.RichTextProperty{
				RichText: []notionapi.RichText{{PlainText: txID}},
			},
		},
	}
}

func sampleTx(id string) *bq.TransactionRow {
	return &bq.TransactionRow{
		TransactionID:   id,
		Source:          "RECEIPT",
		TransactionDate: civil.Date{Year: 2025, Month: time.November, Day: 3},
		Amount:          big.NewRat(-2397, 100),
		Currency:        "EUR",
		RawDescription:  "REWE Markt",
		MerchantName:    bigquerylib.NullString{StringVal: "REWE Markt", Valid: true},
		CreatedTS:       time.Now(),
	}
}

func TestSyncTransactions(t *testing.T) {
	// tx-1 already mirrored, tx-2 is new, page-stale has no live transaction.
	notion := newMockNotion(
		txPage("page-1", "tx-1"),
		txPage("page-stale", "tx-gone"),
	)
	repo := &mockTxRepo{rows: []*bq.TransactionRow{sampleTx("tx-1"), sampleTx("tx-2")}}

	err := SyncTransactions(context.Background(), repo, notion, "db-1",
		time.Now().AddDate(0, -1, 0), time.Now(), false)
	if err != nil {
		t.Fatalf("SyncTransactions failed: %v", err)
	}

	if len(notion.created) != 1 {
		t.Fatalf("created %d pages, want 1", len(notion.created))
	}
	if len(notion.deleted) != 1 || notion.deleted[0] != "page-stale" {
		t.Errorf("deleted = %v, want [page-stale]", notion.deleted)
	}
	if got := repo.externalRefs["tx-2"]; got != "notion:page-new" {
		t.Errorf("external reference for tx-2 = %q, want notion:page-new", got)
	}

	props := notion.created[0]
	title, ok := props["Description"].(notionapi.TitleProperty)
	if !ok || len(title.Title) == 0 || title.Title[0].Text.Content != "REWE Markt" {
		t.Errorf("created page title = %+v", props["Description"])
	}
	amount, ok := props["Amount"].(notionapi.NumberProperty)
	if !ok || amount.Number != -23.97 {
		t.Errorf("created page amount = %+v", props["Amount"])
	}
}

func TestSyncTransactions_DryRunTouchesNothing(t *testing.T) {
	notion := newMockNotion(txPage("page-stale", "tx-gone"))
	repo := &mockTxRepo{rows: []*bq.TransactionRow{sampleTx("tx-1")}}

	err := SyncTransactions(context.Background(), repo, notion, "db-1",
		time.Now().AddDate(0, -1, 0), time.Now(), true)
	if err != nil {
		t.Fatalf("SyncTransactions failed: %v", err)
	}

	if len(notion.created) != 0 || len(notion.deleted) != 0 || len(notion.updated) != 0 {
		t.Errorf("dry run wrote to Notion: created=%d deleted=%d updated=%d",
			len(notion.created), len(notion.deleted), len(notion.updated))
	}
	if len(repo.externalRefs) != 0 {
		t.Errorf("dry run wrote external references: %v", repo.externalRefs)
	}
}

func TestSyncTransactions_UpdatesByExternalReference(t *testing.T) {
	notion := newMockNotion()
	tx := sampleTx("tx-1")
	tx.ExternalReference = bigquerylib.NullString{StringVal: SetNotionPageIDOnTransaction("page-77"), Valid: true}
	repo := &mockTxRepo{rows: []*bq.TransactionRow{tx}}

	err := SyncTransactions(context.Background(), repo, notion, "db-1",
		time.Now().AddDate(0, -1, 0), time.Now(), false)
	if err != nil {
		t.Fatalf("SyncTransactions failed: %v", err)
	}

	if len(notion.created) != 0 {
		t.Errorf("created %d pages, want 0", len(notion.created))
	}
	if _, ok := notion.updated["page-77"]; !ok {
		t.Errorf("expected update of page-77, got %v", notion.updated)
	}
}

func TestGetNotionPageIDFromTransaction(t *testing.T) {
	tests := []struct {
		name string
		ref  bigquerylib.NullString
		want string
	}{
		{"notion prefixed", bigquerylib.NullString{StringVal: "notion:abc", Valid: true}, "abc"},
		{"client reference ignored", bigquerylib.NullString{StringVal: "stmt-42", Valid: true}, ""},
		{"null", bigquerylib.NullString{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tx := &bq.TransactionRow{ExternalReference: tt.ref}
			if got := GetNotionPageIDFromTransaction(tx); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
