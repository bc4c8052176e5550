package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"google.golang.org/api/iterator"
)

const documentColumns = `
			document_id,
			user_id,
			gcs_uri,
			document_type,
			original_filename,
			file_mime_type,
			size_bytes,
			checksum_sha256,
			upload_ts,
			processed_ts,
			extraction_status,
			metadata`

// InsertDocument inserts a single DocumentRow into the documents table.
func (r *Repository) InsertDocument(ctx context.Context, row *bq.DocumentRow) error {
	if err := r.inserter(documentsTable).Put(ctx, row); err != nil {
		return fmt.Errorf("InsertDocument: inserting row: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID. Returns nil if not found.
func (r *Repository) GetDocument(ctx context.Context, documentID string) (*bq.DocumentRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE document_id = @document_id
		LIMIT 1
	`, documentColumns, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: documentID},
	}

	docs, err := r.readDocuments(ctx, q, "GetDocument")
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// ListDocuments retrieves all documents, newest first.
func (r *Repository) ListDocuments(ctx context.Context) ([]*bq.DocumentRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		ORDER BY upload_ts DESC
	`, documentColumns, r.table(documentsTable)))

	return r.readDocuments(ctx, q, "ListDocuments")
}

// FindDocumentByChecksum retrieves a document by its SHA-256 checksum.
// Returns nil if no document with the given checksum exists.
func (r *Repository) FindDocumentByChecksum(ctx context.Context, checksum string) (*bq.DocumentRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE checksum_sha256 = @checksum
		ORDER BY upload_ts DESC
		LIMIT 1
	`, documentColumns, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "checksum", Value: checksum},
	}

	docs, err := r.readDocuments(ctx, q, "FindDocumentByChecksum")
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	return docs[0], nil
}

// UpdateDocumentStatus sets the extraction_status and processed_ts of a document.
func (r *Repository) UpdateDocumentStatus(ctx context.Context, documentID, status string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET extraction_status = @status,
		    processed_ts = @processed_ts
		WHERE document_id = @document_id
	`, r.table(documentsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: status},
		{Name: "processed_ts", Value: time.Now()},
		{Name: "document_id", Value: documentID},
	}

	return r.runDML(ctx, q, "UpdateDocumentStatus")
}

func (r *Repository) readDocuments(ctx context.Context, q *bigquery.Query, op string) ([]*bq.DocumentRow, error) {
	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var docs []*bq.DocumentRow
	for {
		var row bq.DocumentRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		docs = append(docs, &row)
	}

	return docs, nil
}
