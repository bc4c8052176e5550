package bigquery

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/bigquery"
	"github.com/google/uuid"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/logger"
	"google.golang.org/api/iterator"
)

const (
	extractorType    = "GEMINI_VISION"
	extractorVersion = "v1"

	// Error messages are truncated before storage.
	maxErrorLen = 2000
)

// StartExtractionRun inserts a new row into extraction_runs with
// status=RUNNING and returns the generated extraction_run_id.
func (r *Repository) StartExtractionRun(ctx context.Context, documentID string) (string, error) {
	runID := uuid.NewString()
	started := time.Now()

	q := r.client.Query(fmt.Sprintf(`
		INSERT %s (
			extraction_run_id,
			document_id,
			started_ts,
			extractor_type,
			extractor_version,
			status
		)
		VALUES (
			@extraction_run_id,
			@document_id,
			@started_ts,
			@extractor_type,
			@extractor_version,
			@status
		)
	`, r.table(extractionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "extraction_run_id", Value: runID},
		{Name: "document_id", Value: documentID},
		{Name: "started_ts", Value: started},
		{Name: "extractor_type", Value: extractorType},
		{Name: "extractor_version", Value: extractorVersion},
		{Name: "status", Value: "RUNNING"},
	}

	if err := r.runDML(ctx, q, "StartExtractionRun"); err != nil {
		return "", err
	}

	return runID, nil
}

// MarkExtractionRunFailed updates an extraction_runs row to status=FAILED.
// Failures here are logged rather than returned, since the caller is already
// handling the original extraction error.
func (r *Repository) MarkExtractionRunFailed(ctx context.Context, runID string, extractErr error) {
	log := logger.FromContext(ctx)

	errMsg := ""
	if extractErr != nil {
		errMsg = extractErr.Error()
		if len(errMsg) > maxErrorLen {
			errMsg = errMsg[:maxErrorLen]
		}
	}

	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = @error_message
		WHERE extraction_run_id = @extraction_run_id
	`, r.table(extractionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "FAILED"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "error_message", Value: errMsg},
		{Name: "extraction_run_id", Value: runID},
	}

	if err := r.runDML(ctx, q, "MarkExtractionRunFailed"); err != nil {
		log.Error().Err(err).Str("extraction_run_id", runID).Msg("Failed to mark extraction run as failed")
	}
}

// MarkExtractionRunSucceeded updates an extraction_runs row to status=SUCCESS
// and records the token counts reported by the model.
func (r *Repository) MarkExtractionRunSucceeded(ctx context.Context, runID string, tokensInput, tokensOutput bigquery.NullInt64) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = @status,
		    finished_ts = @finished_ts,
		    error_message = "",
		    tokens_input = @tokens_input,
		    tokens_output = @tokens_output
		WHERE extraction_run_id = @extraction_run_id
	`, r.table(extractionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "status", Value: "SUCCESS"},
		{Name: "finished_ts", Value: time.Now()},
		{Name: "tokens_input", Value: tokensInput},
		{Name: "tokens_output", Value: tokensOutput},
		{Name: "extraction_run_id", Value: runID},
	}

	return r.runDML(ctx, q, "MarkExtractionRunSucceeded")
}

// MarkExtractionRunsSuperseded marks all finished runs for a document as
// SUPERSEDED. Called before re-extracting so the old run's transactions drop
// out of query results.
func (r *Repository) MarkExtractionRunsSuperseded(ctx context.Context, documentID string) error {
	q := r.client.Query(fmt.Sprintf(`
		UPDATE %s
		SET status = 'SUPERSEDED',
		    finished_ts = COALESCE(finished_ts, @now)
		WHERE document_id = @document_id
		  AND status != 'RUNNING'
	`, r.table(extractionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "now", Value: time.Now()},
		{Name: "document_id", Value: documentID},
	}

	return r.runDML(ctx, q, "MarkExtractionRunsSuperseded")
}

// ListExtractionRuns retrieves all runs for a document, newest first.
func (r *Repository) ListExtractionRuns(ctx context.Context, documentID string) ([]*bq.ExtractionRunRow, error) {
	q := r.client.Query(fmt.Sprintf(`
		SELECT
			extraction_run_id,
			document_id,
			started_ts,
			finished_ts,
			extractor_type,
			extractor_version,
			status,
			error_message,
			tokens_input,
			tokens_output,
			metadata
		FROM %s
		WHERE document_id = @document_id
		ORDER BY started_ts DESC
	`, r.table(extractionRunsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "document_id", Value: documentID},
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("ListExtractionRuns: query read: %w", err)
	}

	var runs []*bq.ExtractionRunRow
	for {
		var row bq.ExtractionRunRow
		err := it.Next(&row)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ListExtractionRuns: iter next: %w", err)
		}
		runs = append(runs, &row)
	}

	return runs, nil
}

// InsertModelOutput inserts a single ModelOutputRow. Uses DML INSERT to avoid
// streaming buffer issues with the JSON column.
func (r *Repository) InsertModelOutput(ctx context.Context, row *bq.ModelOutputRow) error {
	q := r.client.Query(fmt.Sprintf(`
		INSERT INTO %s (
			output_id, extraction_run_id, document_id,
			model_name, model_version, raw_json,
			extracted_text, created_ts, notes, metadata
		)
		VALUES (
			@output_id, @extraction_run_id, @document_id,
			@model_name, @model_version, @raw_json,
			@extracted_text, @created_ts, @notes, @metadata
		)
	`, r.table(modelOutputsTable)))
	q.Parameters = []bigquery.QueryParameter{
		{Name: "output_id", Value: row.OutputID},
		{Name: "extraction_run_id", Value: row.ExtractionRunID},
		{Name: "document_id", Value: row.DocumentID},
		{Name: "model_name", Value: row.ModelName},
		{Name: "model_version", Value: row.ModelVersion},
		{Name: "raw_json", Value: row.RawJSON},
		{Name: "extracted_text", Value: row.ExtractedText},
		{Name: "created_ts", Value: row.CreatedTS},
		{Name: "notes", Value: row.Notes},
		{Name: "metadata", Value: row.Metadata},
	}

	return r.runDML(ctx, q, "InsertModelOutput")
}
