package handlers

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/osokin/receipt-ledger/internal/api/middleware"
	bq "github.com/osokin/receipt-ledger/internal/bigquery"
	"github.com/osokin/receipt-ledger/internal/extract"
	"github.com/osokin/receipt-ledger/internal/gcsstore"
	"github.com/osokin/receipt-ledger/internal/jobs"
	"github.com/rs/zerolog"
)

// allowedMimeTypes are the receipt file types accepted for upload.
var allowedMimeTypes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"application/pdf": true,
}

// ReceiptsHandler handles receipt upload and retrieval endpoints.
type ReceiptsHandler struct {
	documents bq.DocumentRepository
	receipts  bq.ReceiptRepository
	runs      bq.ExtractionRepository
	objects   gcsstore.ObjectStore
	publisher jobs.Publisher

	maxUploadBytes int64
	log            zerolog.Logger
}

// NewReceiptsHandler creates a new receipts handler.
func NewReceiptsHandler(
	documents bq.DocumentRepository,
	receipts bq.ReceiptRepository,
	runs bq.ExtractionRepository,
	objects gcsstore.ObjectStore,
	publisher jobs.Publisher,
	maxUploadBytes int64,
	log zerolog.Logger,
) *ReceiptsHandler {
	return &ReceiptsHandler{
		documents:      documents,
		receipts:       receipts,
		runs:           runs,
		objects:        objects,
		publisher:      publisher,
		maxUploadBytes: maxUploadBytes,
		log:            log,
	}
}

// Upload handles POST /api/receipts. It accepts a multipart form with a
// "file" part, stores the file in GCS, records document metadata and
// enqueues an extraction job.
func (h *ReceiptsHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			middleware.WriteError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds the %d byte upload limit", h.maxUploadBytes))
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Missing 'file' form field")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to read uploaded file")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}
	if len(data) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "Uploaded file is empty")
		return
	}

	// Sniff the content type from the bytes rather than trusting the client.
	mimeType := detectMimeType(data, header.Filename)
	if !allowedMimeTypes[mimeType] {
		middleware.WriteError(w, http.StatusUnsupportedMediaType,
			fmt.Sprintf("Unsupported file type %q; allowed: JPEG, PNG, WebP, PDF", mimeType))
		return
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	existing, err := h.documents.FindDocumentByChecksum(ctx, checksum)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to check for duplicate upload")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to check for duplicate upload")
		return
	}
	if existing != nil {
		middleware.WriteJSON(w, http.StatusConflict, map[string]interface{}{
			"error":       "A file with the same content was already uploaded",
			"document_id": existing.DocumentID,
		})
		return
	}

	documentID := uuid.NewString()
	filename := sanitizeFilename(header.Filename)
	objectName := fmt.Sprintf("receipts/%s/%s-%s",
		time.Now().Format("2006/01/02"), documentID, filename)

	written, err := h.objects.Upload(ctx, objectName, mimeType, bytes.NewReader(data))
	if err != nil {
		h.log.Error().Err(err).Str("object", objectName).Msg("Failed to upload file to GCS")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	gcsURI := h.objects.URI(objectName)

	doc := &bq.DocumentRow{
		DocumentID:       documentID,
		UserID:           extract.DefaultUserID,
		GCSURI:           gcsURI,
		DocumentType:     "RECEIPT",
		OriginalFilename: filename,
		FileMimeType:     mimeType,
		SizeBytes:        written,
		ChecksumSHA256:   checksum,
		UploadTS:         time.Now(),
		ExtractionStatus: extract.StatusPending,
	}

	if err := h.documents.InsertDocument(ctx, doc); err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to insert document metadata")
		// The object is orphaned without its metadata row, remove it.
		if delErr := h.objects.Delete(ctx, objectName); delErr != nil {
			h.log.Error().Err(delErr).Str("object", objectName).Msg("Failed to clean up orphaned object")
		}
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save document metadata")
		return
	}

	// Extraction is enqueued by default; extract=false stores the file only.
	jobID := ""
	if r.FormValue("extract") != "false" {
		job := &jobs.ExtractReceiptJob{
			DocumentID: documentID,
			GCSURI:     gcsURI,
		}
		if err := h.publisher.PublishExtractReceipt(ctx, job); err != nil {
			h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to enqueue extraction job")
			middleware.WriteError(w, http.StatusInternalServerError, "Uploaded but failed to enqueue extraction")
			return
		}
		jobID = job.JobID
	}

	h.log.Info().
		Str("document_id", documentID).
		Str("gcs_uri", gcsURI).
		Int64("bytes", written).
		Str("job_id", jobID).
		Msg("Receipt uploaded")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"document_id": documentID,
		"gcs_uri":     gcsURI,
		"checksum":    checksum,
		"job_id":      jobID,
		"status":      doc.ExtractionStatus,
	})
}

// List handles GET /api/receipts
func (h *ReceiptsHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	documents, err := h.documents.ListDocuments(ctx)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list receipts")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list receipts")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"receipts": documents,
		"count":    len(documents),
	})
}

// Get handles GET /api/receipts/{id}. The response contains the document
// metadata, the extraction run history, plus the extracted receipt and its
// line items when extraction has completed.
func (h *ReceiptsHandler) Get(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx := r.Context()

	doc, err := h.documents.GetDocument(ctx, documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if doc == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	resp := map[string]interface{}{
		"document": doc,
	}

	runs, err := h.runs.ListExtractionRuns(ctx, documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to list extraction runs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list extraction runs")
		return
	}
	if len(runs) > 0 {
		resp["extraction_runs"] = runs
	}

	receipt, err := h.receipts.GetReceiptByDocument(ctx, documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to get extracted receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get extracted receipt")
		return
	}
	if receipt != nil {
		items, err := h.receipts.ListReceiptLineItems(ctx, receipt.ReceiptID)
		if err != nil {
			h.log.Error().Err(err).Str("receipt_id", receipt.ReceiptID).Msg("Failed to list line items")
			middleware.WriteError(w, http.StatusInternalServerError, "Failed to list line items")
			return
		}
		resp["receipt"] = receipt
		resp["line_items"] = items
	}

	middleware.WriteJSON(w, http.StatusOK, resp)
}

// Extract handles POST /api/receipts/{id}/extract. It enqueues a fresh
// extraction for an already uploaded receipt; a successful new run
// supersedes earlier ones.
func (h *ReceiptsHandler) Extract(w http.ResponseWriter, r *http.Request, documentID string) {
	ctx := r.Context()

	doc, err := h.documents.GetDocument(ctx, documentID)
	if err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to get receipt")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to get receipt")
		return
	}
	if doc == nil {
		middleware.WriteError(w, http.StatusNotFound, "Receipt not found")
		return
	}

	job := &jobs.ExtractReceiptJob{
		DocumentID: documentID,
		GCSURI:     doc.GCSURI,
	}
	if err := h.publisher.PublishExtractReceipt(ctx, job); err != nil {
		h.log.Error().Err(err).Str("document_id", documentID).Msg("Failed to enqueue extraction job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue extraction job")
		return
	}

	h.log.Info().Str("job_id", job.JobID).Str("document_id", documentID).Msg("Extraction job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id":      job.JobID,
		"document_id": documentID,
		"status":      string(job.Status),
	})
}

// detectMimeType sniffs the content type from the file bytes. WebP is
// reported as such by http.DetectContentType, but PDFs produced by some
// scanners start with junk before the %PDF marker, so fall back to the
// file extension for those.
func detectMimeType(data []byte, filename string) string {
	mimeType := http.DetectContentType(data)
	mimeType = strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])

	if mimeType == "application/octet-stream" &&
		strings.EqualFold(filepath.Ext(filename), ".pdf") &&
		bytes.Contains(data[:min(len(data), 1024)], []byte("%PDF-")) {
		return "application/pdf"
	}

	return mimeType
}

// sanitizeFilename strips any path components and query junk from a
// client-supplied filename.
func sanitizeFilename(name string) string {
	if idx := strings.Index(name, "?"); idx > 0 {
		name = name[:idx]
	}
	name = filepath.Base(name)
	name = strings.ReplaceAll(name, " ", "_")
	if name == "" || name == "." || name == "/" {
		name = "receipt"
	}
	return name
}
