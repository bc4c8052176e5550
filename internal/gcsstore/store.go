package gcsstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// ObjectStore provides an interface for receipt file storage operations.
// This interface enables mocking and testing of storage functionality.
type ObjectStore interface {
	// Upload streams r into the bucket under objectName and returns the
	// number of bytes written.
	Upload(ctx context.Context, objectName, contentType string, r io.Reader) (int64, error)

	// Delete removes an object from the bucket. Used to clean up orphaned
	// uploads when metadata persistence fails.
	Delete(ctx context.Context, objectName string) error

	// URI returns the gs:// URI for an object in the bucket.
	URI(objectName string) string
}

// Client is the GCS-backed implementation of ObjectStore. It assumes
// Application Default Credentials are configured.
type Client struct {
	bucket string
	gcs    *storage.Client
}

// New creates a Client for the given bucket.
func New(ctx context.Context, bucket string) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("gcsstore: bucket name is required")
	}

	gcs, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: create storage client: %w", err)
	}

	return &Client{bucket: bucket, gcs: gcs}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.gcs.Close()
}

// Upload streams r into the bucket under objectName.
func (c *Client) Upload(ctx context.Context, objectName, contentType string, r io.Reader) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.gcs.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType

	written, err := io.Copy(w, r)
	if err != nil {
		_ = w.Close()
		return 0, fmt.Errorf("gcsstore: copy to GCS writer: %w", err)
	}

	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("gcsstore: finalize upload: %w", err)
	}

	return written, nil
}

// UploadFile uploads a local file to the bucket under objectName.
func (c *Client) UploadFile(ctx context.Context, objectName, filePath string) error {
	f, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("gcsstore: open file %q: %w", filePath, err)
	}
	defer f.Close()

	if _, err := c.Upload(ctx, objectName, "", f); err != nil {
		return err
	}

	return nil
}

// Delete removes an object from the bucket.
func (c *Client) Delete(ctx context.Context, objectName string) error {
	if err := c.gcs.Bucket(c.bucket).Object(objectName).Delete(ctx); err != nil {
		return fmt.Errorf("gcsstore: delete object %s: %w", objectName, err)
	}
	return nil
}

// URI returns the gs:// URI for an object in the bucket.
func (c *Client) URI(objectName string) string {
	return fmt.Sprintf("gs://%s/%s", c.bucket, objectName)
}

// Fetch downloads the file bytes from the given GCS URI. It creates its own
// short-lived storage client so the worker can fetch documents without
// holding a Client for a specific bucket.
func Fetch(ctx context.Context, gcsURI string) ([]byte, error) {
	bucketName, objectPath, err := ParseURI(gcsURI)
	if err != nil {
		return nil, fmt.Errorf("gcsstore.Fetch: %w", err)
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore.Fetch: creating storage client: %w", err)
	}
	defer storageClient.Close()

	rc, err := storageClient.Bucket(bucketName).Object(objectPath).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcsstore.Fetch: reading object %s/%s: %w", bucketName, objectPath, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcsstore.Fetch: reading bytes: %w", err)
	}

	return data, nil
}

// ParseURI splits a gs:// URI into bucket and object path.
func ParseURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("invalid GCS URI: %s", uri)
	}

	trimmed := strings.TrimPrefix(uri, "gs://")
	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", fmt.Errorf("invalid GCS URI (no object path): %s", uri)
	}

	return parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a GCS URI.
// e.g. "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}

	return path.Base(parts[1])
}

var _ ObjectStore = (*Client)(nil)
