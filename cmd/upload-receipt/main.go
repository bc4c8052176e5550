package main

import (
	"context"
	"flag"
	"fmt"
	"path/filepath"

	"github.com/osokin/receipt-ledger/internal/gcsstore"
	"github.com/osokin/receipt-ledger/internal/logger"
)

func main() {
	// Initialize structured logger
	log := logger.New()

	var (
		bucketName string
		objectName string
		filePath   string
	)

	flag.StringVar(&bucketName, "bucket", "", "GCS bucket name (required)")
	flag.StringVar(&objectName, "object", "", "GCS object name (optional; defaults to file name)")
	flag.StringVar(&filePath, "file", "", "Path to local receipt file (required)")
	flag.Parse()

	if bucketName == "" || filePath == "" {
		log.Fatal().Msg("Usage: upload-receipt -bucket BUCKET_NAME -file /path/to/receipt.jpg [-object OBJECT_NAME]")
	}

	if objectName == "" {
		objectName = filepath.Base(filePath)
	}

	ctx := context.Background()
	ctx = logger.WithContext(ctx, log)

	log.Info().
		Str("bucket", bucketName).
		Str("object", objectName).
		Str("file", filePath).
		Msg("Uploading file to GCS")

	store, err := gcsstore.New(ctx, bucketName)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create GCS client")
	}
	defer store.Close()

	if err := store.UploadFile(ctx, objectName, filePath); err != nil {
		log.Fatal().Err(err).Msg("Upload failed")
	}

	fmt.Printf("Uploaded %s to %s\n", filePath, store.URI(objectName))
}
