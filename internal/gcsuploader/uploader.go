package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"

	"github.com/dvloznov/p2ptransfers/internal/gcs"
)

// Re-export interface from shared package
type ObjectWriter = gcs.ObjectWriter

// Uploader writes objects to a single GCS bucket.
// It assumes Application Default Credentials are configured (gcloud auth application-default login).
type Uploader struct {
	client        *storage.Client
	bucket        string
	uploadTimeout time.Duration
}

// NewUploader creates a storage client for bucket.
func NewUploader(ctx context.Context, bucket string) (*Uploader, error) {
	if bucket == "" {
		return nil, fmt.Errorf("NewUploader: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Uploader{client: client, bucket: bucket, uploadTimeout: 2 * time.Minute}, nil
}

// Close closes the storage client.
func (u *Uploader) Close() error {
	return u.client.Close()
}

// WriteObject implements gcs.ObjectWriter.
func (u *Uploader) WriteObject(ctx context.Context, objectName, contentType string, data []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, u.uploadTimeout)
	defer cancel()

	w := u.client.Bucket(u.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = contentType
	defer func() {
		// Ensure the writer is closed even on early returns
		_ = w.Close()
	}()

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("copy %s to GCS writer: %w", objectName, err)
	}

	// Close to finalize the upload
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("finalize upload of %s: %w", objectName, err)
	}

	return ObjectURI(u.bucket, objectName), nil
}

// ObjectURI builds a gs:// URI.
func ObjectURI(bucket, objectName string) string {
	return "gs://" + bucket + "/" + strings.TrimPrefix(objectName, "/")
}

// ExtractFilenameFromGCSURI extracts the filename from a GCS URI.
// e.g., "gs://bucket/statements/4081/20240101T000000Z.csv" → "20240101T000000Z.csv"
func ExtractFilenameFromGCSURI(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")

	parts := strings.SplitN(trimmed, "/", 2)
	if len(parts) < 2 {
		return trimmed
	}
	return path.Base(parts[1])
}

var _ ObjectWriter = (*Uploader)(nil)
