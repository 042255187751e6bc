package gcs

import (
	"context"
)

// ObjectWriter stores objects in cloud storage.
// This interface enables mocking and testing of storage functionality.
type ObjectWriter interface {
	// WriteObject stores data under objectName and returns its gs:// URI.
	WriteObject(ctx context.Context, objectName, contentType string, data []byte) (string, error)
}
