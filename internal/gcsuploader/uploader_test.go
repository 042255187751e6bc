package gcsuploader

import "testing"

func TestObjectURI(t *testing.T) {
	tests := []struct {
		bucket, object, want string
	}{
		{"ledger", "statements/1/a.csv", "gs://ledger/statements/1/a.csv"},
		{"ledger", "/leading.csv", "gs://ledger/leading.csv"},
	}

	for _, tt := range tests {
		if got := ObjectURI(tt.bucket, tt.object); got != tt.want {
			t.Errorf("ObjectURI(%q, %q) = %q, want %q", tt.bucket, tt.object, got, tt.want)
		}
	}
}

func TestExtractFilenameFromGCSURI(t *testing.T) {
	tests := []struct {
		uri, want string
	}{
		{"gs://bucket/statements/4081/20240101T000000Z.csv", "20240101T000000Z.csv"},
		{"gs://bucket/file.csv", "file.csv"},
		{"gs://bucket", "bucket"},
	}

	for _, tt := range tests {
		if got := ExtractFilenameFromGCSURI(tt.uri); got != tt.want {
			t.Errorf("ExtractFilenameFromGCSURI(%q) = %q, want %q", tt.uri, got, tt.want)
		}
	}
}

func TestNewUploader_RequiresBucket(t *testing.T) {
	if _, err := NewUploader(t.Context(), ""); err == nil {
		t.Error("expected error for empty bucket")
	}
}
