package models

import (
	"errors"
	"testing"
)

func TestStorageWriteDocumentID(t *testing.T) {
	tests := map[string]string{
		"abc/report.pdf":      "abc",
		"/abc/report.pdf":     "abc",
		"abc":                 "abc",
		"abc/nested/file.txt": "abc",
		"":                    "",
	}
	for key, want := range tests {
		if got := (StorageWrite{Key: key}).DocumentID(); got != want {
			t.Errorf("DocumentID(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestDecodeStorageWrite(t *testing.T) {
	e, err := DecodeStorageWrite([]byte(`{"bucket":"docs","name":"id-1/a.txt","contentType":"text/plain"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if e.Bucket != "docs" || e.Key != "id-1/a.txt" || e.ContentType != "text/plain" {
		t.Fatalf("unexpected event: %+v", e)
	}
	if e.Kind() != TriggerStorageWrite {
		t.Fatalf("kind = %q", e.Kind())
	}

	if _, err := DecodeStorageWrite([]byte(`{"bucket":"docs"}`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for missing name, got %v", err)
	}
	if _, err := DecodeStorageWrite([]byte(`not json`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for bad json, got %v", err)
	}
}

func TestDecodeHandoff(t *testing.T) {
	h, err := DecodeHandoff([]byte(`{"documentId":"d1","timestamp":1700000000000,"text":"hi"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if h.Key() != (RecordKey{DocumentID: "d1", UploadTimestamp: 1700000000000}) {
		t.Fatalf("unexpected key: %+v", h.Key())
	}
	if h.Kind() != TriggerHandoff {
		t.Fatalf("kind = %q", h.Kind())
	}

	// A storage envelope is not a handoff.
	if _, err := DecodeHandoff([]byte(`{"bucket":"docs","name":"d1/a.txt"}`)); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
