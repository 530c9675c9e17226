package gcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// newEmulatorLedger connects to the Firestore emulator and gives each test
// its own collection. Tests are skipped when no emulator is configured.
func newEmulatorLedger(t *testing.T) *FirestoreLedger {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := NewFirestoreClient(ctx, "idp-test")
	if err != nil {
		t.Fatalf("firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return NewFirestoreLedger(client, fmt.Sprintf("ledger-%d", time.Now().UnixNano()))
}

func TestFirestoreLedgerLifecycle(t *testing.T) {
	ctx := context.Background()
	l := newEmulatorLedger(t)
	rec := models.Record{DocumentID: "doc", UploadTimestamp: 100, FileName: "a.txt", StorageKey: "doc/a.txt", Status: models.StatusUploaded}

	if err := l.Create(ctx, rec); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := l.Create(ctx, rec); !errors.Is(err, models.ErrAlreadyExists) {
		t.Fatalf("duplicate create: expected ErrAlreadyExists, got %v", err)
	}

	if err := l.Advance(ctx, rec.Key(), models.AdvanceOCR(models.OCRResult{ExtractedText: "hi", Confidence: 90})); err != nil {
		t.Fatalf("advance: %v", err)
	}
	err := l.Advance(ctx, rec.Key(), models.AdvanceOCR(models.OCRResult{ExtractedText: "again"}))
	if !errors.Is(err, models.ErrStaleStatus) {
		t.Fatalf("repeated advance: expected ErrStaleStatus, got %v", err)
	}

	if err := l.MarkFailed(ctx, rec.Key(), models.Failure{Stage: models.StageClassification, Message: "x"}); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	got, err := l.Get(ctx, rec.Key())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.StatusOCRComplete || got.OCRResult == nil || got.OCRResult.ExtractedText != "hi" || got.Failure == nil {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFirestoreLedgerMissingRecord(t *testing.T) {
	ctx := context.Background()
	l := newEmulatorLedger(t)
	missing := models.RecordKey{DocumentID: "ghost", UploadTimestamp: 1}

	if _, err := l.Get(ctx, missing); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if err := l.Advance(ctx, missing, models.AdvanceOCR(models.OCRResult{})); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("advance: expected ErrNotFound, got %v", err)
	}
	if err := l.MarkFailed(ctx, missing, models.Failure{Stage: models.StageExtraction}); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("mark failed: expected ErrNotFound, got %v", err)
	}
}

func TestFirestoreLedgerFindByDocument(t *testing.T) {
	ctx := context.Background()
	l := newEmulatorLedger(t)
	for _, ts := range []int64{10, 30, 20} {
		if err := l.Create(ctx, models.Record{DocumentID: "doc", UploadTimestamp: ts, Status: models.StatusUploaded}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}
	_ = l.Create(ctx, models.Record{DocumentID: "other", UploadTimestamp: 5, Status: models.StatusUploaded})

	recs, err := l.FindByDocument(ctx, "doc")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(recs) != 3 || recs[0].UploadTimestamp != 30 || recs[2].UploadTimestamp != 10 {
		t.Fatalf("unexpected order: %+v", recs)
	}
	all, err := l.List(ctx)
	if err != nil || len(all) != 4 {
		t.Fatalf("list: %d records, %v", len(all), err)
	}
}
