package services

import (
	"context"
	"errors"
	"testing"

	"github.com/Lllllllleong/documentpipeline/internal/local"
	"github.com/Lllllllleong/documentpipeline/internal/models"
)

func TestJoinLines(t *testing.T) {
	tests := []struct {
		name     string
		lines    []models.Line
		wantText string
		wantConf float64
	}{
		{name: "no lines", lines: nil, wantText: "", wantConf: 0},
		{name: "one line", lines: []models.Line{{Text: "a", Confidence: 42}}, wantText: "a", wantConf: 42},
		{
			name:     "mean",
			lines:    []models.Line{{Text: "a", Confidence: 80}, {Text: "b", Confidence: 90}, {Text: "c", Confidence: 100}},
			wantText: "a\nb\nc",
			wantConf: 90,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, conf := JoinLines(tt.lines)
			if text != tt.wantText || conf != tt.wantConf {
				t.Fatalf("JoinLines = (%q, %v), want (%q, %v)", text, conf, tt.wantText, tt.wantConf)
			}
		})
	}
}

func seedUploaded(t *testing.T, ledger *local.Ledger, id string, ts int64) models.Record {
	t.Helper()
	rec := models.Record{
		DocumentID:      id,
		UploadTimestamp: ts,
		FileName:        "a.txt",
		StorageKey:      StorageKey(id, "a.txt"),
		ContentType:     "text/plain",
		Status:          models.StatusUploaded,
	}
	if err := ledger.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return rec
}

func TestExtractionRecordsTextAndHandsOff(t *testing.T) {
	ctx := context.Background()
	ledger := local.NewLedger()
	rec := seedUploaded(t, ledger, "doc-1", 100)
	extractor := &fakeExtractor{lines: []models.Line{{Text: "Invoice #1", Confidence: 80}, {Text: "Total 10", Confidence: 100}}}
	next := &recordingNext{}
	f := NewExtraction(ledger, extractor, next, WithLogger(quietLogger()), WithClock(fixedClock(200)))

	res, err := f.Process(ctx, models.StorageWrite{Bucket: "b", Key: rec.StorageKey})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if res.Status != models.StatusOCRComplete || res.Skipped {
		t.Fatalf("unexpected result: %+v", res)
	}

	got, _ := ledger.Get(ctx, rec.Key())
	if got.Status != models.StatusOCRComplete {
		t.Fatalf("status = %q", got.Status)
	}
	if got.OCRResult.ExtractedText != "Invoice #1\nTotal 10" || got.OCRResult.Confidence != 90 || got.OCRResult.ProcessedAt != 200 {
		t.Fatalf("unexpected ocr result: %+v", got.OCRResult)
	}

	if len(next.handoffs) != 1 {
		t.Fatalf("expected one handoff, got %d", len(next.handoffs))
	}
	h := next.handoffs[0]
	if h.DocumentID != "doc-1" || h.Timestamp != 100 || h.Text != got.OCRResult.ExtractedText {
		t.Fatalf("unexpected handoff: %+v", h)
	}
}

func TestExtractionNoRecordIsNotFound(t *testing.T) {
	ctx := context.Background()
	ledger := local.NewLedger()
	extractor := &fakeExtractor{}
	next := &recordingNext{}
	f := NewExtraction(ledger, extractor, next, WithLogger(quietLogger()))

	_, err := f.Process(ctx, models.StorageWrite{Bucket: "b", Key: "ghost/a.txt"})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if !IsTerminalStageError(err) {
		t.Fatalf("not-found must not be retried")
	}
	all, _ := ledger.List(ctx)
	if len(all) != 0 || extractor.calls != 0 || len(next.handoffs) != 0 {
		t.Fatalf("not-found path touched state: records=%d extracts=%d handoffs=%d", len(all), extractor.calls, len(next.handoffs))
	}
}

func TestExtractionRejectsKeyWithoutDocumentID(t *testing.T) {
	f := NewExtraction(local.NewLedger(), &fakeExtractor{}, &recordingNext{}, WithLogger(quietLogger()))
	_, err := f.Process(context.Background(), models.StorageWrite{Key: "/"})
	if !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestExtractionSkipsDuplicateEvent(t *testing.T) {
	ctx := context.Background()
	ledger := local.NewLedger()
	rec := seedUploaded(t, ledger, "doc-1", 100)
	extractor := &fakeExtractor{lines: []models.Line{{Text: "x", Confidence: 50}}}
	next := &recordingNext{}
	obs := &recordingObserver{}
	f := NewExtraction(ledger, extractor, next, WithLogger(quietLogger()), WithObserver(obs))

	event := models.StorageWrite{Bucket: "b", Key: rec.StorageKey}
	if _, err := f.Process(ctx, event); err != nil {
		t.Fatalf("first event: %v", err)
	}
	res, err := f.Process(ctx, event)
	if err != nil {
		t.Fatalf("duplicate event: %v", err)
	}
	if !res.Skipped {
		t.Fatalf("duplicate event was not skipped: %+v", res)
	}
	if extractor.calls != 1 || len(next.handoffs) != 1 {
		t.Fatalf("duplicate repeated work: extracts=%d handoffs=%d", extractor.calls, len(next.handoffs))
	}
	if obs.obs[1].outcome != OutcomeSkipped {
		t.Fatalf("second observation = %q, want skipped", obs.obs[1].outcome)
	}
}

func TestExtractionUsesNewestVersion(t *testing.T) {
	ctx := context.Background()
	ledger := local.NewLedger()
	older := seedUploaded(t, ledger, "doc-1", 100)
	_ = ledger.Advance(ctx, older.Key(), models.AdvanceOCR(models.OCRResult{ExtractedText: "old"}))
	newer := seedUploaded(t, ledger, "doc-1", 300)

	next := &recordingNext{}
	f := NewExtraction(ledger, &fakeExtractor{lines: []models.Line{{Text: "new", Confidence: 70}}}, next, WithLogger(quietLogger()))
	if _, err := f.Process(ctx, models.StorageWrite{Key: newer.StorageKey}); err != nil {
		t.Fatalf("process: %v", err)
	}
	got, _ := ledger.Get(ctx, newer.Key())
	if got.Status != models.StatusOCRComplete || got.OCRResult.ExtractedText != "new" {
		t.Fatalf("newest version not processed: %+v", got)
	}
	if next.handoffs[0].Timestamp != 300 {
		t.Fatalf("handoff refers to timestamp %d", next.handoffs[0].Timestamp)
	}
}

func TestExtractionFailuresFlagRecord(t *testing.T) {
	tests := []struct {
		name      string
		extractor *fakeExtractor
		next      *recordingNext
		status    models.Status
	}{
		{
			name:      "extractor error",
			extractor: &fakeExtractor{err: errBoom},
			next:      &recordingNext{},
			status:    models.StatusUploaded,
		},
		{
			name:      "handoff error",
			extractor: &fakeExtractor{lines: []models.Line{{Text: "x", Confidence: 1}}},
			next:      &recordingNext{err: errBoom},
			status:    models.StatusOCRComplete,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			ledger := local.NewLedger()
			rec := seedUploaded(t, ledger, "doc-1", 100)
			f := NewExtraction(ledger, tt.extractor, tt.next, WithLogger(quietLogger()))

			_, err := f.Process(ctx, models.StorageWrite{Key: rec.StorageKey})
			if !errors.Is(err, models.ErrDownstream) {
				t.Fatalf("expected ErrDownstream, got %v", err)
			}
			if IsTerminalStageError(err) {
				t.Fatalf("downstream failures should be reported for redelivery")
			}
			got, _ := ledger.Get(ctx, rec.Key())
			if got.Status != tt.status {
				t.Fatalf("status = %q, want %q", got.Status, tt.status)
			}
			if got.Failure == nil || got.Failure.Stage != models.StageExtraction {
				t.Fatalf("failure not flagged: %+v", got.Failure)
			}
		})
	}
}
