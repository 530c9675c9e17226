package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/Lllllllleong/documentpipeline/internal/local"
	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// seedAt creates a record and walks it up the chain to status.
func seedAt(t *testing.T, ledger *local.Ledger, id string, ts int64, status models.Status) models.Record {
	t.Helper()
	ctx := context.Background()
	rec := seedUploaded(t, ledger, id, ts)
	steps := []models.Advance{
		models.AdvanceOCR(models.OCRResult{ExtractedText: "text", Confidence: 99}),
		models.AdvanceClassification(models.Classification{Category: "Report", Confidence: ClassificationConfidence}),
		models.AdvanceSummary(models.Summary{Text: "done"}),
	}
	for _, adv := range steps {
		if rec.Status == status {
			break
		}
		if err := ledger.Advance(ctx, rec.Key(), adv); err != nil {
			t.Fatalf("seed advance to %s: %v", adv.To, err)
		}
		rec.Status = adv.To
	}
	return rec
}

func TestClassificationLabelsAndHandsOff(t *testing.T) {
	tests := []struct {
		answer string
		want   string
	}{
		{answer: "Invoice", want: "Invoice"},
		{answer: " contract.\n", want: "Contract"},
		{answer: "I think it is a receipt", want: CategoryOther},
	}
	for _, tt := range tests {
		t.Run(tt.want+"/"+strings.TrimSpace(tt.answer), func(t *testing.T) {
			ctx := context.Background()
			ledger := local.NewLedger()
			rec := seedAt(t, ledger, "doc-1", 100, models.StatusOCRComplete)
			model := &fakeModel{category: tt.answer}
			next := &recordingNext{}
			f := NewClassification(ledger, model, next, WithLogger(quietLogger()), WithClock(fixedClock(500)))

			h := models.Handoff{DocumentID: "doc-1", Timestamp: 100, Text: "Invoice number 42"}
			res, err := f.Process(ctx, h)
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if res.Status != models.StatusClassified {
				t.Fatalf("status = %q", res.Status)
			}

			got, _ := ledger.Get(ctx, rec.Key())
			if got.Classification == nil || got.Classification.Category != tt.want {
				t.Fatalf("classification = %+v, want %q", got.Classification, tt.want)
			}
			if got.Classification.Confidence != ClassificationConfidence || got.Classification.ProcessedAt != 500 {
				t.Fatalf("unexpected classification metadata: %+v", got.Classification)
			}
			if model.maxTokens[0] != classificationMaxTokens || !strings.Contains(model.prompts[0], h.Text) {
				t.Fatalf("unexpected model call: tokens=%d prompt=%q", model.maxTokens[0], model.prompts[0])
			}
			if len(next.handoffs) != 1 || next.handoffs[0] != h {
				t.Fatalf("handoff not forwarded unchanged: %+v", next.handoffs)
			}
		})
	}
}

func TestClassificationSkipsWhenNotWaiting(t *testing.T) {
	for _, status := range []models.Status{models.StatusUploaded, models.StatusClassified, models.StatusSummarized} {
		t.Run(string(status), func(t *testing.T) {
			ledger := local.NewLedger()
			seedAt(t, ledger, "doc-1", 100, status)
			model := &fakeModel{category: "Invoice"}
			next := &recordingNext{}
			f := NewClassification(ledger, model, next, WithLogger(quietLogger()))

			res, err := f.Process(context.Background(), models.Handoff{DocumentID: "doc-1", Timestamp: 100, Text: "x"})
			if err != nil {
				t.Fatalf("process: %v", err)
			}
			if !res.Skipped || res.Status != status {
				t.Fatalf("unexpected result: %+v", res)
			}
			if model.calls() != 0 || len(next.handoffs) != 0 {
				t.Fatalf("skipped handoff still called out: model=%d handoffs=%d", model.calls(), len(next.handoffs))
			}
		})
	}
}

func TestClassificationUnknownRecord(t *testing.T) {
	model := &fakeModel{category: "Invoice"}
	f := NewClassification(local.NewLedger(), model, &recordingNext{}, WithLogger(quietLogger()))
	_, err := f.Process(context.Background(), models.Handoff{DocumentID: "ghost", Timestamp: 1})
	if !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if model.calls() != 0 {
		t.Fatalf("model called for an unknown record")
	}
}

func TestClassificationModelFailure(t *testing.T) {
	ctx := context.Background()
	ledger := local.NewLedger()
	rec := seedAt(t, ledger, "doc-1", 100, models.StatusOCRComplete)
	f := NewClassification(ledger, &fakeModel{err: errBoom}, &recordingNext{}, WithLogger(quietLogger()))

	_, err := f.Process(ctx, models.Handoff{DocumentID: "doc-1", Timestamp: 100, Text: "x"})
	if !errors.Is(err, models.ErrDownstream) {
		t.Fatalf("expected ErrDownstream, got %v", err)
	}
	got, _ := ledger.Get(ctx, rec.Key())
	if got.Status != models.StatusOCRComplete || got.Failure == nil || got.Failure.Stage != models.StageClassification {
		t.Fatalf("record not flagged correctly: %+v", got)
	}
}
