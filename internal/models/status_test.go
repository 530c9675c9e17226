package models

import (
	"errors"
	"testing"
)

func TestStatusChain(t *testing.T) {
	want := []Status{StatusUploaded, StatusOCRComplete, StatusClassified, StatusSummarized}
	s := StatusUploaded
	for i := 1; i < len(want); i++ {
		next, ok := s.Next()
		if !ok {
			t.Fatalf("%q has no successor", s)
		}
		if next != want[i] {
			t.Fatalf("after %q got %q, want %q", s, next, want[i])
		}
		s = next
	}
	if _, ok := s.Next(); ok {
		t.Fatalf("terminal status %q must not advance", s)
	}
	if !s.Terminal() {
		t.Fatalf("expected %q to be terminal", s)
	}
	if Status("failed").Valid() {
		t.Fatalf("unknown status reported valid")
	}
}

func TestAdvanceValidate(t *testing.T) {
	tests := []struct {
		name    string
		adv     Advance
		wantErr bool
	}{
		{name: "ocr", adv: AdvanceOCR(OCRResult{ExtractedText: "x"})},
		{name: "classification", adv: AdvanceClassification(Classification{Category: "Invoice"})},
		{name: "summary", adv: AdvanceSummary(Summary{Text: "s"})},
		{
			name:    "skip",
			adv:     Advance{From: StatusUploaded, To: StatusClassified, Classification: &Classification{}},
			wantErr: true,
		},
		{
			name:    "regress",
			adv:     Advance{From: StatusClassified, To: StatusOCRComplete, OCRResult: &OCRResult{}},
			wantErr: true,
		},
		{
			name:    "wrong field",
			adv:     Advance{From: StatusUploaded, To: StatusOCRComplete, Summary: &Summary{}},
			wantErr: true,
		},
		{
			name: "two fields",
			adv: Advance{
				From:      StatusUploaded,
				To:        StatusOCRComplete,
				OCRResult: &OCRResult{},
				Summary:   &Summary{},
			},
			wantErr: true,
		},
		{name: "from terminal", adv: Advance{From: StatusSummarized, To: StatusSummarized, Summary: &Summary{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.adv.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidInput) {
					t.Fatalf("expected ErrInvalidInput, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestAdvanceApplyWritesOnlyOwnField(t *testing.T) {
	rec := Record{DocumentID: "d", UploadTimestamp: 1, Status: StatusUploaded}
	AdvanceOCR(OCRResult{ExtractedText: "hello", Confidence: 90}).Apply(&rec)

	if rec.Status != StatusOCRComplete {
		t.Fatalf("status = %q", rec.Status)
	}
	if rec.OCRResult == nil || rec.OCRResult.ExtractedText != "hello" {
		t.Fatalf("ocr result not applied: %+v", rec.OCRResult)
	}
	if rec.Classification != nil || rec.Summary != nil {
		t.Fatalf("unexpected fields set: %+v", rec)
	}
}

func TestAdvanceCheckCurrent(t *testing.T) {
	adv := AdvanceClassification(Classification{Category: "Report"})
	if err := adv.CheckCurrent(StatusOCRComplete); err != nil {
		t.Fatalf("expected advance to proceed, got %v", err)
	}
	for _, s := range []Status{StatusUploaded, StatusClassified, StatusSummarized} {
		if err := adv.CheckCurrent(s); !errors.Is(err, ErrStaleStatus) {
			t.Fatalf("current=%q: expected ErrStaleStatus, got %v", s, err)
		}
	}
}
