package models

import "fmt"

// Status is the pipeline position of a Record.
type Status string

const (
	StatusUploaded    Status = "uploaded"
	StatusOCRComplete Status = "ocr-complete"
	StatusClassified  Status = "classified"
	StatusSummarized  Status = "summarized"
)

var statusOrder = []Status{StatusUploaded, StatusOCRComplete, StatusClassified, StatusSummarized}

// Rank is the zero-based position of s in the chain, -1 when unknown.
func (s Status) Rank() int {
	for i, st := range statusOrder {
		if st == s {
			return i
		}
	}
	return -1
}

func (s Status) Valid() bool { return s.Rank() >= 0 }

// Terminal reports whether no stage runs after s.
func (s Status) Terminal() bool { return s == StatusSummarized }

// Next returns the status that follows s, or false when s is terminal or unknown.
func (s Status) Next() (Status, bool) {
	r := s.Rank()
	if r < 0 || r == len(statusOrder)-1 {
		return "", false
	}
	return statusOrder[r+1], true
}

// Stage names a pipeline handler. It is recorded on failures and used as a
// metrics label.
type Stage string

const (
	StageIntake         Stage = "intake"
	StageExtraction     Stage = "extraction"
	StageClassification Stage = "classification"
	StageSummarization  Stage = "summarization"
)

// Advance is one status transition plus the single stage field it writes.
type Advance struct {
	From Status
	To   Status

	OCRResult      *OCRResult
	Classification *Classification
	Summary        *Summary
}

func AdvanceOCR(res OCRResult) Advance {
	return Advance{From: StatusUploaded, To: StatusOCRComplete, OCRResult: &res}
}

func AdvanceClassification(c Classification) Advance {
	return Advance{From: StatusOCRComplete, To: StatusClassified, Classification: &c}
}

func AdvanceSummary(s Summary) Advance {
	return Advance{From: StatusClassified, To: StatusSummarized, Summary: &s}
}

// Validate rejects transitions that skip or regress, and transitions that
// carry a field other than the one owned by the target status.
func (a Advance) Validate() error {
	next, ok := a.From.Next()
	if !ok || next != a.To {
		return fmt.Errorf("%w: illegal transition %q -> %q", ErrInvalidInput, a.From, a.To)
	}
	fields := 0
	if a.OCRResult != nil {
		fields++
	}
	if a.Classification != nil {
		fields++
	}
	if a.Summary != nil {
		fields++
	}
	if fields != 1 {
		return fmt.Errorf("%w: transition to %q must carry exactly one result", ErrInvalidInput, a.To)
	}
	switch {
	case a.To == StatusOCRComplete && a.OCRResult == nil,
		a.To == StatusClassified && a.Classification == nil,
		a.To == StatusSummarized && a.Summary == nil:
		return fmt.Errorf("%w: transition to %q carries the wrong result", ErrInvalidInput, a.To)
	}
	return nil
}

// Apply writes the transition onto rec. The caller has already checked that
// rec.Status == a.From.
func (a Advance) Apply(rec *Record) {
	rec.Status = a.To
	switch {
	case a.OCRResult != nil:
		v := *a.OCRResult
		rec.OCRResult = &v
	case a.Classification != nil:
		v := *a.Classification
		rec.Classification = &v
	case a.Summary != nil:
		v := *a.Summary
		rec.Summary = &v
	}
}

// FieldPath is the ledger field written by the transition.
func (a Advance) FieldPath() string {
	switch a.To {
	case StatusOCRComplete:
		return "ocrResult"
	case StatusClassified:
		return "classification"
	case StatusSummarized:
		return "summary"
	}
	return ""
}

// FieldValue is the value stored under FieldPath.
func (a Advance) FieldValue() any {
	switch {
	case a.OCRResult != nil:
		return *a.OCRResult
	case a.Classification != nil:
		return *a.Classification
	case a.Summary != nil:
		return *a.Summary
	}
	return nil
}

// CheckCurrent maps the stored status of a record to the outcome of a
// conditional advance: nil when the advance may proceed, ErrStaleStatus when
// the record is elsewhere in the chain.
func (a Advance) CheckCurrent(current Status) error {
	if current == a.From {
		return nil
	}
	return fmt.Errorf("%w: record is %q, expected %q", ErrStaleStatus, current, a.From)
}
