package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// ExtractionFunction runs once per storage write: it extracts the document's
// text, records it and hands off to classification.
type ExtractionFunction struct {
	base
	ledger    Ledger
	extractor TextExtractor
	next      NextStage
}

// NewExtraction creates a new ExtractionFunction instance.
func NewExtraction(ledger Ledger, extractor TextExtractor, next NextStage, opts ...Option) *ExtractionFunction {
	return &ExtractionFunction{
		base:      newBase(models.StageExtraction, opts),
		ledger:    ledger,
		extractor: extractor,
		next:      next,
	}
}

// Process handles the core logic of extracting text from one stored object.
// A key with no ledger record yields ErrNotFound and leaves the ledger untouched.
func (f *ExtractionFunction) Process(ctx context.Context, e models.StorageWrite) (*models.StageResult, error) {
	started := f.now()
	res, err := f.process(ctx, e)
	outcome := outcomeOf(err)
	if err == nil && res.Skipped {
		outcome = OutcomeSkipped
	}
	f.observe(outcome, started)
	return res, err
}

func (f *ExtractionFunction) process(ctx context.Context, e models.StorageWrite) (*models.StageResult, error) {
	logCtx := f.logger.With("bucket", e.Bucket, "storageKey", e.Key)
	logCtx.Info("Processing new storage object.")

	documentID := e.DocumentID()
	if documentID == "" {
		return nil, fmt.Errorf("%w: storage key %q has no document id", models.ErrInvalidInput, e.Key)
	}
	logCtx = logCtx.With("documentId", documentID)

	// The storage event does not carry the upload timestamp, so the record
	// has to be looked up by document id.
	recs, err := f.ledger.FindByDocument(ctx, documentID)
	if err != nil {
		logCtx.Error("Failed to query ledger", "error", err)
		return nil, models.WrapError(models.ErrDownstream, "query ledger", err)
	}
	if len(recs) == 0 {
		logCtx.Warn("No ledger record found for document. Not retrying.")
		return nil, fmt.Errorf("document %s: %w", documentID, models.ErrNotFound)
	}
	rec := recs[0]
	key := rec.Key()
	logCtx = logCtx.With("uploadTimestamp", key.UploadTimestamp)

	if rec.Status != models.StatusUploaded {
		logCtx.Info("Duplicate storage event. Record already past extraction.", "currentStatus", rec.Status)
		return &models.StageResult{DocumentID: documentID, Status: rec.Status, Skipped: true}, nil
	}

	contentType := e.ContentType
	if contentType == "" {
		contentType = rec.ContentType
	}
	lines, err := f.extractor.Extract(ctx, models.ExtractRequest{Bucket: e.Bucket, Key: e.Key, ContentType: contentType})
	if err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, key, "text extraction failed", err)
	}

	text, confidence := JoinLines(lines)
	logCtx.Info("Text extracted.", "lineCount", len(lines), "confidence", confidence)

	adv := models.AdvanceOCR(models.OCRResult{
		ExtractedText: text,
		Confidence:    confidence,
		ProcessedAt:   f.nowMillis(),
	})
	skipped, err := f.advance(ctx, f.ledger, logCtx, key, adv)
	if err != nil {
		return nil, err
	}
	if skipped {
		return &models.StageResult{DocumentID: documentID, Status: adv.To, Skipped: true}, nil
	}

	handoff := models.Handoff{DocumentID: documentID, Timestamp: key.UploadTimestamp, Text: text}
	if err := f.next.Handoff(ctx, handoff); err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, key, "failed to hand off to classification", err)
	}

	logCtx.Info("Hand-off to classification complete.")
	return &models.StageResult{DocumentID: documentID, Status: adv.To}, nil
}

// JoinLines concatenates line texts in order, newline separated, and
// averages their confidence. Zero lines give an empty text and confidence 0.
func JoinLines(lines []models.Line) (string, float64) {
	if len(lines) == 0 {
		return "", 0
	}
	texts := make([]string, len(lines))
	var sum float64
	for i, l := range lines {
		texts[i] = l.Text
		sum += l.Confidence
	}
	return strings.Join(texts, "\n"), sum / float64(len(lines))
}

// IsTerminalStageError reports whether an error should end the invocation
// without asking the trigger source for a redelivery.
func IsTerminalStageError(err error) bool {
	return errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInvalidInput)
}
