package services

import (
	"context"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// ClassificationFunction labels a document and hands off to summarization.
type ClassificationFunction struct {
	base
	ledger Ledger
	model  LanguageModel
	next   NextStage
}

// NewClassification creates a new ClassificationFunction instance.
func NewClassification(ledger Ledger, model LanguageModel, next NextStage, opts ...Option) *ClassificationFunction {
	return &ClassificationFunction{
		base:   newBase(models.StageClassification, opts),
		ledger: ledger,
		model:  model,
		next:   next,
	}
}

// Process handles one handoff from extraction.
func (f *ClassificationFunction) Process(ctx context.Context, h models.Handoff) (*models.StageResult, error) {
	started := f.now()
	res, err := f.process(ctx, h)
	outcome := outcomeOf(err)
	if err == nil && res.Skipped {
		outcome = OutcomeSkipped
	}
	f.observe(outcome, started)
	return res, err
}

func (f *ClassificationFunction) process(ctx context.Context, h models.Handoff) (*models.StageResult, error) {
	key := h.Key()
	logCtx := f.logger.With("documentId", h.DocumentID, "uploadTimestamp", h.Timestamp)
	logCtx.Info("Starting classification.")

	rec, ok, err := f.lookup(ctx, f.ledger, logCtx, key, models.StatusOCRComplete)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.StageResult{DocumentID: h.DocumentID, Status: rec.Status, Skipped: true}, nil
	}

	answer, err := f.model.Generate(ctx, BuildClassificationPrompt(h.Text), classificationMaxTokens)
	if err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, key, "classification model call failed", err)
	}
	answer = strings.TrimSpace(answer)
	category := NormalizeCategory(answer)
	if category == CategoryOther && !strings.EqualFold(answer, CategoryOther) {
		logCtx.Warn("Model answer is outside the label set. Using Other.", "answer", answer)
	}

	adv := models.AdvanceClassification(models.Classification{
		Category:    category,
		Confidence:  ClassificationConfidence,
		ProcessedAt: f.nowMillis(),
	})
	skipped, err := f.advance(ctx, f.ledger, logCtx, key, adv)
	if err != nil {
		return nil, err
	}
	if skipped {
		return &models.StageResult{DocumentID: h.DocumentID, Status: adv.To, Skipped: true}, nil
	}

	if err := f.next.Handoff(ctx, h); err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, key, "failed to hand off to summarization", err)
	}

	logCtx.Info("Classification complete.", "category", category)
	return &models.StageResult{DocumentID: h.DocumentID, Status: adv.To}, nil
}
