package services

import (
	"context"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// SummarizationFunction writes the summary, the pipeline's terminal step.
type SummarizationFunction struct {
	base
	ledger Ledger
	model  LanguageModel
}

// NewSummarization creates a new SummarizationFunction instance.
func NewSummarization(ledger Ledger, model LanguageModel, opts ...Option) *SummarizationFunction {
	return &SummarizationFunction{
		base:   newBase(models.StageSummarization, opts),
		ledger: ledger,
		model:  model,
	}
}

// Process handles one handoff from classification.
func (f *SummarizationFunction) Process(ctx context.Context, h models.Handoff) (*models.StageResult, error) {
	started := f.now()
	res, err := f.process(ctx, h)
	outcome := outcomeOf(err)
	if err == nil && res.Skipped {
		outcome = OutcomeSkipped
	}
	f.observe(outcome, started)
	return res, err
}

func (f *SummarizationFunction) process(ctx context.Context, h models.Handoff) (*models.StageResult, error) {
	key := h.Key()
	logCtx := f.logger.With("documentId", h.DocumentID, "uploadTimestamp", h.Timestamp)
	logCtx.Info("Starting summarization.")

	rec, ok, err := f.lookup(ctx, f.ledger, logCtx, key, models.StatusClassified)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &models.StageResult{DocumentID: h.DocumentID, Status: rec.Status, Skipped: true}, nil
	}

	summary, err := f.model.Generate(ctx, BuildSummaryPrompt(h.Text), summaryMaxTokens)
	if err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, key, "summarization model call failed", err)
	}
	summary = strings.TrimSpace(summary)
	if summary == "" {
		logCtx.Warn("Model returned an empty summary.")
	}

	adv := models.AdvanceSummary(models.Summary{Text: summary, ProcessedAt: f.nowMillis()})
	skipped, err := f.advance(ctx, f.ledger, logCtx, key, adv)
	if err != nil {
		return nil, err
	}

	logCtx.Info("Summarization complete.", "skipped", skipped)
	return &models.StageResult{DocumentID: h.DocumentID, Status: adv.To, Skipped: skipped}, nil
}
