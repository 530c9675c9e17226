package services

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// ResultsFunction is the read-only query surface over the ledger.
type ResultsFunction struct {
	ledger Ledger
	logger *slog.Logger
}

// NewResults creates a new ResultsFunction instance.
func NewResults(ledger Ledger, logger *slog.Logger) *ResultsFunction {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResultsFunction{ledger: ledger, logger: logger}
}

// List returns every record, in no particular order.
func (f *ResultsFunction) List(ctx context.Context) ([]models.Record, error) {
	recs, err := f.ledger.List(ctx)
	if err != nil {
		f.logger.Error("Failed to list ledger records", "error", err)
		return nil, fmt.Errorf("list records: %w", err)
	}
	if recs == nil {
		recs = []models.Record{}
	}
	return recs, nil
}

// Get returns every version recorded for documentID, newest first. An unknown
// id gives an empty slice and no error.
func (f *ResultsFunction) Get(ctx context.Context, documentID string) ([]models.Record, error) {
	if documentID == "" {
		return nil, fmt.Errorf("%w: documentId is required", models.ErrInvalidInput)
	}
	recs, err := f.ledger.FindByDocument(ctx, documentID)
	if err != nil {
		f.logger.Error("Failed to query ledger records", "error", err, "documentId", documentID)
		return nil, fmt.Errorf("query records: %w", err)
	}
	if recs == nil {
		return []models.Record{}, nil
	}
	sort.Sort(models.ByNewest(recs))
	return recs, nil
}
