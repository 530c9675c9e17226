package services

import (
	"context"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// DocumentStore is durable storage for uploaded bytes. A successful Put is
// the storage write that triggers extraction.
type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
}

// Ledger holds one evolving record per document.
//
// Advance applies a transition atomically and only when the stored status
// equals adv.From. It returns ErrNotFound when the key does not exist and
// ErrStaleStatus when the record is elsewhere in the chain.
type Ledger interface {
	Create(ctx context.Context, rec models.Record) error
	Get(ctx context.Context, key models.RecordKey) (models.Record, error)
	FindByDocument(ctx context.Context, documentID string) ([]models.Record, error)
	List(ctx context.Context) ([]models.Record, error)
	Advance(ctx context.Context, key models.RecordKey, adv models.Advance) error
	MarkFailed(ctx context.Context, key models.RecordKey, failure models.Failure) error
}

// TextExtractor converts a stored document into lines of text.
type TextExtractor interface {
	Extract(ctx context.Context, req models.ExtractRequest) ([]models.Line, error)
}

// LanguageModel answers a single text prompt.
type LanguageModel interface {
	Generate(ctx context.Context, prompt string, maxTokens int32) (string, error)
}

// NextStage starts the following stage. Handoff returns once the message has
// been accepted by the transport; it never waits for the next stage to run.
type NextStage interface {
	Handoff(ctx context.Context, h models.Handoff) error
}

// StageObserver receives one observation per stage invocation.
type StageObserver interface {
	ObserveStage(stage models.Stage, outcome string, elapsed time.Duration)
}

// Stage outcomes reported to the observer.
const (
	OutcomeOK       = "ok"
	OutcomeSkipped  = "skipped"
	OutcomeNotFound = "not_found"
	OutcomeInvalid  = "invalid"
	OutcomeFailed   = "failed"
)
