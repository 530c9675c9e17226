package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// Option customises a stage function.
type Option func(*base)

// WithLogger sets the logger a stage writes to. The slog default is used otherwise.
func WithLogger(l *slog.Logger) Option {
	return func(b *base) { b.logger = l }
}

// WithClock replaces the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *base) { b.now = now }
}

// WithObserver reports stage outcomes, typically to metrics.
func WithObserver(o StageObserver) Option {
	return func(b *base) { b.observer = o }
}

// base holds what every stage function shares. None of it is mutable after
// construction.
type base struct {
	stage    models.Stage
	logger   *slog.Logger
	now      func() time.Time
	observer StageObserver
}

func newBase(stage models.Stage, opts []Option) base {
	b := base{stage: stage, now: time.Now}
	for _, opt := range opts {
		opt(&b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	b.logger = b.logger.With("stage", string(stage))
	return b
}

func (b base) nowMillis() int64 { return b.now().UnixMilli() }

func (b base) observe(outcome string, started time.Time) {
	if b.observer != nil {
		b.observer.ObserveStage(b.stage, outcome, b.now().Sub(started))
	}
}

// outcomeOf maps a stage error to its observed outcome.
func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, models.ErrNotFound):
		return OutcomeNotFound
	case errors.Is(err, models.ErrInvalidInput):
		return OutcomeInvalid
	default:
		return OutcomeFailed
	}
}

// handleError logs a stage failure, flags it on the record and returns the
// error the caller reports. The record keeps its last successful status.
func (b base) handleError(ctx context.Context, ledger Ledger, logCtx *slog.Logger, key models.RecordKey, message string, originalErr error) error {
	logCtx.Error(message, "error", originalErr)
	failure := models.Failure{
		Stage:    b.stage,
		Message:  fmt.Sprintf("%s: %v", message, originalErr),
		FailedAt: b.nowMillis(),
	}
	if err := ledger.MarkFailed(ctx, key, failure); err != nil {
		logCtx.Error("Failed to flag the record after a processing error.", "updateError", err)
	}
	if errors.Is(originalErr, models.ErrDownstream) {
		return fmt.Errorf("%s: %w", message, originalErr)
	}
	return models.WrapError(models.ErrDownstream, message, originalErr)
}

// advance applies the stage's ledger transition and translates the ledger's
// conditional outcome. skipped is true when another invocation already moved
// the record on.
func (b base) advance(ctx context.Context, ledger Ledger, logCtx *slog.Logger, key models.RecordKey, adv models.Advance) (skipped bool, err error) {
	err = ledger.Advance(ctx, key, adv)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, models.ErrStaleStatus):
		logCtx.Info("Record already advanced by another invocation. Skipping.", "reason", err.Error())
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		logCtx.Warn("Record disappeared before it could be updated.")
		return false, err
	default:
		return false, b.handleError(ctx, ledger, logCtx, key, fmt.Sprintf("failed to advance status to %s", adv.To), err)
	}
}

// lookup loads the record a handoff refers to and reports whether the stage
// should run: only when the record sits exactly at want.
func (b base) lookup(ctx context.Context, ledger Ledger, logCtx *slog.Logger, key models.RecordKey, want models.Status) (models.Record, bool, error) {
	rec, err := ledger.Get(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			logCtx.Warn("No ledger record found for handoff.")
			return models.Record{}, false, err
		}
		logCtx.Error("Failed to load ledger record", "error", err)
		return models.Record{}, false, models.WrapError(models.ErrDownstream, "load ledger record", err)
	}
	if rec.Status != want {
		logCtx.Info("Record is not waiting for this stage. Skipping duplicate trigger.", "currentStatus", rec.Status)
		return rec, false, nil
	}
	return rec, true, nil
}
