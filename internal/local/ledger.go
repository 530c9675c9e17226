package local

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// Ledger is an in-process result ledger. Records are copied on the way in
// and out so callers never share memory with the store.
type Ledger struct {
	mu      sync.RWMutex
	records map[models.RecordKey]models.Record
}

func NewLedger() *Ledger {
	return &Ledger{records: make(map[models.RecordKey]models.Record)}
}

func (l *Ledger) Create(_ context.Context, rec models.Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.records[rec.Key()]; ok {
		return fmt.Errorf("record %s/%d: %w", rec.DocumentID, rec.UploadTimestamp, models.ErrAlreadyExists)
	}
	l.records[rec.Key()] = rec.Clone()
	return nil
}

func (l *Ledger) Get(_ context.Context, key models.RecordKey) (models.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.records[key]
	if !ok {
		return models.Record{}, fmt.Errorf("record %s/%d: %w", key.DocumentID, key.UploadTimestamp, models.ErrNotFound)
	}
	return rec.Clone(), nil
}

func (l *Ledger) FindByDocument(_ context.Context, documentID string) ([]models.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []models.Record
	for key, rec := range l.records {
		if key.DocumentID == documentID {
			out = append(out, rec.Clone())
		}
	}
	sort.Sort(models.ByNewest(out))
	return out, nil
}

func (l *Ledger) List(_ context.Context) ([]models.Record, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]models.Record, 0, len(l.records))
	for _, rec := range l.records {
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (l *Ledger) Advance(_ context.Context, key models.RecordKey, adv models.Advance) error {
	if err := adv.Validate(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("record %s/%d: %w", key.DocumentID, key.UploadTimestamp, models.ErrNotFound)
	}
	if err := adv.CheckCurrent(rec.Status); err != nil {
		return err
	}
	adv.Apply(&rec)
	l.records[key] = rec
	return nil
}

func (l *Ledger) MarkFailed(_ context.Context, key models.RecordKey, failure models.Failure) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.records[key]
	if !ok {
		return fmt.Errorf("record %s/%d: %w", key.DocumentID, key.UploadTimestamp, models.ErrNotFound)
	}
	rec.Failure = &failure
	l.records[key] = rec
	return nil
}
