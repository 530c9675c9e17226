package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

// Ledger keeps records in one table keyed by (document_id, upload_timestamp).
// Stage results live in JSONB columns.
type Ledger struct {
	db *sql.DB
}

func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (l *Ledger) EnsureSchema(ctx context.Context) error {
	const query = `
CREATE TABLE IF NOT EXISTS ledger_records (
	document_id TEXT NOT NULL,
	upload_timestamp BIGINT NOT NULL,
	file_name TEXT NOT NULL,
	storage_key TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	ocr_result JSONB,
	classification JSONB,
	summary JSONB,
	failure JSONB,
	PRIMARY KEY (document_id, upload_timestamp)
);
`
	if _, err := l.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}
	return nil
}

const selectColumns = `SELECT document_id, upload_timestamp, file_name, storage_key, content_type, status, ocr_result, classification, summary, failure
FROM ledger_records`

func (l *Ledger) Create(ctx context.Context, rec models.Record) error {
	res, err := l.db.ExecContext(ctx, `
INSERT INTO ledger_records (document_id, upload_timestamp, file_name, storage_key, content_type, status)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (document_id, upload_timestamp) DO NOTHING
`, rec.DocumentID, rec.UploadTimestamp, rec.FileName, rec.StorageKey, rec.ContentType, string(rec.Status))
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.WrapError(models.ErrAlreadyExists, "insert record", fmt.Errorf("%s/%d", rec.DocumentID, rec.UploadTimestamp))
	}
	return nil
}

func (l *Ledger) Get(ctx context.Context, key models.RecordKey) (models.Record, error) {
	row := l.db.QueryRowContext(ctx, selectColumns+`
WHERE document_id = $1 AND upload_timestamp = $2`, key.DocumentID, key.UploadTimestamp)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Record{}, models.WrapError(models.ErrNotFound, "get record", err)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

func (l *Ledger) FindByDocument(ctx context.Context, documentID string) ([]models.Record, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
WHERE document_id = $1
ORDER BY upload_timestamp DESC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	return scanRecords(rows)
}

func (l *Ledger) List(ctx context.Context) ([]models.Record, error) {
	rows, err := l.db.QueryContext(ctx, selectColumns+`
ORDER BY upload_timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return scanRecords(rows)
}

// stageColumns maps an advance's field onto its column. Column names are
// never taken from input.
var stageColumns = map[string]string{
	"ocrResult":      "ocr_result",
	"classification": "classification",
	"summary":        "summary",
}

// Advance is a single conditional UPDATE. When no row matches, a follow-up
// read tells a missing record from one at another status.
func (l *Ledger) Advance(ctx context.Context, key models.RecordKey, adv models.Advance) error {
	if err := adv.Validate(); err != nil {
		return err
	}
	column, ok := stageColumns[adv.FieldPath()]
	if !ok {
		return fmt.Errorf("%w: no column for %q", models.ErrInvalidInput, adv.FieldPath())
	}
	value, err := json.Marshal(adv.FieldValue())
	if err != nil {
		return fmt.Errorf("marshal %s: %w", column, err)
	}

	res, err := l.db.ExecContext(ctx, `
UPDATE ledger_records
SET status = $3, `+column+` = $4
WHERE document_id = $1 AND upload_timestamp = $2 AND status = $5
`, key.DocumentID, key.UploadTimestamp, string(adv.To), string(value), string(adv.From))
	if err != nil {
		return fmt.Errorf("advance record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("advance rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var current string
	err = l.db.QueryRowContext(ctx, `
SELECT status FROM ledger_records WHERE document_id = $1 AND upload_timestamp = $2
`, key.DocumentID, key.UploadTimestamp).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return models.WrapError(models.ErrNotFound, "advance record", err)
	}
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	return adv.CheckCurrent(models.Status(current))
}

func (l *Ledger) MarkFailed(ctx context.Context, key models.RecordKey, failure models.Failure) error {
	value, err := json.Marshal(failure)
	if err != nil {
		return fmt.Errorf("marshal failure: %w", err)
	}
	res, err := l.db.ExecContext(ctx, `
UPDATE ledger_records SET failure = $3
WHERE document_id = $1 AND upload_timestamp = $2
`, key.DocumentID, key.UploadTimestamp, string(value))
	if err != nil {
		return fmt.Errorf("flag record: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return models.WrapError(models.ErrNotFound, "flag record", sql.ErrNoRows)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (models.Record, error) {
	var (
		rec                                models.Record
		status                             string
		ocr, classification, summary, fail sql.NullString
	)
	if err := s.Scan(
		&rec.DocumentID, &rec.UploadTimestamp, &rec.FileName, &rec.StorageKey, &rec.ContentType,
		&status, &ocr, &classification, &summary, &fail,
	); err != nil {
		return models.Record{}, err
	}
	rec.Status = models.Status(status)

	var err error
	if rec.OCRResult, err = decodeJSON[models.OCRResult](ocr); err != nil {
		return models.Record{}, fmt.Errorf("decode ocr_result: %w", err)
	}
	if rec.Classification, err = decodeJSON[models.Classification](classification); err != nil {
		return models.Record{}, fmt.Errorf("decode classification: %w", err)
	}
	if rec.Summary, err = decodeJSON[models.Summary](summary); err != nil {
		return models.Record{}, fmt.Errorf("decode summary: %w", err)
	}
	if rec.Failure, err = decodeJSON[models.Failure](fail); err != nil {
		return models.Record{}, fmt.Errorf("decode failure: %w", err)
	}
	return rec, nil
}

func scanRecords(rows *sql.Rows) ([]models.Record, error) {
	defer rows.Close()
	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func decodeJSON[T any](col sql.NullString) (*T, error) {
	if !col.Valid || col.String == "" {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, err
	}
	return &v, nil
}
