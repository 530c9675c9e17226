// Package redisledger stores ledger records in Redis as JSON strings, with a
// per-document sorted set of upload timestamps for lookups by document id.
package redisledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/redis/go-redis/v9"
)

const (
	recordPrefix   = "ledger:record:"
	documentPrefix = "ledger:document:"
	allRecordsKey  = "ledger:records"

	maxTxRetries = 5
)

// Ledger is a result ledger backed by Redis. Conditional updates use
// WATCH/MULTI so concurrent stages cannot both advance a record.
type Ledger struct {
	client redis.UniversalClient
}

func New(client redis.UniversalClient) *Ledger {
	return &Ledger{client: client}
}

// Connect builds a client and checks the server answers.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func RecordKey(key models.RecordKey) string {
	return recordPrefix + key.DocumentID + ":" + strconv.FormatInt(key.UploadTimestamp, 10)
}

func documentKey(documentID string) string { return documentPrefix + documentID }

func (l *Ledger) Create(ctx context.Context, rec models.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	key := RecordKey(rec.Key())
	return l.withRetry(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("record %s: %w", key, models.ErrAlreadyExists)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, documentKey(rec.DocumentID), redis.Z{Score: float64(rec.UploadTimestamp), Member: rec.UploadTimestamp})
			pipe.SAdd(ctx, allRecordsKey, key)
			return nil
		})
		return err
	}, key)
}

func (l *Ledger) Get(ctx context.Context, key models.RecordKey) (models.Record, error) {
	return l.load(ctx, l.client, RecordKey(key))
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (l *Ledger) load(ctx context.Context, c getter, key string) (models.Record, error) {
	raw, err := c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.Record{}, fmt.Errorf("record %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		return models.Record{}, fmt.Errorf("get %s: %w", key, err)
	}
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return models.Record{}, fmt.Errorf("decode %s: %w", key, err)
	}
	return rec, nil
}

// FindByDocument returns versions newest first, following the sorted set.
func (l *Ledger) FindByDocument(ctx context.Context, documentID string) ([]models.Record, error) {
	members, err := l.client.ZRevRange(ctx, documentKey(documentID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("index %s: %w", documentID, err)
	}
	keys := make([]string, len(members))
	for i, ts := range members {
		keys[i] = recordPrefix + documentID + ":" + ts
	}
	return l.mget(ctx, keys)
}

func (l *Ledger) List(ctx context.Context) ([]models.Record, error) {
	keys, err := l.client.SMembers(ctx, allRecordsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return l.mget(ctx, keys)
}

func (l *Ledger) mget(ctx context.Context, keys []string) ([]models.Record, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := l.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget records: %w", err)
	}
	recs := make([]models.Record, 0, len(vals))
	for i, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var rec models.Record
		if err := json.Unmarshal([]byte(s), &rec); err != nil {
			return nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (l *Ledger) Advance(ctx context.Context, key models.RecordKey, adv models.Advance) error {
	if err := adv.Validate(); err != nil {
		return err
	}
	return l.update(ctx, RecordKey(key), func(rec *models.Record) error {
		if err := adv.CheckCurrent(rec.Status); err != nil {
			return err
		}
		adv.Apply(rec)
		return nil
	})
}

func (l *Ledger) MarkFailed(ctx context.Context, key models.RecordKey, failure models.Failure) error {
	return l.update(ctx, RecordKey(key), func(rec *models.Record) error {
		rec.Failure = &failure
		return nil
	})
}

// update is a read-modify-write of one record under WATCH.
func (l *Ledger) update(ctx context.Context, key string, mutate func(*models.Record) error) error {
	return l.withRetry(ctx, func(tx *redis.Tx) error {
		rec, err := l.load(ctx, tx, key)
		if err != nil {
			return err
		}
		if err := mutate(&rec); err != nil {
			return err
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			return nil
		})
		return err
	}, key)
}

// withRetry reruns fn when another client touched the watched keys first.
func (l *Ledger) withRetry(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := l.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("redis transaction on %v kept conflicting: %w", keys, redis.TxFailedErr)
}
