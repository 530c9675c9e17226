package gcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

// FirestoreLedger keeps one document per record in a single collection.
type FirestoreLedger struct {
	client     *firestore.Client
	collection string
}

func NewFirestoreLedger(client *firestore.Client, collection string) *FirestoreLedger {
	return &FirestoreLedger{client: client, collection: collection}
}

// DocumentName is the Firestore document id of a record.
func DocumentName(key models.RecordKey) string {
	return key.DocumentID + "_" + strconv.FormatInt(key.UploadTimestamp, 10)
}

func (l *FirestoreLedger) ref(key models.RecordKey) *firestore.DocumentRef {
	return l.client.Collection(l.collection).Doc(DocumentName(key))
}

func (l *FirestoreLedger) Create(ctx context.Context, rec models.Record) error {
	if _, err := l.ref(rec.Key()).Create(ctx, rec); err != nil {
		return grpcKind("create record", err)
	}
	return nil
}

func (l *FirestoreLedger) Get(ctx context.Context, key models.RecordKey) (models.Record, error) {
	snap, err := l.ref(key).Get(ctx)
	if err != nil {
		return models.Record{}, grpcKind("get record", err)
	}
	var rec models.Record
	if err := snap.DataTo(&rec); err != nil {
		return models.Record{}, fmt.Errorf("decode record %s: %w", snap.Ref.ID, err)
	}
	return rec, nil
}

// FindByDocument sorts in memory so the query needs no composite index.
func (l *FirestoreLedger) FindByDocument(ctx context.Context, documentID string) ([]models.Record, error) {
	iter := l.client.Collection(l.collection).Where("documentId", "==", documentID).Documents(ctx)
	recs, err := collect(iter)
	if err != nil {
		return nil, err
	}
	sort.Sort(models.ByNewest(recs))
	return recs, nil
}

func (l *FirestoreLedger) List(ctx context.Context) ([]models.Record, error) {
	return collect(l.client.Collection(l.collection).Documents(ctx))
}

func collect(iter *firestore.DocumentIterator) ([]models.Record, error) {
	defer iter.Stop()
	var recs []models.Record
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return recs, nil
		}
		if err != nil {
			return nil, grpcKind("query records", err)
		}
		var rec models.Record
		if err := snap.DataTo(&rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", snap.Ref.ID, err)
		}
		recs = append(recs, rec)
	}
}

// Advance reads the status and writes the transition in one transaction so
// concurrent invocations cannot both move the record.
func (l *FirestoreLedger) Advance(ctx context.Context, key models.RecordKey, adv models.Advance) error {
	if err := adv.Validate(); err != nil {
		return err
	}
	ref := l.ref(key)
	err := l.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var current struct {
			Status models.Status `firestore:"status"`
		}
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		if err := adv.CheckCurrent(current.Status); err != nil {
			return err
		}
		return tx.Update(ref, []firestore.Update{
			{Path: adv.FieldPath(), Value: adv.FieldValue()},
			{Path: "status", Value: adv.To},
		})
	})
	if err != nil {
		if errors.Is(err, models.ErrStaleStatus) {
			return err
		}
		return grpcKind("advance record", err)
	}
	return nil
}

func (l *FirestoreLedger) MarkFailed(ctx context.Context, key models.RecordKey, failure models.Failure) error {
	_, err := l.ref(key).Update(ctx, []firestore.Update{{Path: "failure", Value: failure}})
	if err != nil {
		return grpcKind("flag record", err)
	}
	return nil
}

// grpcKind maps Google Cloud status codes onto the pipeline's error kinds.
func grpcKind(op string, err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return models.WrapError(models.ErrNotFound, op, err)
	case codes.AlreadyExists:
		return models.WrapError(models.ErrAlreadyExists, op, err)
	case codes.InvalidArgument:
		return models.WrapError(models.ErrInvalidInput, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
