package gcp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"google.golang.org/api/googleapi"
)

// DocumentStore writes uploads to a Cloud Storage bucket. The bucket's
// finalize notification is what starts extraction.
type DocumentStore struct {
	bucket *storage.BucketHandle
	name   string
}

func NewDocumentStore(client *storage.Client, bucket string) *DocumentStore {
	return &DocumentStore{bucket: client.Bucket(bucket), name: bucket}
}

// Bucket is the name of the underlying bucket.
func (s *DocumentStore) Bucket() string { return s.name }

// Put writes the object only if it does not already exist, so a retried
// upload never overwrites bytes extraction may already be reading.
func (s *DocumentStore) Put(ctx context.Context, key, contentType string, data []byte) error {
	w := s.bucket.Object(key).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return storageKind(key, err)
	}
	if err := w.Close(); err != nil {
		return storageKind(key, err)
	}
	return nil
}

func (s *DocumentStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := s.bucket.Object(key).NewReader(ctx)
	if err != nil {
		return nil, storageKind(key, err)
	}
	return r, nil
}

func storageKind(key string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return models.WrapError(models.ErrNotFound, "object "+key, err)
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		return models.WrapError(models.ErrAlreadyExists, "object "+key, err)
	}
	return fmt.Errorf("object %s: %w", key, err)
}
