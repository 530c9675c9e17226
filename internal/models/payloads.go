package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// These structs define the JSON payloads exchanged with callers and between
// pipeline stages.

// UploadRequest is the body of the intake endpoint. File carries the
// document bytes; on the wire it is base64 encoded.
type UploadRequest struct {
	File        []byte `json:"file"`
	FileName    string `json:"fileName"`
	ContentType string `json:"contentType"`
}

// UploadResponse is returned by intake on success.
type UploadResponse struct {
	DocumentID string `json:"documentId"`
	Status     Status `json:"status"`
}

// ErrorResponse is the uniform error payload of every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StageResult reports what a stage did with one trigger.
type StageResult struct {
	DocumentID string `json:"documentId"`
	Status     Status `json:"status"`
	Skipped    bool   `json:"skipped,omitempty"`
}

// TriggerKind tags the two shapes a stage can be started with.
type TriggerKind string

const (
	TriggerStorageWrite TriggerKind = "storage-write"
	TriggerHandoff      TriggerKind = "handoff"
)

// StorageWrite is emitted once per durable write to the document store.
// Its JSON form matches the Cloud Storage object payload.
type StorageWrite struct {
	Bucket      string `json:"bucket"`
	Key         string `json:"name"`
	ContentType string `json:"contentType,omitempty"`
}

func (StorageWrite) Kind() TriggerKind { return TriggerStorageWrite }

// DocumentID is the leading path segment of the storage key.
func (e StorageWrite) DocumentID() string {
	id, _, _ := strings.Cut(strings.TrimPrefix(e.Key, "/"), "/")
	return id
}

// Handoff is the one-way message by which a stage starts the next one.
type Handoff struct {
	DocumentID string `json:"documentId"`
	Timestamp  int64  `json:"timestamp"`
	Text       string `json:"text"`
}

func (Handoff) Kind() TriggerKind { return TriggerHandoff }

func (h Handoff) Key() RecordKey {
	return RecordKey{DocumentID: h.DocumentID, UploadTimestamp: h.Timestamp}
}

// DecodeStorageWrite decodes a storage-event payload.
func DecodeStorageWrite(data []byte) (StorageWrite, error) {
	var e StorageWrite
	if err := json.Unmarshal(data, &e); err != nil {
		return StorageWrite{}, fmt.Errorf("%w: decode storage event: %v", ErrInvalidInput, err)
	}
	if e.Key == "" {
		return StorageWrite{}, fmt.Errorf("%w: storage event has no object name", ErrInvalidInput)
	}
	return e, nil
}

// DecodeHandoff decodes a handoff payload.
func DecodeHandoff(data []byte) (Handoff, error) {
	var h Handoff
	if err := json.Unmarshal(data, &h); err != nil {
		return Handoff{}, fmt.Errorf("%w: decode handoff: %v", ErrInvalidInput, err)
	}
	if h.DocumentID == "" || h.Timestamp <= 0 {
		return Handoff{}, fmt.Errorf("%w: handoff needs documentId and timestamp", ErrInvalidInput)
	}
	return h, nil
}
