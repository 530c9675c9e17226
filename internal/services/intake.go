package services

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	pdfContentType     = "application/pdf"
	defaultContentType = "application/octet-stream"
)

// IntakeConfig holds configuration for the intake stage.
type IntakeConfig struct {
	MaxUploadBytes int64
}

// IntakeFunction accepts uploads, creates their ledger record and writes
// their bytes. The storage write itself triggers extraction.
type IntakeFunction struct {
	base
	store  DocumentStore
	ledger Ledger
	config IntakeConfig
	newID  func() string
}

// NewIntake creates a new IntakeFunction instance.
func NewIntake(store DocumentStore, ledger Ledger, cfg IntakeConfig, opts ...Option) *IntakeFunction {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 10 << 20
	}
	return &IntakeFunction{
		base:   newBase(models.StageIntake, opts),
		store:  store,
		ledger: ledger,
		config: cfg,
		newID:  uuid.NewString,
	}
}

// Process handles a single upload.
func (f *IntakeFunction) Process(ctx context.Context, req *models.UploadRequest) (*models.UploadResponse, error) {
	started := f.now()
	res, err := f.process(ctx, req)
	f.observe(outcomeOf(err), started)
	return res, err
}

func (f *IntakeFunction) process(ctx context.Context, req *models.UploadRequest) (*models.UploadResponse, error) {
	fileName, contentType, err := f.validate(req)
	if err != nil {
		f.logger.Warn("Rejected upload", "error", err)
		return nil, err
	}

	rec := models.Record{
		DocumentID:      f.newID(),
		UploadTimestamp: f.nowMillis(),
		FileName:        fileName,
		ContentType:     contentType,
		Status:          models.StatusUploaded,
	}
	rec.StorageKey = StorageKey(rec.DocumentID, fileName)
	logCtx := f.logger.With("documentId", rec.DocumentID, "storageKey", rec.StorageKey)

	// The record goes first so the storage trigger can always find it.
	if err := f.ledger.Create(ctx, rec); err != nil {
		logCtx.Error("Failed to create ledger record", "error", err)
		return nil, models.WrapError(models.ErrDownstream, "create ledger record", err)
	}

	if err := f.store.Put(ctx, rec.StorageKey, contentType, req.File); err != nil {
		return nil, f.handleError(ctx, f.ledger, logCtx, rec.Key(), "failed to write document bytes", err)
	}

	logCtx.Info("Document accepted.", "bytes", len(req.File), "contentType", contentType)
	return &models.UploadResponse{DocumentID: rec.DocumentID, Status: rec.Status}, nil
}

func (f *IntakeFunction) validate(req *models.UploadRequest) (fileName, contentType string, err error) {
	if req == nil {
		return "", "", fmt.Errorf("%w: empty request", models.ErrInvalidInput)
	}
	if len(req.File) == 0 {
		return "", "", fmt.Errorf("%w: file is empty", models.ErrInvalidInput)
	}
	if int64(len(req.File)) > f.config.MaxUploadBytes {
		return "", "", fmt.Errorf("%w: file exceeds %d bytes", models.ErrInvalidInput, f.config.MaxUploadBytes)
	}
	fileName = cleanFileName(req.FileName)
	if fileName == "" {
		return "", "", fmt.Errorf("%w: fileName is required", models.ErrInvalidInput)
	}

	contentType = strings.TrimSpace(req.ContentType)
	if contentType == "" {
		contentType = defaultContentType
	}
	if mediaType(contentType) == pdfContentType {
		pages, err := validatePDF(req.File)
		if err != nil {
			return "", "", fmt.Errorf("%w: malformed pdf: %v", models.ErrInvalidInput, err)
		}
		f.logger.Debug("PDF validated.", "pageCount", pages, "fileName", fileName)
	}
	return fileName, contentType, nil
}

// StorageKey is the document store key for an upload.
func StorageKey(documentID, fileName string) string {
	return documentID + "/" + fileName
}

func cleanFileName(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "\\", "/"))
	if name == "" {
		return ""
	}
	name = path.Base(name)
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}

func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(mt))
}

var pdfConfigOnce sync.Once

// validatePDF checks the document with pdfcpu in relaxed mode and returns its
// page count.
func validatePDF(data []byte) (int, error) {
	pdfConfigOnce.Do(api.DisableConfigDir)

	cfg := model.NewDefaultConfiguration()
	cfg.ValidationMode = model.ValidationRelaxed
	if err := api.Validate(bytes.NewReader(data), cfg); err != nil {
		return 0, err
	}
	return api.PageCount(bytes.NewReader(data), cfg)
}
