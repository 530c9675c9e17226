package local

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/ledongthuc/pdf"
)

// Opener reads stored objects back.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Extractor is a text extractor for plain-text and text-layer PDF documents.
// It has no OCR model, so each detected line is reported with full confidence.
type Extractor struct {
	store Opener
}

func NewExtractor(store Opener) *Extractor {
	return &Extractor{store: store}
}

const fullConfidence = 100.0

func (e *Extractor) Extract(ctx context.Context, req models.ExtractRequest) ([]models.Line, error) {
	rc, err := e.store.Open(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}

	switch kind := documentKind(req.ContentType, req.Key); kind {
	case "pdf":
		text, err := extractPDF(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		return splitLines(text), nil
	case "text":
		return splitLines(string(data)), nil
	default:
		return nil, fmt.Errorf("%w: unsupported content type %q", models.ErrInvalidInput, req.ContentType)
	}
}

func documentKind(contentType, key string) string {
	mt, _, _ := strings.Cut(strings.ToLower(contentType), ";")
	mt = strings.TrimSpace(mt)
	switch {
	case mt == "application/pdf":
		return "pdf"
	case strings.HasPrefix(mt, "text/"), mt == "application/json", mt == "application/xml":
		return "text"
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".pdf":
		return "pdf"
	case ".txt", ".md", ".csv", ".json", ".xml", ".log":
		return "text"
	}
	return ""
}

func extractPDF(data []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", i, err)
		}
		sb.WriteString(content)
		sb.WriteString("\n")
	}
	return sb.String(), nil
}

// splitLines keeps non-blank lines, trimmed, in order.
func splitLines(text string) []models.Line {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var lines []models.Line
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		lines = append(lines, models.Line{Text: line, Confidence: fullConfidence})
	}
	return lines
}
