package gcp

import (
	"context"
	"fmt"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/Lllllllleong/documentpipeline/internal/models"
	"github.com/Lllllllleong/documentpipeline/internal/resilience"
	"google.golang.org/api/option"
)

// DocumentAIExtractor runs a Document AI OCR processor over objects that are
// already in Cloud Storage.
type DocumentAIExtractor struct {
	client    *documentai.DocumentProcessorClient
	processor string
	exec      *resilience.Executor
}

func NewDocumentAIExtractor(ctx context.Context, projectID, location, processorID string, exec *resilience.Executor) (*DocumentAIExtractor, error) {
	if projectID == "" || processorID == "" {
		return nil, fmt.Errorf("NewDocumentAIExtractor: projectID and processorID cannot be empty")
	}
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", location)
	client, err := documentai.NewDocumentProcessorClient(ctx, option.WithEndpoint(endpoint))
	if err != nil {
		return nil, fmt.Errorf("documentai.NewDocumentProcessorClient: %w", err)
	}
	return &DocumentAIExtractor{
		client:    client,
		processor: fmt.Sprintf("projects/%s/locations/%s/processors/%s", projectID, location, processorID),
		exec:      exec,
	}, nil
}

func (e *DocumentAIExtractor) Extract(ctx context.Context, req models.ExtractRequest) ([]models.Line, error) {
	if req.Bucket == "" {
		return nil, fmt.Errorf("%w: document ai needs a bucket for %q", models.ErrInvalidInput, req.Key)
	}
	preq := processRequest(e.processor, req)

	call := func(ctx context.Context) (*documentaipb.ProcessResponse, error) {
		return e.client.ProcessDocument(ctx, preq)
	}
	var (
		resp *documentaipb.ProcessResponse
		err  error
	)
	if e.exec != nil {
		resp, err = resilience.Call(ctx, e.exec, "documentai.process", call, resilience.GRPC)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("document ai processing failed: %w", err)
	}
	return documentLines(resp.GetDocument()), nil
}

func (e *DocumentAIExtractor) Close() error { return e.client.Close() }

func processRequest(processor string, req models.ExtractRequest) *documentaipb.ProcessRequest {
	contentType := req.ContentType
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &documentaipb.ProcessRequest{
		Name: processor,
		Source: &documentaipb.ProcessRequest_GcsDocument{
			GcsDocument: &documentaipb.GcsDocument{
				GcsUri:   fmt.Sprintf("gs://%s/%s", req.Bucket, req.Key),
				MimeType: contentType,
			},
		},
	}
}

// documentLines lists every detected line in page order. Document AI scores
// are in [0, 1]; lines carry percentages.
func documentLines(doc *documentaipb.Document) []models.Line {
	if doc == nil {
		return nil
	}
	text := []rune(doc.GetText())
	var lines []models.Line
	for _, page := range doc.GetPages() {
		for _, line := range page.GetLines() {
			layout := line.GetLayout()
			lines = append(lines, models.Line{
				Text:       anchorText(text, layout.GetTextAnchor()),
				Confidence: float64(layout.GetConfidence()) * 100,
			})
		}
	}
	return lines
}

func anchorText(text []rune, anchor *documentaipb.Document_TextAnchor) string {
	var out []rune
	for _, seg := range anchor.GetTextSegments() {
		start, end := clamp(seg.GetStartIndex(), len(text)), clamp(seg.GetEndIndex(), len(text))
		if start < end {
			out = append(out, text[start:end]...)
		}
	}
	// Line segments include the trailing newline.
	for len(out) > 0 && (out[len(out)-1] == '\n' || out[len(out)-1] == '\r') {
		out = out[:len(out)-1]
	}
	return string(out)
}

func clamp(i int64, n int) int {
	switch {
	case i < 0:
		return 0
	case i > int64(n):
		return n
	}
	return int(i)
}
