// Package gemini answers prompts with the Gemini Developer API, for
// deployments that have an API key but no Vertex AI project.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Lllllllleong/documentpipeline/internal/resilience"
	"google.golang.org/genai"
)

const systemInstruction = "You are a document processing assistant. Answer exactly what is asked, with no preamble."

type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Model is a LanguageModel backed by one Gemini model.
type Model struct {
	models    generator
	modelName string
	exec      *resilience.Executor
}

func New(ctx context.Context, apiKey, modelName string, exec *resilience.Executor) (*Model, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini.New: apiKey cannot be empty")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &Model{models: c.Models, modelName: modelName, exec: exec}, nil
}

func (m *Model) Generate(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemInstruction}}},
		MaxOutputTokens:   maxTokens,
		Temperature:       genai.Ptr[float32](0.2),
	}
	call := func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return m.models.GenerateContent(ctx, m.modelName, genai.Text(prompt), cfg)
	}
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if m.exec != nil {
		resp, err = resilience.Call(ctx, m.exec, "gemini.generate", call, classify)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("gemini content generation failed: %w", err)
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}

// classify retries rate limiting and server errors.
func classify(err error) resilience.Verdict {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return resilience.Verdict{}
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= http.StatusInternalServerError {
			return resilience.Verdict{Retry: true, Trip: true}
		}
		return resilience.Verdict{}
	}
	return resilience.Verdict{Retry: true, Trip: true}
}
