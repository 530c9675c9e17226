package gcp

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/documentpipeline/internal/resilience"
)

const systemInstruction = "You are a document processing assistant. Answer exactly what is asked, with no preamble."

// VertexModel answers prompts with a Gemini model on Vertex AI.
type VertexModel struct {
	baseClient *genai.Client
	modelName  string
	exec       *resilience.Executor
}

// NewVertexModel creates the client. exec may be nil, in which case calls are
// made once with no breaker.
func NewVertexModel(ctx context.Context, projectID, region, modelName string, exec *resilience.Executor) (*VertexModel, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexModel: projectID and region cannot be empty")
	}
	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}
	return &VertexModel{baseClient: baseClient, modelName: modelName, exec: exec}, nil
}

// Generate sends one single-turn prompt capped at maxTokens output tokens.
func (m *VertexModel) Generate(ctx context.Context, prompt string, maxTokens int32) (string, error) {
	model := m.baseClient.GenerativeModel(m.modelName)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemInstruction)}}
	model.SetMaxOutputTokens(maxTokens)
	model.SetTemperature(0.2)

	call := func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return model.GenerateContent(ctx, genai.Text(prompt))
	}
	var (
		resp *genai.GenerateContentResponse
		err  error
	)
	if m.exec != nil {
		resp, err = resilience.Call(ctx, m.exec, "vertex.generate", call, resilience.GRPC)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return "", fmt.Errorf("gemini content generation failed: %w", err)
	}
	return responseText(resp), nil
}

func (m *VertexModel) Close() error {
	if m.baseClient != nil {
		return m.baseClient.Close()
	}
	return nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return strings.TrimSpace(sb.String())
}
