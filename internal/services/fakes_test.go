package services

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Lllllllleong/documentpipeline/internal/models"
)

var errBoom = errors.New("boom")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (s *fakeStore) Put(_ context.Context, key, _ string, data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

type fakeExtractor struct {
	lines []models.Line
	err   error
	calls int
}

func (e *fakeExtractor) Extract(_ context.Context, _ models.ExtractRequest) ([]models.Line, error) {
	e.calls++
	return e.lines, e.err
}

// fakeModel answers classification prompts with category and anything else
// through summarize, which defaults to a fixed sentence.
type fakeModel struct {
	mu        sync.Mutex
	category  string
	summarize func(prompt string) string
	err       error
	prompts   []string
	maxTokens []int32
}

func (m *fakeModel) Generate(_ context.Context, prompt string, maxTokens int32) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.maxTokens = append(m.maxTokens, maxTokens)
	m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if strings.HasPrefix(prompt, "Classify") {
		return m.category, nil
	}
	if m.summarize != nil {
		return m.summarize(prompt), nil
	}
	return "A short summary.", nil
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

type recordingNext struct {
	mu       sync.Mutex
	handoffs []models.Handoff
	err      error
}

func (n *recordingNext) Handoff(_ context.Context, h models.Handoff) error {
	if n.err != nil {
		return n.err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handoffs = append(n.handoffs, h)
	return nil
}

type observation struct {
	stage   models.Stage
	outcome string
}

type recordingObserver struct {
	mu  sync.Mutex
	obs []observation
}

func (o *recordingObserver) ObserveStage(stage models.Stage, outcome string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.obs = append(o.obs, observation{stage: stage, outcome: outcome})
}
