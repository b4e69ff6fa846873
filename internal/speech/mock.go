package speech

import (
	"context"
	"fmt"
	"strings"
)

// MockTranscriber is a local stand-in used when no speech-to-text backend is
// configured. Every non-empty utterance is heard as Text.
type MockTranscriber struct {
	Text string
}

func NewMockTranscriber() *MockTranscriber {
	return &MockTranscriber{Text: "simulated voice input"}
}

func (m *MockTranscriber) Name() string { return "mock" }

func (m *MockTranscriber) Transcribe(_ context.Context, wav []byte) (string, error) {
	if len(wav) <= wavHeaderSize || strings.TrimSpace(m.Text) == "" {
		return "", ErrEmptyTranscript
	}
	return m.Text, nil
}

const wavHeaderSize = 44

// PlaceholderGenerator echoes the caller.
type PlaceholderGenerator struct{}

func (PlaceholderGenerator) Name() string { return "placeholder" }

func (PlaceholderGenerator) Generate(_ context.Context, req Request) (string, error) {
	return fmt.Sprintf("I heard you say: %s. This is a placeholder response.", strings.TrimSpace(req.Text)), nil
}
