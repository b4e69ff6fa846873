package speech

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

func newGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, fmt.Errorf("genai client: %w", err)
	}
	return client, nil
}

const geminiTranscribePrompt = "Transcribe this phone call audio verbatim. " +
	"Reply with the spoken words only. Reply with nothing if no one speaks."

// GeminiTranscriber sends the WAV inline to a multimodal Gemini model.
type GeminiTranscriber struct {
	client *genai.Client
	model  string
}

func NewGeminiTranscriber(ctx context.Context, apiKey, model string) (*GeminiTranscriber, error) {
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiTranscriber{client: client, model: model}, nil
}

func (t *GeminiTranscriber) Name() string { return "gemini" }

func (t *GeminiTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	parts := []*genai.Part{
		{Text: geminiTranscribePrompt},
		genai.NewPartFromBytes(wav, "audio/wav"),
	}
	resp, err := t.client.Models.GenerateContent(ctx, t.model, []*genai.Content{{Parts: parts, Role: "user"}}, nil)
	if err != nil {
		return "", fmt.Errorf("genai transcribe: %w", err)
	}
	text := strings.TrimSpace(geminiText(resp))
	if text == "" {
		return "", ErrEmptyTranscript
	}
	return text, nil
}

// GeminiGenerator answers with Gemini text generation.
type GeminiGenerator struct {
	client *genai.Client
	model  string
}

func NewGeminiGenerator(ctx context.Context, apiKey, model string) (*GeminiGenerator, error) {
	client, err := newGeminiClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiGenerator{client: client, model: model}, nil
}

func (g *GeminiGenerator) Name() string { return "gemini" }

func (g *GeminiGenerator) Generate(ctx context.Context, req Request) (string, error) {
	var contents []*genai.Content
	for _, turn := range req.History {
		role := "user"
		if turn.Role == RoleAssistant {
			role = "model"
		}
		contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: turn.Text}}, Role: role})
	}
	contents = append(contents, &genai.Content{Parts: []*genai.Part{{Text: req.Text}}, Role: "user"})

	var cfg *genai.GenerateContentConfig
	if strings.TrimSpace(req.SystemPrompt) != "" {
		cfg = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}},
		}
	}
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("genai generate: %w", err)
	}
	return strings.TrimSpace(geminiText(resp)), nil
}

func geminiText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	if resp != nil && len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}
