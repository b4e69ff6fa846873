package speech

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// ProviderConfig selects and configures speech backends.
type ProviderConfig struct {
	STTProvider         string
	STTFallbackProvider string
	LLMProvider         string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAISTTModel  string
	OpenAIChatModel string

	GeminiAPIKey string
	GeminiModel  string

	OllamaURL   string
	OllamaModel string
}

// NewTranscriber builds the configured transcriber. "auto" prefers OpenAI,
// then Gemini, then the mock. A fallback provider wraps the result in a
// FailoverTranscriber.
func NewTranscriber(ctx context.Context, cfg ProviderConfig) (Transcriber, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.STTProvider))
	if name == "" || name == "auto" {
		switch {
		case cfg.OpenAIAPIKey != "":
			name = "openai"
		case cfg.GeminiAPIKey != "":
			name = "gemini"
		default:
			log.Printf("no speech-to-text credentials configured, using mock transcriber")
			name = "mock"
		}
	}
	primary, err := newTranscriber(ctx, name, cfg)
	if err != nil {
		return nil, err
	}

	fallbackName := strings.ToLower(strings.TrimSpace(cfg.STTFallbackProvider))
	if fallbackName == "" || fallbackName == name {
		return primary, nil
	}
	fallback, err := newTranscriber(ctx, fallbackName, cfg)
	if err != nil {
		return nil, fmt.Errorf("stt fallback: %w", err)
	}
	return NewFailoverTranscriber(primary, fallback), nil
}

func newTranscriber(ctx context.Context, name string, cfg ProviderConfig) (Transcriber, error) {
	switch name {
	case "openai":
		return NewOpenAITranscriber(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAISTTModel)
	case "gemini":
		return NewGeminiTranscriber(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
	case "mock":
		return NewMockTranscriber(), nil
	default:
		return nil, fmt.Errorf("unsupported stt provider %q", name)
	}
}

// NewGenerator builds the configured reply generator. Real backends fall back
// to the placeholder reply when they fail.
func NewGenerator(ctx context.Context, cfg ProviderConfig) (Generator, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if name == "" || name == "auto" {
		switch {
		case cfg.OpenAIAPIKey != "":
			name = "openai"
		case cfg.GeminiAPIKey != "":
			name = "gemini"
		case cfg.OllamaURL != "":
			name = "ollama"
		default:
			name = "placeholder"
		}
	}

	var gen Generator
	switch name {
	case "openai":
		g, err := NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIChatModel)
		if err != nil {
			return nil, err
		}
		gen = g
	case "gemini":
		g, err := NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			return nil, err
		}
		gen = g
	case "ollama":
		if strings.TrimSpace(cfg.OllamaURL) == "" {
			return nil, fmt.Errorf("OLLAMA_URL is required for the ollama generator")
		}
		gen = NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel)
	case "placeholder":
		return PlaceholderGenerator{}, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", name)
	}
	return NewFallbackGenerator(gen, PlaceholderGenerator{}), nil
}
