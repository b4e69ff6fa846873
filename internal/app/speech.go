package app

import (
	"context"
	"fmt"

	"github.com/antoniostano/voicecall/internal/config"
	"github.com/antoniostano/voicecall/internal/speech"
)

type speechSetup struct {
	transcriber speech.Transcriber
	generator   speech.Generator
}

func resolveSpeechProviders(ctx context.Context, cfg config.Config) (speechSetup, error) {
	providers := speech.ProviderConfig{
		STTProvider:         cfg.STTProvider,
		STTFallbackProvider: cfg.STTFallbackProvider,
		LLMProvider:         cfg.LLMProvider,
		OpenAIAPIKey:        cfg.OpenAIAPIKey,
		OpenAIBaseURL:       cfg.OpenAIBaseURL,
		OpenAISTTModel:      cfg.OpenAISTTModel,
		OpenAIChatModel:     cfg.OpenAIChatModel,
		GeminiAPIKey:        cfg.GeminiAPIKey,
		GeminiModel:         cfg.GeminiModel,
		OllamaURL:           cfg.OllamaURL,
		OllamaModel:         cfg.OllamaModel,
	}

	transcriber, err := speech.NewTranscriber(ctx, providers)
	if err != nil {
		return speechSetup{}, fmt.Errorf("speech-to-text init failed: %w", err)
	}
	generator, err := speech.NewGenerator(ctx, providers)
	if err != nil {
		return speechSetup{}, fmt.Errorf("reply generator init failed: %w", err)
	}
	return speechSetup{transcriber: transcriber, generator: generator}, nil
}
