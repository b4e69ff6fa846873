package speech

import (
	"context"
	"testing"
)

func TestNewTranscriberAutoWithoutCredentialsUsesMock(t *testing.T) {
	tr, err := NewTranscriber(context.Background(), ProviderConfig{STTProvider: "auto"})
	if err != nil {
		t.Fatalf("NewTranscriber() error = %v", err)
	}
	if tr.Name() != "mock" {
		t.Fatalf("Name() = %q, want mock", tr.Name())
	}
}

func TestNewTranscriberWrapsFallback(t *testing.T) {
	tr, err := NewTranscriber(context.Background(), ProviderConfig{
		STTProvider:         "openai",
		STTFallbackProvider: "mock",
		OpenAIAPIKey:        "sk-test",
	})
	if err != nil {
		t.Fatalf("NewTranscriber() error = %v", err)
	}
	if _, ok := tr.(*FailoverTranscriber); !ok {
		t.Fatalf("NewTranscriber() = %T, want *FailoverTranscriber", tr)
	}
	if tr.Name() != "openai+mock" {
		t.Fatalf("Name() = %q", tr.Name())
	}
}

func TestNewTranscriberRequiresKeys(t *testing.T) {
	if _, err := NewTranscriber(context.Background(), ProviderConfig{STTProvider: "openai"}); err == nil {
		t.Fatalf("NewTranscriber(openai) without key succeeded")
	}
	if _, err := NewTranscriber(context.Background(), ProviderConfig{STTProvider: "vosk"}); err == nil {
		t.Fatalf("NewTranscriber(vosk) succeeded")
	}
}

func TestNewGeneratorSelection(t *testing.T) {
	cases := []struct {
		name string
		cfg  ProviderConfig
		want string
	}{
		{name: "auto placeholder", cfg: ProviderConfig{LLMProvider: "auto"}, want: "placeholder"},
		{name: "auto ollama", cfg: ProviderConfig{OllamaURL: "http://127.0.0.1:11434", OllamaModel: "llama3.2"}, want: "ollama+placeholder"},
		{name: "auto openai", cfg: ProviderConfig{OpenAIAPIKey: "sk-test"}, want: "openai+placeholder"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			g, err := NewGenerator(context.Background(), tc.cfg)
			if err != nil {
				t.Fatalf("NewGenerator() error = %v", err)
			}
			if g.Name() != tc.want {
				t.Fatalf("Name() = %q, want %q", g.Name(), tc.want)
			}
		})
	}
	if _, err := NewGenerator(context.Background(), ProviderConfig{LLMProvider: "ollama"}); err == nil {
		t.Fatalf("NewGenerator(ollama) without url succeeded")
	}
}

func TestMockTranscriber(t *testing.T) {
	m := NewMockTranscriber()
	if _, err := m.Transcribe(context.Background(), make([]byte, 44)); err != ErrEmptyTranscript {
		t.Fatalf("header-only wav error = %v, want ErrEmptyTranscript", err)
	}
	text, err := m.Transcribe(context.Background(), make([]byte, 400))
	if err != nil || text != "simulated voice input" {
		t.Fatalf("Transcribe() = %q, %v", text, err)
	}
}
