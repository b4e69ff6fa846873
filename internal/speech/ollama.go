package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antoniostano/voicecall/internal/reliability"
)

// OllamaGenerator calls a local Ollama server's /api/generate endpoint.
type OllamaGenerator struct {
	url    string
	model  string
	client *http.Client
}

func NewOllamaGenerator(url, model string) *OllamaGenerator {
	return &OllamaGenerator{
		url:   strings.TrimRight(strings.TrimSpace(url), "/"),
		model: model,
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (g *OllamaGenerator) Name() string { return "ollama" }

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (g *OllamaGenerator) Generate(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(ollamaRequest{
		Model:  g.model,
		Prompt: ollamaPrompt(req),
		System: req.SystemPrompt,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var out ollamaResponse
	err = reliability.Retry(ctx, 2, 200*time.Millisecond, time.Second, func(ctx context.Context) (bool, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url+"/api/generate", bytes.NewReader(payload))
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		res, err := g.client.Do(httpReq)
		if err != nil {
			return reliability.IsRetryableError(err), fmt.Errorf("send request: %w", err)
		}
		defer res.Body.Close()

		if res.StatusCode < 200 || res.StatusCode >= 300 {
			body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
			return reliability.IsRetryableHTTPStatus(res.StatusCode), fmt.Errorf("ollama http status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
		}
		if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out.Response), nil
}

// ollamaPrompt flattens the call history into a single prompt.
func ollamaPrompt(req Request) string {
	if len(req.History) == 0 {
		return req.Text
	}
	var b strings.Builder
	for _, turn := range req.History {
		speaker := "Caller"
		if turn.Role == RoleAssistant {
			speaker = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, turn.Text)
	}
	fmt.Fprintf(&b, "Caller: %s\nAssistant:", req.Text)
	return b.String()
}
