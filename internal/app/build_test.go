package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/antoniostano/voicecall/internal/config"
)

func testConfig() config.Config {
	return config.Config{
		MetricsNamespace:         fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		SessionInactivityTimeout: time.Minute,
		SilenceTimeout:           1500 * time.Millisecond,
		MinSpeechDuration:        500 * time.Millisecond,
		MinEnergyThreshold:       100,
		MinNonSilencePercent:     25,
		ResponseCooldown:         3 * time.Second,
		ResponseMinInterval:      3 * time.Second,
		PipelineTimeout:          30 * time.Second,
		STTProvider:              "mock",
		LLMProvider:              "placeholder",
		TwilioVoice:              "alice",
	}
}

func TestBuildWithoutIntegrations(t *testing.T) {
	res, err := Build(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if res.Speech.Transcriber != "mock" || res.Speech.Generator != "placeholder" {
		t.Fatalf("Speech = %+v, want mock/placeholder", res.Speech)
	}

	rec := httptest.NewRecorder()
	res.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	res.API.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/twilio/outbound/call", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("outbound status = %d, want 503 without twilio credentials", rec.Code)
	}
}

func TestBuildRejectsUnreadableSalesforceKey(t *testing.T) {
	cfg := testConfig()
	cfg.SalesforceClientID = "client"
	cfg.SalesforceUsername = "ops@example.test"
	cfg.SalesforcePrivateKeyFile = filepath.Join(t.TempDir(), "missing.pem")

	if _, err := Build(context.Background(), cfg); err == nil {
		t.Fatalf("Build() with missing private key succeeded, want error")
	}
}
