package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/antoniostano/voicecall/internal/audio"
	"github.com/antoniostano/voicecall/internal/config"
	"github.com/antoniostano/voicecall/internal/crm"
	"github.com/antoniostano/voicecall/internal/httpapi"
	"github.com/antoniostano/voicecall/internal/observability"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/speech"
	"github.com/antoniostano/voicecall/internal/transcript"
	"github.com/antoniostano/voicecall/internal/twilio"
)

type SpeechInfo struct {
	Transcriber string
	Generator   string
}

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Sessions *session.Registry
	Metrics  *observability.Metrics
	Speech   SpeechInfo

	// Cleanup should be called on shutdown to flush CRM logging and release the store.
	Cleanup func() error
}

func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	store, err := transcript.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("transcript store init failed: %w", err)
	}

	providers, err := resolveSpeechProviders(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	crmClient, err := buildCRM(ctx, cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	twilioClient := twilio.NewClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioAPIBaseURL)
	var calls httpapi.CallPlacer
	if twilioClient.Configured() {
		calls = twilioClient
	} else {
		log.Printf("twilio credentials not configured: responses and outbound calls are disabled")
	}

	pipeline := speech.NewPipeline(providers.transcriber, providers.generator, store, metrics, speech.PipelineConfig{
		SystemPrompt: cfg.SystemPrompt,
		Farewell:     cfg.TwilioFarewell,
		QuietGain:    cfg.QuietGain,
		HistoryTurns: speech.DefaultHistoryTurns,
	})
	dispatcher := session.NewDispatcher(
		twilio.NewCallControl(twilioClient, cfg.TwilioVoice),
		metrics,
		cfg.ResponseMinInterval,
		cfg.TwilioFarewell,
	)
	processor := session.NewProcessor(pipeline, dispatcher, metrics, cfg.PipelineTimeout, cfg.ResponseCooldown)

	sessions := session.NewRegistry(session.Config{
		SilenceTimeout:    cfg.SilenceTimeout,
		MinSpeechDuration: cfg.MinSpeechDuration,
		InactivityTimeout: cfg.SessionInactivityTimeout,
		Detector:          audio.NewEnergyDetector(cfg.MinEnergyThreshold, cfg.MinNonSilencePercent),
	}, processor, metrics)
	sessions.SetCloseHook(func(info session.Info, reason string) {
		log.Printf("session %s closed (%s) call=%s", info.ID, reason, info.CallSID)
	})

	api := httpapi.New(cfg, sessions, metrics, calls, crmClient, store)

	cleanup := func() error {
		api.Wait()
		return store.Close()
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Sessions: sessions,
		Metrics:  metrics,
		Speech: SpeechInfo{
			Transcriber: providers.transcriber.Name(),
			Generator:   providers.generator.Name(),
		},
		Cleanup: cleanup,
	}, nil
}

// buildCRM returns nil when Salesforce is not configured.
func buildCRM(ctx context.Context, cfg config.Config) (httpapi.CRM, error) {
	if !cfg.SalesforceConfigured() {
		log.Printf("salesforce not configured: call tasks will not be logged")
		return nil, nil
	}
	var privateKey []byte
	if path := strings.TrimSpace(cfg.SalesforcePrivateKeyFile); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read salesforce private key: %w", err)
		}
		privateKey = b
	}
	client, err := crm.NewSalesforceClient(ctx, crm.Config{
		LoginURL:     cfg.SalesforceLoginURL,
		ClientID:     cfg.SalesforceClientID,
		ClientSecret: cfg.SalesforceClientSecret,
		Username:     cfg.SalesforceUsername,
		PrivateKey:   privateKey,
		InstanceURL:  cfg.SalesforceInstanceURL,
		APIVersion:   cfg.SalesforceAPIVersion,
	})
	if err != nil {
		return nil, fmt.Errorf("salesforce client init failed: %w", err)
	}
	return client, nil
}
