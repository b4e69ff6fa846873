package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = "You are a friendly phone assistant. Answer in one or two short spoken sentences. " +
	"Do not use lists, markdown, or emojis."

// Config contains all runtime settings for the voice call service.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string
	ConfigFile               string

	AllowAnyOrigin bool

	SilenceTimeout       time.Duration
	MinSpeechDuration    time.Duration
	PollInterval         time.Duration
	MinEnergyThreshold   float64
	MinNonSilencePercent float64
	QuietGain            bool

	ResponseCooldown    time.Duration
	ResponseMinInterval time.Duration
	PipelineTimeout     time.Duration

	STTProvider         string
	STTFallbackProvider string
	LLMProvider         string
	SystemPrompt        string

	OpenAIAPIKey    string
	OpenAIBaseURL   string
	OpenAISTTModel  string
	OpenAIChatModel string

	GeminiAPIKey string
	GeminiModel  string

	OllamaURL   string
	OllamaModel string

	TwilioAccountSID      string
	TwilioAuthToken       string
	TwilioPhoneNumber     string
	TwilioAPIBaseURL      string
	TwilioCallbackBaseURL string
	TwilioVoice           string
	TwilioGreeting        string
	TwilioFarewell        string

	SalesforceLoginURL       string
	SalesforceClientID       string
	SalesforceClientSecret   string
	SalesforceUsername       string
	SalesforcePrivateKeyFile string
	SalesforceInstanceURL    string
	SalesforceAPIVersion     string
	CRMRedactPII             bool

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults. When
// APP_CONFIG_FILE names a YAML file, its KEY: value pairs fill in for any
// variable the environment leaves empty.
func Load() (Config, error) {
	src := source{}
	if path := strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")); path != "" {
		file, err := readFile(path)
		if err != nil {
			return Config{}, err
		}
		src.file = file
	}

	cfg := Config{
		BindAddr:         src.envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: src.envOrDefault("APP_METRICS_NAMESPACE", "voicecall"),
		ConfigFile:       strings.TrimSpace(os.Getenv("APP_CONFIG_FILE")),
		AllowAnyOrigin:   false,

		SilenceTimeout:       1500 * time.Millisecond,
		MinSpeechDuration:    500 * time.Millisecond,
		PollInterval:         500 * time.Millisecond,
		MinEnergyThreshold:   100,
		MinNonSilencePercent: 25,
		QuietGain:            true,

		ResponseCooldown:    3 * time.Second,
		ResponseMinInterval: 3 * time.Second,
		PipelineTimeout:     20 * time.Second,

		STTProvider:         strings.ToLower(src.envOrDefault("STT_PROVIDER", "auto")),
		STTFallbackProvider: strings.ToLower(src.trimmed("STT_FALLBACK_PROVIDER")),
		LLMProvider:         strings.ToLower(src.envOrDefault("LLM_PROVIDER", "auto")),
		SystemPrompt:        src.envOrDefault("ASSISTANT_SYSTEM_PROMPT", defaultSystemPrompt),

		OpenAIAPIKey:    src.trimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:   src.trimmed("OPENAI_BASE_URL"),
		OpenAISTTModel:  src.envOrDefault("OPENAI_STT_MODEL", "whisper-1"),
		OpenAIChatModel: src.envOrDefault("OPENAI_CHAT_MODEL", "gpt-4o-mini"),

		GeminiAPIKey: src.trimmed("GEMINI_API_KEY"),
		GeminiModel:  src.envOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),

		OllamaURL:   src.trimmed("OLLAMA_URL"),
		OllamaModel: src.envOrDefault("OLLAMA_MODEL", "llama3.2"),

		TwilioAccountSID:      src.trimmed("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:       src.trimmed("TWILIO_AUTH_TOKEN"),
		TwilioPhoneNumber:     src.trimmed("TWILIO_PHONE_NUMBER"),
		TwilioAPIBaseURL:      src.envOrDefault("TWILIO_API_BASE_URL", "https://api.twilio.com"),
		TwilioCallbackBaseURL: strings.TrimRight(src.trimmed("TWILIO_CALLBACK_BASE_URL"), "/"),
		TwilioVoice:           src.envOrDefault("TWILIO_VOICE", "alice"),
		TwilioGreeting:        src.envOrDefault("TWILIO_GREETING", "Hello! I'm your AI assistant. How can I help you today?"),
		TwilioFarewell:        src.envOrDefault("TWILIO_FAREWELL", "Thank you for calling. Goodbye!"),

		SalesforceLoginURL:       strings.TrimRight(src.envOrDefault("SALESFORCE_LOGIN_URL", "https://login.salesforce.com"), "/"),
		SalesforceClientID:       src.trimmed("SALESFORCE_CLIENT_ID"),
		SalesforceClientSecret:   src.trimmed("SALESFORCE_CLIENT_SECRET"),
		SalesforceUsername:       src.trimmed("SALESFORCE_USERNAME"),
		SalesforcePrivateKeyFile: src.trimmed("SALESFORCE_PRIVATE_KEY_FILE"),
		SalesforceInstanceURL:    strings.TrimRight(src.trimmed("SALESFORCE_INSTANCE_URL"), "/"),
		SalesforceAPIVersion:     src.envOrDefault("SALESFORCE_API_VERSION", "v58.0"),
		CRMRedactPII:             true,

		DatabaseURL:              src.trimmed("DATABASE_URL"),
		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
	}

	var err error
	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"APP_SHUTDOWN_TIMEOUT", &cfg.ShutdownTimeout},
		{"APP_SESSION_INACTIVITY_TIMEOUT", &cfg.SessionInactivityTimeout},
		{"AUDIO_SILENCE_TIMEOUT", &cfg.SilenceTimeout},
		{"AUDIO_MIN_SPEECH_DURATION", &cfg.MinSpeechDuration},
		{"AUDIO_POLL_INTERVAL", &cfg.PollInterval},
		{"RESPONSE_COOLDOWN", &cfg.ResponseCooldown},
		{"RESPONSE_MIN_INTERVAL", &cfg.ResponseMinInterval},
		{"PIPELINE_TIMEOUT", &cfg.PipelineTimeout},
	}
	for _, d := range durations {
		*d.dst, err = src.durationFromEnv(d.key, *d.dst)
		if err != nil {
			return Config{}, err
		}
	}
	cfg.MinEnergyThreshold, err = src.floatFromEnv("AUDIO_MIN_ENERGY_THRESHOLD", cfg.MinEnergyThreshold)
	if err != nil {
		return Config{}, err
	}
	cfg.MinNonSilencePercent, err = src.floatFromEnv("AUDIO_MIN_NON_SILENCE_PERCENT", cfg.MinNonSilencePercent)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = src.boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.QuietGain, err = src.boolFromEnv("AUDIO_QUIET_GAIN", cfg.QuietGain)
	if err != nil {
		return Config{}, err
	}
	cfg.CRMRedactPII, err = src.boolFromEnv("CRM_REDACT_PII", cfg.CRMRedactPII)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.SessionInactivityTimeout < 5*time.Second {
		return fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if c.SilenceTimeout <= 0 {
		return fmt.Errorf("AUDIO_SILENCE_TIMEOUT must be positive")
	}
	if c.MinSpeechDuration < 0 {
		return fmt.Errorf("AUDIO_MIN_SPEECH_DURATION must be >= 0")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("AUDIO_POLL_INTERVAL must be positive")
	}
	if c.MinEnergyThreshold < 0 {
		return fmt.Errorf("AUDIO_MIN_ENERGY_THRESHOLD must be >= 0")
	}
	if c.MinNonSilencePercent < 0 || c.MinNonSilencePercent > 100 {
		return fmt.Errorf("AUDIO_MIN_NON_SILENCE_PERCENT must be within [0, 100]")
	}
	if c.ResponseCooldown < 0 || c.ResponseMinInterval < 0 {
		return fmt.Errorf("RESPONSE_COOLDOWN and RESPONSE_MIN_INTERVAL must be >= 0")
	}
	if c.PipelineTimeout <= 0 {
		return fmt.Errorf("PIPELINE_TIMEOUT must be positive")
	}
	switch c.STTProvider {
	case "auto", "openai", "gemini", "mock":
	default:
		return fmt.Errorf("STT_PROVIDER must be one of auto, openai, gemini, mock")
	}
	switch c.STTFallbackProvider {
	case "", "openai", "gemini", "mock":
	default:
		return fmt.Errorf("STT_FALLBACK_PROVIDER must be one of openai, gemini, mock")
	}
	switch c.LLMProvider {
	case "auto", "openai", "gemini", "ollama", "placeholder":
	default:
		return fmt.Errorf("LLM_PROVIDER must be one of auto, openai, gemini, ollama, placeholder")
	}
	return nil
}

// TwilioConfigured reports whether outbound REST calls can be made.
func (c Config) TwilioConfigured() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != ""
}

// SalesforceConfigured reports whether CRM task logging is enabled.
func (c Config) SalesforceConfigured() bool {
	return c.SalesforceClientID != "" && (c.SalesforceClientSecret != "" || c.SalesforcePrivateKeyFile != "")
}

// source resolves keys from the environment first and the config file second.
type source struct {
	file map[string]string
}

func readFile(path string) (map[string]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("APP_CONFIG_FILE read error: %w", err)
	}
	var doc map[string]any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("APP_CONFIG_FILE parse error: %w", err)
	}
	out := make(map[string]string, len(doc))
	for k, v := range doc {
		if v == nil {
			continue
		}
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s.file[key])
}

func (s source) envOrDefault(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) trimmed(key string) string {
	return s.lookup(key)
}

func (s source) durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func (s source) floatFromEnv(key string, fallback float64) (float64, error) {
	v := s.lookup(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func (s source) boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(s.lookup(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
