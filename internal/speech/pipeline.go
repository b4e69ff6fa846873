package speech

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/voicecall/internal/audio"
	"github.com/antoniostano/voicecall/internal/observability"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/transcript"
)

const (
	DefaultFarewell     = "Thank you for calling. Goodbye!"
	DefaultHistoryTurns = 10
)

// PipelineConfig tunes Pipeline.
type PipelineConfig struct {
	SystemPrompt string
	Farewell     string
	QuietGain    bool
	HistoryTurns int
}

// Pipeline turns a drained mu-law utterance into a session.Decision: decode,
// transcribe, check for an end-of-call phrase, then generate a reply.
type Pipeline struct {
	transcriber Transcriber
	generator   Generator
	store       transcript.Store
	metrics     *observability.Metrics
	cfg         PipelineConfig
}

var (
	_ session.Pipeline      = (*Pipeline)(nil)
	_ session.ReplyRecorder = (*Pipeline)(nil)
)

func NewPipeline(transcriber Transcriber, generator Generator, store transcript.Store, metrics *observability.Metrics, cfg PipelineConfig) *Pipeline {
	if strings.TrimSpace(cfg.Farewell) == "" {
		cfg.Farewell = DefaultFarewell
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = DefaultHistoryTurns
	}
	if generator == nil {
		generator = PlaceholderGenerator{}
	}
	return &Pipeline{
		transcriber: transcriber,
		generator:   generator,
		store:       store,
		metrics:     metrics,
		cfg:         cfg,
	}
}

func (p *Pipeline) ProcessUtterance(ctx context.Context, u session.Utterance) (session.Decision, error) {
	wav, err := p.encode(u.Audio)
	if err != nil {
		return session.Decision{}, err
	}

	started := time.Now()
	text, err := p.transcriber.Transcribe(ctx, wav)
	p.metrics.ObserveStage(observability.StageTranscribe, time.Since(started))
	if errors.Is(err, ErrEmptyTranscript) {
		return session.Decision{}, nil
	}
	if err != nil {
		p.metrics.ObserveProviderError(p.transcriber.Name(), "transcribe")
		return session.Decision{}, fmt.Errorf("transcribe: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return session.Decision{}, nil
	}

	history := p.history(ctx, u.CallSID)
	log.Printf("caller speech session=%s call=%s text=%q", u.SessionID, u.CallSID, text)
	p.record(ctx, u, transcript.SpeakerUser, text)

	if IsEndCallPhrase(text) {
		return session.Decision{Transcript: text, Speak: p.cfg.Farewell, EndCall: true}, nil
	}

	started = time.Now()
	reply, err := p.generator.Generate(ctx, Request{
		CallSID:      u.CallSID,
		SystemPrompt: p.cfg.SystemPrompt,
		Text:         text,
		History:      history,
	})
	p.metrics.ObserveStage(observability.StageGenerate, time.Since(started))
	if err != nil {
		p.metrics.ObserveProviderError(p.generator.Name(), "generate")
		return session.Decision{Transcript: text}, fmt.Errorf("generate: %w", err)
	}

	reply = SanitizeSpeechText(reply)
	if reply == "" {
		return session.Decision{Transcript: text}, nil
	}
	log.Printf("assistant reply session=%s call=%s text=%q", u.SessionID, u.CallSID, reply)
	return session.Decision{Transcript: text, Speak: reply}, nil
}

// encode converts mu-law to an 8 kHz PCM16 WAV, lifting quiet speech first.
func (p *Pipeline) encode(ulaw []byte) ([]byte, error) {
	samples := audio.DecodeMulaw(ulaw)
	if p.cfg.QuietGain {
		if factor := audio.BoostQuiet(samples); factor > 1 {
			log.Printf("quiet utterance boosted factor=%.2f samples=%d", factor, len(samples))
		}
	}
	wav, err := audio.EncodeWAVPCM16LE(audio.PCM16LE(samples), audio.TelephonySampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return wav, nil
}

func (p *Pipeline) history(ctx context.Context, callSID string) []Turn {
	if p.store == nil || callSID == "" {
		return nil
	}
	entries, err := p.store.Recent(ctx, callSID, p.cfg.HistoryTurns)
	if err != nil {
		log.Printf("transcript history unavailable call=%s: %v", callSID, err)
		return nil
	}
	turns := make([]Turn, 0, len(entries))
	for _, e := range entries {
		role := RoleUser
		if e.Speaker == transcript.SpeakerAI {
			role = RoleAssistant
		}
		turns = append(turns, Turn{Role: role, Text: e.Text})
	}
	return turns
}

// RecordReply logs a reply the caller actually heard.
func (p *Pipeline) RecordReply(ctx context.Context, u session.Utterance, text string) {
	p.record(ctx, u, transcript.SpeakerAI, text)
}

func (p *Pipeline) record(ctx context.Context, u session.Utterance, speaker transcript.Speaker, text string) {
	if p.store == nil {
		return
	}
	callSID := u.CallSID
	if callSID == "" {
		callSID = u.SessionID
	}
	err := p.store.Append(ctx, transcript.Entry{
		CallSID:   callSID,
		SessionID: u.SessionID,
		Speaker:   speaker,
		Text:      text,
	})
	if err != nil {
		log.Printf("transcript append failed call=%s: %v", callSID, err)
	}
}
