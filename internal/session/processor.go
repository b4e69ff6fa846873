package session

import (
	"context"
	"log"
	"time"

	"github.com/antoniostano/voicecall/internal/observability"
)

const (
	DefaultPipelineTimeout    = 20 * time.Second
	DefaultProcessingCooldown = 3 * time.Second
)

// Processor drains a finalized buffer, runs the speech pipeline and hands the
// decision to the dispatcher.
type Processor struct {
	pipeline   Pipeline
	dispatcher *Dispatcher
	metrics    *observability.Metrics
	timeout    time.Duration
	cooldown   time.Duration
}

func NewProcessor(pipeline Pipeline, dispatcher *Dispatcher, metrics *observability.Metrics, timeout, cooldown time.Duration) *Processor {
	if timeout <= 0 {
		timeout = DefaultPipelineTimeout
	}
	if cooldown < 0 {
		cooldown = 0
	}
	return &Processor{
		pipeline:   pipeline,
		dispatcher: dispatcher,
		metrics:    metrics,
		timeout:    timeout,
		cooldown:   cooldown,
	}
}

// Process runs one utterance cycle for s. It is a no-op returning the zero
// Decision when s is already processing or closed.
func (p *Processor) Process(ctx context.Context, s *Session) Decision {
	if !s.beginProcessing() {
		return Decision{}
	}
	return p.run(ctx, s)
}

// run assumes the caller already holds the processing state.
func (p *Processor) run(ctx context.Context, s *Session) Decision {
	payload := s.buffer.Drain()
	if len(payload) == 0 {
		s.endProcessing()
		p.metrics.ObserveUtterance("empty")
		return Decision{}
	}

	u := Utterance{SessionID: s.ID, CallSID: s.CallSID(), Audio: payload}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	started := time.Now()
	decision, err := p.pipeline.ProcessUtterance(pctx, u)
	cancel()
	p.metrics.ObservePipelineLatency(time.Since(started))

	if err != nil {
		log.Printf("utterance pipeline failed session=%s call=%s bytes=%d: %v", u.SessionID, u.CallSID, len(payload), err)
		p.metrics.ObserveUtterance("failed")
		s.endProcessing()
		return Decision{}
	}
	if decision.IsNone() {
		p.metrics.ObserveUtterance("no_response")
		s.endProcessing()
		return decision
	}

	if decision.EndCall {
		p.metrics.ObserveUtterance("end_call")
		if !p.dispatcher.Hangup(ctx, s, decision.Speak) {
			s.releaseAfter(p.cooldown)
			return decision
		}
		p.recordReply(ctx, u, p.dispatcher.farewellFor(decision.Speak))
		return decision
	}

	p.metrics.ObserveUtterance("processed")
	if p.dispatcher.Dispatch(ctx, s, decision.Speak) {
		p.recordReply(ctx, u, decision.Speak)
	}
	s.releaseAfter(p.cooldown)
	return decision
}

func (p *Processor) recordReply(ctx context.Context, u Utterance, text string) {
	if rec, ok := p.pipeline.(ReplyRecorder); ok {
		rec.RecordReply(ctx, u, text)
	}
}
