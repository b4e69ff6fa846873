package session

import (
	"context"
	"log"
	"time"
)

// Phase is where a session sits in the silence state machine.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAccumulating
	PhaseReady
	PhaseDiscarded
	// PhaseBusy means the session is processing or closed and was skipped.
	PhaseBusy
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAccumulating:
		return "accumulating"
	case PhaseReady:
		return "ready"
	case PhaseDiscarded:
		return "discarded"
	case PhaseBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// StartScheduler polls every live session on one shared ticker until ctx is
// done. Ready sessions are processed on their own goroutines.
func (r *Registry) StartScheduler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.tick(ctx)
			}
		}
	}()
}

func (r *Registry) tick(ctx context.Context) {
	now := r.now()
	var expired []string

	for _, s := range r.snapshot() {
		if r.cfg.InactivityTimeout > 0 && s.idleFor(now) >= r.cfg.InactivityTimeout {
			expired = append(expired, s.ID)
			continue
		}
		switch r.evaluate(s) {
		case PhaseReady:
			if !s.beginProcessing() {
				continue
			}
			if r.processor == nil {
				s.buffer.Clear()
				s.endProcessing()
				continue
			}
			go r.processor.run(ctx, s)
		case PhaseDiscarded:
			s.buffer.Clear()
			r.metrics.ObserveUtterance("discarded")
		}
	}

	for _, id := range expired {
		if _, err := r.Close(id, "expired"); err == nil {
			log.Printf("session expired after inactivity session=%s", id)
		}
	}
}

// evaluate reads the buffer once and decides the session's phase.
func (r *Registry) evaluate(s *Session) Phase {
	if s.Processing() || s.Closed() {
		return PhaseBusy
	}
	st := s.buffer.Status()
	switch {
	case st.Empty:
		return PhaseIdle
	case !st.SilenceElapsed:
		return PhaseAccumulating
	case st.SpeechDuration >= r.cfg.MinSpeechDuration:
		return PhaseReady
	default:
		return PhaseDiscarded
	}
}
