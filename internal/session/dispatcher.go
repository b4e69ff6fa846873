package session

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/antoniostano/voicecall/internal/observability"
)

const (
	DefaultMinResponseInterval = 3 * time.Second
	DefaultFarewell            = "Thank you for calling. Goodbye!"
)

// Dispatcher debounces responses and drives call-control injection.
type Dispatcher struct {
	control     CallControl
	metrics     *observability.Metrics
	minInterval time.Duration
	farewell    string
	now         func() time.Time
}

func NewDispatcher(control CallControl, metrics *observability.Metrics, minInterval time.Duration, farewell string) *Dispatcher {
	if minInterval < 0 {
		minInterval = 0
	}
	if strings.TrimSpace(farewell) == "" {
		farewell = DefaultFarewell
	}
	return &Dispatcher{
		control:     control,
		metrics:     metrics,
		minInterval: minInterval,
		farewell:    farewell,
		now:         time.Now,
	}
}

// Dispatch speaks text into the session's call, resuming the media stream
// when a resume URL is known. Responses within the minimum interval of the
// previous attempt are dropped.
func (d *Dispatcher) Dispatch(ctx context.Context, s *Session, text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || s.Closed() {
		d.metrics.ObserveDispatch("skipped")
		return false
	}
	callSID := s.CallSID()
	if callSID == "" {
		log.Printf("response dropped, call unknown session=%s", s.ID)
		d.metrics.ObserveDispatch("no_call")
		return false
	}
	if !s.claimDispatch(d.now(), d.minInterval) {
		d.metrics.ObserveDispatch("debounced")
		return false
	}

	started := time.Now()
	var ok bool
	if resume := s.ResumeURL(); resume != "" {
		ok = d.control.SpeakAndResumeStream(ctx, callSID, text, resume)
	} else {
		ok = d.control.SpeakOnly(ctx, callSID, text)
	}
	d.metrics.ObserveStage(observability.StageDispatch, time.Since(started))

	if !ok {
		log.Printf("response injection rejected session=%s call=%s", s.ID, callSID)
		d.metrics.ObserveDispatch("failed")
		return false
	}
	d.metrics.ObserveDispatch("sent")
	return true
}

// Hangup speaks text (or the default farewell) and ends the call. It is not
// debounced.
func (d *Dispatcher) Hangup(ctx context.Context, s *Session, text string) bool {
	text = d.farewellFor(text)
	callSID := s.CallSID()
	if callSID == "" || s.Closed() {
		d.metrics.ObserveDispatch("no_call")
		return false
	}
	s.claimDispatch(d.now(), 0)
	if !d.control.SpeakAndHangup(ctx, callSID, text) {
		log.Printf("hangup rejected session=%s call=%s", s.ID, callSID)
		d.metrics.ObserveDispatch("hangup_failed")
		return false
	}
	d.metrics.ObserveDispatch("hangup")
	return true
}

// farewellFor returns text, or the configured farewell when text is blank.
func (d *Dispatcher) farewellFor(text string) string {
	if strings.TrimSpace(text) == "" {
		return d.farewell
	}
	return text
}
