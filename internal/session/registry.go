package session

import (
	"context"
	"sync"
	"time"

	"github.com/antoniostano/voicecall/internal/audio"
	"github.com/antoniostano/voicecall/internal/observability"
)

const (
	DefaultSilenceTimeout    = 1500 * time.Millisecond
	DefaultMinSpeechDuration = 500 * time.Millisecond
	DefaultPollInterval      = 500 * time.Millisecond
)

// Config holds the segmentation settings read once at startup.
type Config struct {
	SilenceTimeout    time.Duration
	MinSpeechDuration time.Duration
	// InactivityTimeout closes sessions that stopped receiving frames.
	// Zero disables expiry.
	InactivityTimeout time.Duration
	Detector          audio.EnergyDetector
}

// Registry owns every live session and all of its per-session state.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cfg       Config
	processor *Processor
	metrics   *observability.Metrics
	now       func() time.Time
	onClose   func(Info, string)
}

func NewRegistry(cfg Config, processor *Processor, metrics *observability.Metrics) *Registry {
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.MinSpeechDuration < 0 {
		cfg.MinSpeechDuration = 0
	}
	if cfg.Detector.MinEnergyThreshold <= 0 || cfg.Detector.MinNonSilencePercent <= 0 {
		cfg.Detector = audio.NewEnergyDetector(cfg.Detector.MinEnergyThreshold, cfg.Detector.MinNonSilencePercent)
	}
	return &Registry{
		sessions:  make(map[string]*Session),
		cfg:       cfg,
		processor: processor,
		metrics:   metrics,
		now:       time.Now,
	}
}

// SetCloseHook registers fn to run after a session is torn down, with the
// reason ("stop", "disconnect", "expired").
func (r *Registry) SetCloseHook(fn func(info Info, reason string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onClose = fn
}

// Open registers a CONNECTED session for a new transport link. Opening an
// existing id returns the live session.
func (r *Registry) Open(id string) *Session {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if !ok {
		s = newSession(id, r.cfg.SilenceTimeout, r.now)
		r.sessions[id] = s
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		r.metrics.ObserveSessionEvent("opened")
		r.metrics.SetActiveSessions(count)
	}
	return s
}

// Start applies the transport's start event. An empty call id leaves the
// session CONNECTED.
func (r *Registry) Start(id string, info StartInfo) (*Session, error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	if s.Closed() {
		return nil, ErrClosed
	}
	s.start(info, r.now())
	if s.State() == StateActive {
		r.metrics.ObserveSessionEvent("started")
	}
	return s, nil
}

// Ingest classifies one frame and buffers it. While the session is
// processing a response the frame is ignored.
func (r *Registry) Ingest(id string, frame []byte) (audio.Classification, error) {
	s, err := r.Get(id)
	if err != nil {
		return audio.Classification{}, err
	}
	if s.Closed() {
		return audio.Classification{}, ErrClosed
	}
	s.touch(r.now())
	if s.Processing() {
		r.metrics.ObserveFrame("skipped")
		return audio.Classification{}, nil
	}

	c := r.cfg.Detector.Classify(frame)
	s.buffer.Append(frame, c.HasEnergy)
	switch {
	case c.HasEnergy:
		r.metrics.ObserveFrame("speech")
	case c.SuspectedTone:
		r.metrics.ObserveFrame("tone")
	default:
		r.metrics.ObserveFrame("silence")
	}
	return c, nil
}

// Close removes the session from the registry and releases its state.
func (r *Registry) Close(id, reason string) (Info, error) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	hook := r.onClose
	r.mu.Unlock()

	if !ok {
		return Info{}, ErrNotFound
	}
	if !s.close() {
		return s.Info(), nil
	}
	info := s.Info()
	r.metrics.ObserveSessionEvent(reason)
	r.metrics.SetActiveSessions(count)
	if hook != nil {
		hook(info, reason)
	}
	return info, nil
}

func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// FindByCall returns the live session carrying callSID.
func (r *Registry) FindByCall(callSID string) (*Session, error) {
	for _, s := range r.snapshot() {
		if s.CallSID() == callSID {
			return s, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) List() []Info {
	sessions := r.snapshot()
	out := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	return out
}

func (r *Registry) snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
