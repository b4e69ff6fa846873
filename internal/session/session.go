package session

import (
	"sync"
	"sync/atomic"
	"time"
)

// Session is one live call's audio-processing context. It is owned by the
// Registry; other packages only hold it as a handle.
type Session struct {
	ID       string
	openedAt time.Time
	buffer   *Buffer

	state      atomic.Int32
	processing atomic.Bool

	mu           sync.Mutex
	callSID      string
	streamSID    string
	resumeURL    string
	lastDispatch time.Time
	lastActivity time.Time
	release      *time.Timer
}

func newSession(id string, silenceTimeout time.Duration, now func() time.Time) *Session {
	t := now()
	s := &Session{
		ID:           id,
		openedAt:     t,
		lastActivity: t,
		buffer:       NewBuffer(silenceTimeout, now),
	}
	s.state.Store(int32(StateConnected))
	return s
}

func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) Closed() bool {
	return s.State() == StateClosed
}

// Processing reports whether an utterance is in flight or cooling down.
func (s *Session) Processing() bool {
	return s.processing.Load()
}

func (s *Session) Buffer() *Buffer {
	return s.buffer
}

func (s *Session) CallSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.callSID
}

func (s *Session) ResumeURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resumeURL
}

func (s *Session) Info() Info {
	s.mu.Lock()
	info := Info{
		ID:             s.ID,
		CallSID:        s.callSID,
		StreamSID:      s.streamSID,
		ResumeURL:      s.resumeURL,
		OpenedAt:       s.openedAt,
		LastActivityAt: s.lastActivity,
	}
	s.mu.Unlock()
	info.State = s.State().String()
	info.Processing = s.Processing()
	info.BufferedBytes = s.buffer.Len()
	return info
}

func (s *Session) start(info StartInfo, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if info.CallSID != "" {
		s.callSID = info.CallSID
	}
	if info.StreamSID != "" {
		s.streamSID = info.StreamSID
	}
	if info.ResumeURL != "" {
		s.resumeURL = info.ResumeURL
	}
	s.lastActivity = now
	if s.callSID != "" {
		s.state.CompareAndSwap(int32(StateConnected), int32(StateActive))
	}
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastActivity = now
	s.mu.Unlock()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastActivity)
}

// beginProcessing enters the processing state; only one caller can win.
func (s *Session) beginProcessing() bool {
	if s.Closed() {
		return false
	}
	return s.processing.CompareAndSwap(false, true)
}

func (s *Session) endProcessing() {
	s.processing.Store(false)
}

// releaseAfter leaves the processing state once d has elapsed.
func (s *Session) releaseAfter(d time.Duration) {
	if d <= 0 {
		s.endProcessing()
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Closed() {
		return
	}
	if s.release != nil {
		s.release.Stop()
	}
	s.release = time.AfterFunc(d, s.endProcessing)
}

// claimDispatch records a dispatch attempt unless one happened within minInterval.
func (s *Session) claimDispatch(now time.Time, minInterval time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.lastDispatch.IsZero() && now.Sub(s.lastDispatch) < minInterval {
		return false
	}
	s.lastDispatch = now
	return true
}

// close moves the session to CLOSED and releases its per-session state.
// It reports false if the session was already closed.
func (s *Session) close() bool {
	if State(s.state.Swap(int32(StateClosed))) == StateClosed {
		return false
	}
	s.mu.Lock()
	if s.release != nil {
		s.release.Stop()
		s.release = nil
	}
	s.mu.Unlock()
	s.buffer.Clear()
	return true
}
