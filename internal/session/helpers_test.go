package session

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakePipeline struct {
	mu       sync.Mutex
	calls    []Utterance
	replies  []string
	decision Decision
	err      error
	release  chan struct{}
	called   chan Utterance
}

func newFakePipeline(decision Decision) *fakePipeline {
	return &fakePipeline{decision: decision, called: make(chan Utterance, 64)}
}

func (p *fakePipeline) ProcessUtterance(ctx context.Context, u Utterance) (Decision, error) {
	p.mu.Lock()
	p.calls = append(p.calls, u)
	release := p.release
	p.mu.Unlock()
	p.called <- u

	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return Decision{}, ctx.Err()
		}
	}
	return p.decision, p.err
}

func (p *fakePipeline) RecordReply(_ context.Context, _ Utterance, text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, text)
}

func (p *fakePipeline) recordedReplies() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.replies...)
}

func (p *fakePipeline) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type controlCall struct {
	kind      string
	callSID   string
	text      string
	resumeURL string
}

type fakeControl struct {
	mu     sync.Mutex
	calls  []controlCall
	reject bool
}

func (c *fakeControl) record(call controlCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, call)
	return !c.reject
}

func (c *fakeControl) SpeakAndResumeStream(_ context.Context, callSID, text, resumeURL string) bool {
	return c.record(controlCall{kind: "resume", callSID: callSID, text: text, resumeURL: resumeURL})
}

func (c *fakeControl) SpeakOnly(_ context.Context, callSID, text string) bool {
	return c.record(controlCall{kind: "say", callSID: callSID, text: text})
}

func (c *fakeControl) SpeakAndHangup(_ context.Context, callSID, text string) bool {
	return c.record(controlCall{kind: "hangup", callSID: callSID, text: text})
}

func (c *fakeControl) snapshot() []controlCall {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]controlCall, len(c.calls))
	copy(out, c.calls)
	return out
}

type harness struct {
	registry   *Registry
	processor  *Processor
	dispatcher *Dispatcher
	pipeline   *fakePipeline
	control    *fakeControl
	clock      *fakeClock
}

func newHarness(t *testing.T, decision Decision, cooldown time.Duration) *harness {
	t.Helper()
	clock := newFakeClock()
	control := &fakeControl{}
	pipeline := newFakePipeline(decision)
	dispatcher := NewDispatcher(control, nil, 3*time.Second, "")
	dispatcher.now = clock.Now
	processor := NewProcessor(pipeline, dispatcher, nil, time.Second, cooldown)
	registry := NewRegistry(Config{
		SilenceTimeout:    1500 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
	}, processor, nil)
	registry.now = clock.Now
	return &harness{
		registry:   registry,
		processor:  processor,
		dispatcher: dispatcher,
		pipeline:   pipeline,
		control:    control,
		clock:      clock,
	}
}

// speechFrame is a 20 ms frame of alternating far-apart mu-law values. The
// first byte carries a marker so ordering can be checked after a drain.
func speechFrame(marker byte) []byte {
	f := make([]byte, 160)
	for i := range f {
		if i%2 == 0 {
			f[i] = 0x10
		} else {
			f[i] = 0xF0
		}
	}
	f[0] = 0x10 + marker%8
	return f
}

func silenceFrame() []byte {
	f := make([]byte, 160)
	for i := range f {
		f[i] = 127
	}
	return f
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
