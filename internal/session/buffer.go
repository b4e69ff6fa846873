package session

import (
	"sync"
	"time"
)

// Buffer accumulates one caller's frames between drains. Silence frames that
// arrive before any speech are dropped; once speech starts every frame is kept
// so drained audio preserves its natural gaps.
type Buffer struct {
	mu             sync.Mutex
	now            func() time.Time
	silenceTimeout time.Duration

	frames      [][]byte
	size        int
	firstSpeech time.Time
	lastSpeech  time.Time
}

// BufferStatus is a consistent read of the buffer taken under one lock.
type BufferStatus struct {
	Empty               bool
	Bytes               int
	TimeSinceLastSpeech time.Duration
	SpeechDuration      time.Duration
	SilenceElapsed      bool
}

func NewBuffer(silenceTimeout time.Duration, now func() time.Time) *Buffer {
	if now == nil {
		now = time.Now
	}
	return &Buffer{now: now, silenceTimeout: silenceTimeout}
}

// Append stores a copy of frame and reports whether it was kept.
func (b *Buffer) Append(frame []byte, hasEnergy bool) bool {
	if len(frame) == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if !hasEnergy && b.lastSpeech.IsZero() {
		return false
	}
	if hasEnergy {
		now := b.now()
		if b.firstSpeech.IsZero() {
			b.firstSpeech = now
		}
		b.lastSpeech = now
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	b.frames = append(b.frames, cp)
	b.size += len(cp)
	return true
}

// Drain returns every stored frame concatenated in arrival order and resets
// the buffer. It returns nil when nothing was stored.
func (b *Buffer) Drain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		b.resetLocked()
		return nil
	}
	out := make([]byte, 0, b.size)
	for _, f := range b.frames {
		out = append(out, f...)
	}
	b.resetLocked()
	return out
}

func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
}

func (b *Buffer) IsEmpty() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == 0
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// TimeSinceLastSpeech is zero until a speech frame has been seen.
func (b *Buffer) TimeSinceLastSpeech() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sinceLastLocked(b.now())
}

func (b *Buffer) SpeechDuration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.durationLocked()
}

func (b *Buffer) Status() BufferStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	since := b.sinceLastLocked(b.now())
	return BufferStatus{
		Empty:               b.size == 0,
		Bytes:               b.size,
		TimeSinceLastSpeech: since,
		SpeechDuration:      b.durationLocked(),
		SilenceElapsed:      !b.lastSpeech.IsZero() && since >= b.silenceTimeout,
	}
}

func (b *Buffer) sinceLastLocked(now time.Time) time.Duration {
	if b.lastSpeech.IsZero() {
		return 0
	}
	return now.Sub(b.lastSpeech)
}

func (b *Buffer) durationLocked() time.Duration {
	if b.firstSpeech.IsZero() {
		return 0
	}
	return b.lastSpeech.Sub(b.firstSpeech)
}

func (b *Buffer) resetLocked() {
	b.frames = nil
	b.size = 0
	b.firstSpeech = time.Time{}
	b.lastSpeech = time.Time{}
}
