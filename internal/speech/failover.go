package speech

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

// FailoverTranscriber prefers the primary backend and switches to the
// fallback when the primary fails. Once the fallback succeeds it stays active
// until it fails; then the primary is retried.
type FailoverTranscriber struct {
	primary        Transcriber
	fallback       Transcriber
	fallbackActive atomic.Bool
}

func NewFailoverTranscriber(primary, fallback Transcriber) *FailoverTranscriber {
	return &FailoverTranscriber{primary: primary, fallback: fallback}
}

func (f *FailoverTranscriber) Name() string {
	return f.primary.Name() + "+" + f.fallback.Name()
}

// FallbackActive reports whether the fallback backend is currently preferred.
func (f *FailoverTranscriber) FallbackActive() bool {
	return f.fallbackActive.Load()
}

func (f *FailoverTranscriber) Transcribe(ctx context.Context, wav []byte) (string, error) {
	if f.fallbackActive.Load() {
		text, fbErr := f.fallback.Transcribe(ctx, wav)
		if !failedOver(fbErr) {
			return text, fbErr
		}
		text, prErr := f.primary.Transcribe(ctx, wav)
		if !failedOver(prErr) {
			f.fallbackActive.Store(false)
			return text, prErr
		}
		return "", fmt.Errorf("stt fallback failed: %v; stt primary failed: %w", fbErr, prErr)
	}

	text, prErr := f.primary.Transcribe(ctx, wav)
	if !failedOver(prErr) {
		return text, prErr
	}
	text, fbErr := f.fallback.Transcribe(ctx, wav)
	if failedOver(fbErr) {
		return "", fmt.Errorf("stt primary failed: %v; stt fallback failed: %w", prErr, fbErr)
	}
	f.fallbackActive.Store(true)
	return text, fbErr
}

// failedOver treats silence and caller cancellation as answers, not outages.
func failedOver(err error) bool {
	if err == nil || errors.Is(err, ErrEmptyTranscript) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// FallbackGenerator answers with fallback when the primary generator errors.
type FallbackGenerator struct {
	primary  Generator
	fallback Generator
}

func NewFallbackGenerator(primary, fallback Generator) *FallbackGenerator {
	return &FallbackGenerator{primary: primary, fallback: fallback}
}

func (g *FallbackGenerator) Name() string {
	return g.primary.Name() + "+" + g.fallback.Name()
}

func (g *FallbackGenerator) Generate(ctx context.Context, req Request) (string, error) {
	text, err := g.primary.Generate(ctx, req)
	if err == nil {
		return text, nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "", err
	}
	fbText, fbErr := g.fallback.Generate(ctx, req)
	if fbErr != nil {
		return "", fmt.Errorf("primary generator error: %w; fallback generator error: %v", err, fbErr)
	}
	return fbText, nil
}
