package speech

import (
	"context"
	"errors"
)

// ErrEmptyTranscript is returned when a transcriber heard nothing usable.
var ErrEmptyTranscript = errors.New("speech: empty transcript")

// Transcriber turns an 8 kHz PCM16 WAV utterance into text.
type Transcriber interface {
	Name() string
	Transcribe(ctx context.Context, wav []byte) (string, error)
}

// Role identifies who spoke a history turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one line of earlier conversation on the call.
type Turn struct {
	Role Role
	Text string
}

// Request is what a Generator answers.
type Request struct {
	CallSID      string
	SystemPrompt string
	Text         string
	// History is oldest first and excludes Text.
	History []Turn
}

// Generator produces the assistant's spoken reply.
type Generator interface {
	Name() string
	Generate(ctx context.Context, req Request) (string, error)
}
