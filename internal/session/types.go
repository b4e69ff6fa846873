package session

import (
	"context"
	"errors"
	"time"
)

// State is the lifecycle of one call's audio session.
type State int32

const (
	StateConnected State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	ErrNotFound = errors.New("session not found")
	ErrClosed   = errors.New("session closed")
)

// Utterance is one drained buffer handed to the speech pipeline.
type Utterance struct {
	SessionID string
	CallSID   string
	Audio     []byte
}

// Decision is the outcome of processing one utterance. The zero value means
// nothing should be said.
type Decision struct {
	Transcript string
	Speak      string
	EndCall    bool
}

func (d Decision) IsNone() bool {
	return d.Speak == "" && !d.EndCall
}

// Pipeline turns caller audio into a response decision. Implementations must
// honor ctx cancellation.
type Pipeline interface {
	ProcessUtterance(ctx context.Context, u Utterance) (Decision, error)
}

// ReplyRecorder is implemented by pipelines that log spoken replies. The
// processor calls it only once the call control accepted the reply.
type ReplyRecorder interface {
	RecordReply(ctx context.Context, u Utterance, text string)
}

// CallControl injects speech into a live call. A false return means the
// injection was rejected; callers do not retry.
type CallControl interface {
	SpeakAndResumeStream(ctx context.Context, callSID, text, resumeURL string) bool
	SpeakOnly(ctx context.Context, callSID, text string) bool
	SpeakAndHangup(ctx context.Context, callSID, text string) bool
}

// Info is a point-in-time copy of a session for callers outside the registry.
type Info struct {
	ID             string    `json:"session_id"`
	CallSID        string    `json:"call_sid,omitempty"`
	StreamSID      string    `json:"stream_sid,omitempty"`
	ResumeURL      string    `json:"resume_url,omitempty"`
	State          string    `json:"state"`
	Processing     bool      `json:"processing"`
	BufferedBytes  int       `json:"buffered_bytes"`
	OpenedAt       time.Time `json:"opened_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
}

// StartInfo carries what the transport's start event reveals about a call.
type StartInfo struct {
	CallSID   string
	StreamSID string
	ResumeURL string
}
