package transcript

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Speaker labels a transcript line.
type Speaker string

const (
	SpeakerUser Speaker = "USER"
	SpeakerAI   Speaker = "AI"
)

// Entry is one spoken line on a call.
type Entry struct {
	ID        string    `json:"id"`
	CallSID   string    `json:"call_sid"`
	SessionID string    `json:"session_id"`
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists call transcripts.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// EntriesByCall returns every entry for callSID in chronological order.
	EntriesByCall(ctx context.Context, callSID string) ([]Entry, error)
	// Recent returns at most limit of the newest entries, oldest first.
	Recent(ctx context.Context, callSID string, limit int) ([]Entry, error)
	Close() error
}

const emptyTranscript = "No conversation recorded."

// Format renders entries as "[15:04:05] SPEAKER: text" lines.
func Format(entries []Entry) string {
	if len(entries) == 0 {
		return emptyTranscript
	}
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "[%s] %s: %s\n", e.CreatedAt.Format(time.TimeOnly), e.Speaker, strings.TrimSpace(e.Text))
	}
	return strings.TrimRight(b.String(), "\n")
}
