package twilio

import (
	"context"
	"log"

	"github.com/antoniostano/voicecall/internal/session"
)

// CallControl injects spoken responses into live calls by rewriting their
// TwiML.
type CallControl struct {
	client *Client
	voice  string
}

var _ session.CallControl = (*CallControl)(nil)

func NewCallControl(client *Client, voice string) *CallControl {
	if voice == "" {
		voice = DefaultVoice
	}
	return &CallControl{client: client, voice: voice}
}

func (c *CallControl) SpeakAndResumeStream(ctx context.Context, callSID, text, resumeURL string) bool {
	twiml, err := SayAndResumeTwiML(c.voice, text, resumeURL)
	return c.update(ctx, "resume", callSID, twiml, err)
}

func (c *CallControl) SpeakOnly(ctx context.Context, callSID, text string) bool {
	twiml, err := SayOnlyTwiML(c.voice, text)
	return c.update(ctx, "say", callSID, twiml, err)
}

func (c *CallControl) SpeakAndHangup(ctx context.Context, callSID, text string) bool {
	twiml, err := SayAndHangupTwiML(c.voice, text)
	return c.update(ctx, "hangup", callSID, twiml, err)
}

func (c *CallControl) update(ctx context.Context, kind, callSID, twiml string, err error) bool {
	if err != nil {
		log.Printf("twiml render failed kind=%s call=%s: %v", kind, callSID, err)
		return false
	}
	if err := c.client.UpdateCallTwiML(ctx, callSID, twiml); err != nil {
		log.Printf("twiml injection failed kind=%s call=%s: %v", kind, callSID, err)
		return false
	}
	log.Printf("twiml injected kind=%s call=%s", kind, callSID)
	return true
}
