package protocol

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// EventType identifies Twilio Media Streams message variants.
type EventType string

const (
	EventConnected EventType = "connected"
	EventStart     EventType = "start"
	EventMedia     EventType = "media"
	EventStop      EventType = "stop"
	EventMark      EventType = "mark"
	EventDTMF      EventType = "dtmf"
)

// UnknownCallSID is the placeholder some stream starts carry before the call is known.
const UnknownCallSID = "unknown"

var (
	ErrUnsupportedEvent = errors.New("unsupported stream event")
	ErrMissingEvent     = errors.New("missing stream event")
)

type Envelope struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid,omitempty"`
}

type Connected struct {
	Event    EventType `json:"event"`
	Protocol string    `json:"protocol"`
	Version  string    `json:"version"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type StartDetails struct {
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	StreamSID        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
}

type Start struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSID      string       `json:"streamSid"`
	Start          StartDetails `json:"start"`
}

// CallSID returns the call identifier, or empty when the stream reported
// no call or the placeholder value.
func (s Start) CallSID() string {
	sid := strings.TrimSpace(s.Start.CallSID)
	if sid == "" || strings.EqualFold(sid, UnknownCallSID) {
		return ""
	}
	return sid
}

// SessionID prefers the top-level stream id, falling back to the nested one.
func (s Start) SessionID() string {
	if s.StreamSID != "" {
		return s.StreamSID
	}
	return s.Start.StreamSID
}

type MediaPayload struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

type Media struct {
	Event          EventType    `json:"event"`
	SequenceNumber string       `json:"sequenceNumber"`
	StreamSID      string       `json:"streamSid"`
	Media          MediaPayload `json:"media"`
}

// Audio decodes the base64 mu-law payload.
func (m Media) Audio() ([]byte, error) {
	if m.Media.Payload == "" {
		return nil, errors.New("empty media payload")
	}
	raw, err := base64.StdEncoding.DecodeString(m.Media.Payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return raw, nil
}

type StopDetails struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type Stop struct {
	Event          EventType   `json:"event"`
	SequenceNumber string      `json:"sequenceNumber"`
	StreamSID      string      `json:"streamSid"`
	Stop           StopDetails `json:"stop"`
}

// Passive covers events that are accepted but carry nothing for the pipeline.
type Passive struct {
	Event     EventType `json:"event"`
	StreamSID string    `json:"streamSid"`
}

func ParseStreamMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Event {
	case "":
		return nil, ErrMissingEvent
	case EventConnected:
		var msg Connected
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventStart:
		var msg Start
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMedia:
		var msg Media
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Media.Payload == "" {
			return nil, errors.New("invalid media event")
		}
		return msg, nil
	case EventStop:
		var msg Stop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case EventMark, EventDTMF:
		return Passive{Event: env.Event, StreamSID: env.StreamSID}, nil
	default:
		return nil, ErrUnsupportedEvent
	}
}

// EventOf returns the event type of a parsed message.
func EventOf(v any) (EventType, bool) {
	switch m := v.(type) {
	case Connected:
		return m.Event, true
	case Start:
		return m.Event, true
	case Media:
		return m.Event, true
	case Stop:
		return m.Event, true
	case Passive:
		return m.Event, true
	default:
		return "", false
	}
}
