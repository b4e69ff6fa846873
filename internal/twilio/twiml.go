package twilio

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	DefaultVoice    = "alice"
	resumePause     = 1
	keepAlivePause  = 60
	mediaStreamPath = "/twilio/media-stream"
)

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any
}

type sayVerb struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type pauseVerb struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr"`
}

type streamNoun struct {
	XMLName xml.Name `xml:"Stream"`
	URL     string   `xml:"url,attr,omitempty"`
}

type startVerb struct {
	XMLName xml.Name `xml:"Start"`
	Stream  streamNoun
}

type stopVerb struct {
	XMLName xml.Name `xml:"Stop"`
	Stream  streamNoun
}

type hangupVerb struct {
	XMLName xml.Name `xml:"Hangup"`
}

func render(verbs ...any) (string, error) {
	out, err := xml.Marshal(twimlResponse{Verbs: verbs})
	if err != nil {
		return "", fmt.Errorf("marshal twiml: %w", err)
	}
	return xml.Header + string(out), nil
}

func say(voice, text string) sayVerb {
	if strings.TrimSpace(voice) == "" {
		voice = DefaultVoice
	}
	return sayVerb{Voice: voice, Text: strings.TrimSpace(text)}
}

// SayAndResumeTwiML stops the media stream, speaks text, then reopens the
// stream at streamURL and holds the call open.
func SayAndResumeTwiML(voice, text, streamURL string) (string, error) {
	return render(
		stopVerb{},
		say(voice, text),
		pauseVerb{Length: resumePause},
		startVerb{Stream: streamNoun{URL: streamURL}},
		pauseVerb{Length: keepAlivePause},
	)
}

// SayOnlyTwiML speaks text. The live stream ends with it.
func SayOnlyTwiML(voice, text string) (string, error) {
	return render(say(voice, text))
}

// SayAndHangupTwiML stops the media stream, speaks text and ends the call.
func SayAndHangupTwiML(voice, text string) (string, error) {
	return render(stopVerb{}, say(voice, text), hangupVerb{})
}

// GreetingTwiML answers a call: it opens the media stream first so caller
// audio is captured during the greeting.
func GreetingTwiML(voice, greeting, streamURL string) (string, error) {
	verbs := []any{startVerb{Stream: streamNoun{URL: streamURL}}}
	if strings.TrimSpace(greeting) != "" {
		verbs = append(verbs, say(voice, greeting))
	}
	verbs = append(verbs, pauseVerb{Length: keepAlivePause})
	return render(verbs...)
}

// StreamURL derives the media stream websocket URL from the public callback
// base: http(s) becomes wss and the stream path is appended.
func StreamURL(callbackBase string) string {
	base := strings.TrimRight(strings.TrimSpace(callbackBase), "/")
	if base == "" {
		return ""
	}
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "wss://" + strings.TrimPrefix(base, "http://")
	case strings.HasPrefix(base, "wss://"), strings.HasPrefix(base, "ws://"):
	default:
		base = "wss://" + base
	}
	return base + mediaStreamPath
}
