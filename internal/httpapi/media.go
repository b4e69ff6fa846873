package httpapi

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voicecall/internal/protocol"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/twilio"
)

const (
	streamReadLimit   = 1 << 20
	streamIdleTimeout = 120 * time.Second
)

// handleMediaStream accepts one Twilio media stream. Each connection gets
// its own session; the stream's start event binds it to a call.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sessionID := uuid.NewString()
	s.sessions.Open(sessionID)
	reason := "disconnect"
	defer func() {
		if _, err := s.sessions.Close(sessionID, reason); err != nil && !errors.Is(err, session.ErrNotFound) {
			log.Printf("media stream: close session %s: %v", sessionID, err)
		}
	}()

	resumeURL := s.streamURL(r)

	conn.SetReadLimit(streamReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(streamIdleTimeout))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseStreamMessage(data)
		if err != nil {
			s.metrics.ObserveStreamMessage("invalid")
			if !errors.Is(err, protocol.ErrUnsupportedEvent) {
				log.Printf("media stream %s: %v", sessionID, err)
			}
			continue
		}
		if event, ok := protocol.EventOf(parsed); ok {
			s.metrics.ObserveStreamMessage(string(event))
		}

		switch msg := parsed.(type) {
		case protocol.Start:
			sess, err := s.sessions.Start(sessionID, session.StartInfo{
				CallSID:   msg.CallSID(),
				StreamSID: msg.SessionID(),
				ResumeURL: resumeURL,
			})
			if err != nil {
				log.Printf("media stream %s: start: %v", sessionID, err)
				return
			}
			log.Printf("media stream %s: started call=%s stream=%s state=%s", sessionID, msg.CallSID(), msg.SessionID(), sess.State())
		case protocol.Media:
			frame, err := msg.Audio()
			if err != nil {
				log.Printf("media stream %s: %v", sessionID, err)
				continue
			}
			if _, err := s.sessions.Ingest(sessionID, frame); err != nil {
				log.Printf("media stream %s: ingest: %v", sessionID, err)
				return
			}
		case protocol.Stop:
			reason = "stop"
			return
		}
	}
}

func (s *Server) handleMediaStreamURL(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"url": s.streamURL(r)})
}

// streamURL is the websocket URL Twilio should dial. Without a configured
// callback base the request host is used.
func (s *Server) streamURL(r *http.Request) string {
	if base := s.cfg.TwilioCallbackBaseURL; base != "" {
		return twilio.StreamURL(base)
	}
	return twilio.StreamURL(r.Host)
}

// callbackBase is the public http(s) base for Twilio webhooks.
func (s *Server) callbackBase(r *http.Request) string {
	if base := s.cfg.TwilioCallbackBaseURL; base != "" {
		return base
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host
}
