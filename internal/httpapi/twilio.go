package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/antoniostano/voicecall/internal/crm"
	"github.com/antoniostano/voicecall/internal/policy"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/transcript"
	"github.com/antoniostano/voicecall/internal/twilio"
)

const crmLogTimeout = 30 * time.Second

var statusCallbackEvents = []string{"initiated", "ringing", "answered", "completed"}

// handleVoice answers Twilio's voice webhook with the greeting and the
// media stream. Outbound calls carry their opening line in ?message=.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	callSID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	greeting := strings.TrimSpace(r.URL.Query().Get("message"))
	if greeting == "" {
		greeting = s.cfg.TwilioGreeting
	}

	twiml, err := twilio.GreetingTwiML(s.cfg.TwilioVoice, greeting, s.streamURL(r))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	if callSID != "" && greeting != "" {
		entry := transcript.Entry{CallSID: callSID, Speaker: transcript.SpeakerAI, Text: greeting}
		if err := s.transcripts.Append(r.Context(), entry); err != nil {
			log.Printf("voice webhook: record greeting for %s: %v", callSID, err)
		}
	}
	respondTwiML(w, twiml)
}

type outboundCallRequest struct {
	ToNumber      string `json:"to_number"`
	FromNumber    string `json:"from_number"`
	CustomMessage string `json:"custom_message"`
	ContactID     string `json:"contact_id"`
	AccountID     string `json:"account_id"`
}

type outboundCallResponse struct {
	CallSID   string `json:"call_sid"`
	Status    string `json:"status"`
	To        string `json:"to"`
	From      string `json:"from"`
	ContactID string `json:"contact_id,omitempty"`
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "twilio_unconfigured", "twilio credentials are not configured")
		return
	}
	var req outboundCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ToNumber = strings.TrimSpace(req.ToNumber)
	req.ContactID = strings.TrimSpace(req.ContactID)
	message := strings.TrimSpace(req.CustomMessage)

	if req.ToNumber == "" && req.ContactID != "" {
		if s.crm == nil {
			respondError(w, http.StatusServiceUnavailable, "crm_unconfigured", "contact lookup requires salesforce credentials")
			return
		}
		contact, err := s.crm.GetContact(r.Context(), req.ContactID)
		if err != nil {
			respondError(w, http.StatusBadGateway, "contact_lookup_failed", err.Error())
			return
		}
		req.ToNumber = contact.PreferredPhone()
		if message == "" {
			message = contact.OutboundMessage()
		}
	}
	if req.ToNumber == "" {
		respondError(w, http.StatusBadRequest, "missing_to_number", "to_number or a contact with a phone number is required")
		return
	}
	from := strings.TrimSpace(req.FromNumber)
	if from == "" {
		from = s.cfg.TwilioPhoneNumber
	}
	if from == "" {
		respondError(w, http.StatusBadRequest, "missing_from_number", "from_number is required when TWILIO_PHONE_NUMBER is unset")
		return
	}

	base := s.callbackBase(r)
	voiceURL := base + "/twilio/voice"
	if message != "" {
		voiceURL += "?message=" + url.QueryEscape(message)
	}
	call, err := s.calls.CreateCall(r.Context(), twilio.CreateCallParams{
		To:                   req.ToNumber,
		From:                 from,
		URL:                  voiceURL,
		StatusCallback:       base + "/twilio/status",
		StatusCallbackEvents: statusCallbackEvents,
	})
	if err != nil {
		respondError(w, http.StatusBadGateway, "call_failed", err.Error())
		return
	}

	s.directory.remember(call.SID, callContext{
		ContactID: req.ContactID,
		AccountID: strings.TrimSpace(req.AccountID),
		To:        req.ToNumber,
		Message:   message,
	})
	log.Printf("outbound call %s placed to %s", call.SID, req.ToNumber)
	respondJSON(w, http.StatusCreated, outboundCallResponse{
		CallSID:   call.SID,
		Status:    call.Status,
		To:        req.ToNumber,
		From:      from,
		ContactID: req.ContactID,
	})
}

func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	if s.calls == nil {
		respondError(w, http.StatusServiceUnavailable, "twilio_unconfigured", "twilio credentials are not configured")
		return
	}
	callSID := strings.TrimSpace(chi.URLParam(r, "callSid"))
	call, err := s.calls.FetchCall(r.Context(), callSID)
	if err != nil {
		var apiErr *twilio.APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			respondError(w, http.StatusNotFound, "call_not_found", err.Error())
			return
		}
		respondError(w, http.StatusBadGateway, "call_lookup_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, call)
}

// handleStatusCallback receives Twilio call status updates. A terminal
// status closes any live session for the call and logs it to the CRM.
func (s *Server) handleStatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_form", err.Error())
		return
	}
	callSID := strings.TrimSpace(r.PostForm.Get("CallSid"))
	status := strings.ToLower(strings.TrimSpace(r.PostForm.Get("CallStatus")))
	if callSID == "" || status == "" {
		respondError(w, http.StatusBadRequest, "invalid_status_callback", "CallSid and CallStatus are required")
		return
	}
	log.Printf("call %s status=%s", callSID, status)

	if crm.IsTerminalStatus(status) {
		if sess, err := s.sessions.FindByCall(callSID); err == nil {
			if _, err := s.sessions.Close(sess.ID, "call_ended"); err != nil && !errors.Is(err, session.ErrNotFound) {
				log.Printf("call %s: close session: %v", callSID, err)
			}
		}
		s.logCall(callSID, status)
	}
	w.WriteHeader(http.StatusNoContent)
}

// logCall creates the CRM task for a call this service placed, in the
// background. The call context is consumed, so each call is logged at most
// once and calls without one (inbound) are not logged.
func (s *Server) logCall(callSID, status string) {
	callCtx, ok := s.directory.take(callSID)
	if !ok {
		return
	}
	if s.crm == nil {
		s.metrics.ObserveCRMTask("skipped")
		return
	}

	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), crmLogTimeout)
		defer cancel()

		entries, err := s.transcripts.EntriesByCall(ctx, callSID)
		if err != nil {
			log.Printf("crm: load transcript for %s: %v", callSID, err)
		}
		description := transcript.Format(entries)
		if s.cfg.CRMRedactPII {
			var n int
			description, n = policy.RedactTranscript(description)
			if n > 0 {
				log.Printf("crm: redacted %d transcript lines for %s", n, callSID)
			}
		}

		id, err := s.crm.CreateCallTask(ctx, crm.CallTask{
			CallSID:      callSID,
			Status:       status,
			Description:  description,
			ContactID:    callCtx.ContactID,
			AccountID:    callCtx.AccountID,
			ActivityDate: time.Now(),
		})
		if err != nil {
			s.metrics.ObserveCRMTask("error")
			log.Printf("crm: create task for %s: %v", callSID, err)
			return
		}
		s.metrics.ObserveCRMTask("created")
		log.Printf("crm: task %s created for call %s", id, callSID)
	}()
}
