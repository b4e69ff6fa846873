package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/antoniostano/voicecall/internal/config"
	"github.com/antoniostano/voicecall/internal/crm"
	"github.com/antoniostano/voicecall/internal/observability"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/transcript"
	"github.com/antoniostano/voicecall/internal/twilio"
)

// CallPlacer places and inspects calls through the telephony provider.
type CallPlacer interface {
	CreateCall(ctx context.Context, p twilio.CreateCallParams) (twilio.Call, error)
	FetchCall(ctx context.Context, callSID string) (twilio.Call, error)
}

// CRM records finished calls, looks up who to call and manages the
// account and contact records behind /api/salesforce.
type CRM interface {
	CreateCallTask(ctx context.Context, task crm.CallTask) (string, error)
	GetContact(ctx context.Context, contactID string) (crm.Contact, error)
	CreateAccount(ctx context.Context, account crm.Account) (string, error)
	GetAccountWithContacts(ctx context.Context, accountID string) (crm.Account, error)
	CreateContact(ctx context.Context, contact crm.Contact, accountID string) (string, error)
	AppendContactComment(ctx context.Context, contactID, comment, description string) error
	CreateContactTask(ctx context.Context, contactID string, task crm.TaskRequest) (string, error)
}

type Server struct {
	cfg         config.Config
	sessions    *session.Registry
	metrics     *observability.Metrics
	calls       CallPlacer
	crm         CRM
	transcripts transcript.Store
	directory   *callDirectory
	upgrader    websocket.Upgrader

	// background CRM logging
	bg sync.WaitGroup
}

// New builds the HTTP surface. calls and crmClient may be nil when the
// integration is not configured.
func New(cfg config.Config, sessions *session.Registry, metrics *observability.Metrics, calls CallPlacer, crmClient CRM, transcripts transcript.Store) *Server {
	if transcripts == nil {
		transcripts = transcript.NewInMemoryStore()
	}
	return &Server{
		cfg:         cfg,
		sessions:    sessions,
		metrics:     metrics,
		calls:       calls,
		crm:         crmClient,
		transcripts: transcripts,
		directory:   newCallDirectory(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Twilio's media stream client sends no Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Get("/v1/sessions", s.handleListSessions)
	r.Get("/v1/calls/{callSid}/transcript", s.handleTranscript)

	r.Route("/twilio", func(r chi.Router) {
		r.Post("/voice", s.handleVoice)
		r.Get("/media-stream", s.handleMediaStream)
		r.Get("/media-stream-url", s.handleMediaStreamURL)
		r.Post("/outbound/call", s.handleOutboundCall)
		r.Get("/call/{callSid}/status", s.handleCallStatus)
		r.Post("/status", s.handleStatusCallback)
	})
	r.Route("/api/salesforce", s.salesforceRoutes)

	return r
}

// Wait blocks until background CRM logging has finished.
func (s *Server) Wait() {
	s.bg.Wait()
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"active_sessions":   s.sessions.ActiveCount(),
		"twilio_configured": s.calls != nil,
		"crm_configured":    s.crm != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":          "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"sessions": s.sessions.List()})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	callSID := strings.TrimSpace(chi.URLParam(r, "callSid"))
	entries, err := s.transcripts.EntriesByCall(r.Context(), callSID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "transcript_unavailable", err.Error())
		return
	}
	if entries == nil {
		entries = []transcript.Entry{}
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"call_sid":  callSID,
		"entries":   entries,
		"formatted": transcript.Format(entries),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func respondTwiML(w http.ResponseWriter, twiml string) {
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(twiml))
}
