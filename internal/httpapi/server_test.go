package httpapi

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/antoniostano/voicecall/internal/config"
	"github.com/antoniostano/voicecall/internal/crm"
	"github.com/antoniostano/voicecall/internal/observability"
	"github.com/antoniostano/voicecall/internal/session"
	"github.com/antoniostano/voicecall/internal/transcript"
	"github.com/antoniostano/voicecall/internal/twilio"
)

type fakeCalls struct {
	mu      sync.Mutex
	created []twilio.CreateCallParams
	fetch   func(callSID string) (twilio.Call, error)
}

func (f *fakeCalls) CreateCall(_ context.Context, p twilio.CreateCallParams) (twilio.Call, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, p)
	return twilio.Call{SID: fmt.Sprintf("CA%03d", len(f.created)), Status: "queued", To: p.To, From: p.From}, nil
}

func (f *fakeCalls) snapshot() []twilio.CreateCallParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]twilio.CreateCallParams(nil), f.created...)
}

func (f *fakeCalls) FetchCall(_ context.Context, callSID string) (twilio.Call, error) {
	if f.fetch != nil {
		return f.fetch(callSID)
	}
	return twilio.Call{SID: callSID, Status: "in-progress"}, nil
}

type fakeCRM struct {
	mu           sync.Mutex
	tasks        []crm.CallTask
	contacts     map[string]crm.Contact
	accounts     map[string]crm.Account
	created      []crm.Contact
	comments     map[string][]string
	contactTasks []crm.TaskRequest
}

func (f *fakeCRM) CreateCallTask(_ context.Context, task crm.CallTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
	return fmt.Sprintf("00T%03d", len(f.tasks)), nil
}

func (f *fakeCRM) GetContact(_ context.Context, id string) (crm.Contact, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.contacts[id]
	if !ok {
		return crm.Contact{}, fmt.Errorf("contact %s: %w", id, crm.ErrRecordNotFound)
	}
	return c, nil
}

func (f *fakeCRM) CreateAccount(_ context.Context, account crm.Account) (string, error) {
	if strings.TrimSpace(account.Name) == "" {
		return "", fmt.Errorf("create account: %w", crm.ErrInvalidRecord)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.accounts == nil {
		f.accounts = make(map[string]crm.Account)
	}
	id := fmt.Sprintf("001%03d", len(f.accounts)+1)
	account.ID = id
	f.accounts[id] = account
	return id, nil
}

func (f *fakeCRM) GetAccountWithContacts(_ context.Context, id string) (crm.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	account, ok := f.accounts[id]
	if !ok {
		return crm.Account{}, fmt.Errorf("account %s: %w", id, crm.ErrRecordNotFound)
	}
	for _, c := range f.created {
		if c.AccountID == id {
			account.Contacts = append(account.Contacts, c)
		}
	}
	return account, nil
}

func (f *fakeCRM) CreateContact(_ context.Context, contact crm.Contact, accountID string) (string, error) {
	if contact.FirstName == "" || contact.LastName == "" {
		return "", fmt.Errorf("create contact: %w", crm.ErrInvalidRecord)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	contact.AccountID = accountID
	contact.ID = fmt.Sprintf("003N%02d", len(f.created)+1)
	f.created = append(f.created, contact)
	return contact.ID, nil
}

func (f *fakeCRM) AppendContactComment(_ context.Context, id, comment, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.contacts[id]; !ok {
		return &crm.APIError{Status: http.StatusNotFound, ErrorCode: "NOT_FOUND"}
	}
	if comment == "" {
		return fmt.Errorf("update comments: %w", crm.ErrInvalidRecord)
	}
	if f.comments == nil {
		f.comments = make(map[string][]string)
	}
	f.comments[id] = append(f.comments[id], comment)
	return nil
}

func (f *fakeCRM) CreateContactTask(_ context.Context, id string, task crm.TaskRequest) (string, error) {
	if task.Subject == "" {
		return "", fmt.Errorf("create contact task: %w", crm.ErrInvalidRecord)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	task.WhoID = id
	f.contactTasks = append(f.contactTasks, task)
	return fmt.Sprintf("00T9%02d", len(f.contactTasks)), nil
}

func (f *fakeCRM) createdContacts() []crm.Contact {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.Contact(nil), f.created...)
}

func (f *fakeCRM) createdTasks() []crm.TaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.TaskRequest(nil), f.contactTasks...)
}

func (f *fakeCRM) snapshot() []crm.CallTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crm.CallTask(nil), f.tasks...)
}

type testEnv struct {
	srv         *Server
	ts          *httptest.Server
	sessions    *session.Registry
	transcripts *transcript.InMemoryStore
}

func testConfig() config.Config {
	return config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		TwilioCallbackBaseURL:    "https://calls.example.test",
		TwilioPhoneNumber:        "+15550000000",
		TwilioVoice:              "alice",
		TwilioGreeting:           "Hi, how can I help?",
		CRMRedactPII:             true,
	}
}

func newTestEnv(t *testing.T, cfg config.Config, calls CallPlacer, crmClient CRM) *testEnv {
	t.Helper()
	metrics := observability.NewMetrics(fmt.Sprintf("test_httpapi_%d", time.Now().UnixNano()))
	sessions := session.NewRegistry(session.Config{SilenceTimeout: cfg.SilenceTimeout}, nil, metrics)
	store := transcript.NewInMemoryStore()
	srv := New(cfg, sessions, metrics, calls, crmClient, store)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{srv: srv, ts: ts, sessions: sessions, transcripts: store}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func postForm(t *testing.T, target string, form url.Values) *http.Response {
	t.Helper()
	res, err := http.PostForm(target, form)
	if err != nil {
		t.Fatalf("POST %s error = %v", target, err)
	}
	t.Cleanup(func() { res.Body.Close() })
	return res
}

func TestHealthAndReady(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	for _, path := range []string{"/healthz", "/readyz", "/v1/perf/latency", "/v1/sessions"} {
		res, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s error = %v", path, err)
		}
		res.Body.Close()
		if res.StatusCode != http.StatusOK {
			t.Fatalf("GET %s status = %d, want 200", path, res.StatusCode)
		}
	}

	res, err := http.Get(env.ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["twilio_configured"] != false || body["crm_configured"] != false {
		t.Fatalf("health = %+v, want integrations reported unconfigured", body)
	}
}

func TestMediaStreamLifecycle(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/twilio/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	waitFor(t, "session open", func() bool { return env.sessions.ActiveCount() == 1 })

	send := func(v any) {
		t.Helper()
		if err := conn.WriteJSON(v); err != nil {
			t.Fatalf("WriteJSON() error = %v", err)
		}
	}
	send(map[string]any{"event": "connected", "protocol": "Call", "version": "1.0.0"})
	send(map[string]any{
		"event":     "start",
		"streamSid": "MZ1",
		"start":     map[string]any{"callSid": "CA1", "streamSid": "MZ1"},
	})

	var sess *session.Session
	waitFor(t, "session bound to call", func() bool {
		sess, err = env.sessions.FindByCall("CA1")
		return err == nil
	})
	info := sess.Info()
	if info.StreamSID != "MZ1" {
		t.Fatalf("StreamSID = %q, want MZ1", info.StreamSID)
	}
	if info.ResumeURL != "wss://calls.example.test/twilio/media-stream" {
		t.Fatalf("ResumeURL = %q", info.ResumeURL)
	}

	frame := make([]byte, 160)
	for i := range frame {
		frame[i] = 0x10
		if i%2 == 1 {
			frame[i] = 0xF0
		}
	}
	payload := base64.StdEncoding.EncodeToString(frame)
	for i := 0; i < 5; i++ {
		send(map[string]any{"event": "media", "streamSid": "MZ1", "media": map[string]any{"payload": payload}})
	}
	waitFor(t, "frames buffered", func() bool { return sess.Info().BufferedBytes == 5*len(frame) })

	send(map[string]any{"event": "stop", "streamSid": "MZ1", "stop": map[string]any{"callSid": "CA1"}})
	waitFor(t, "session closed", func() bool { return env.sessions.ActiveCount() == 0 })
}

func TestMediaStreamDisconnectClosesSession(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/twilio/media-stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	waitFor(t, "session open", func() bool { return env.sessions.ActiveCount() == 1 })
	conn.Close()
	waitFor(t, "session closed", func() bool { return env.sessions.ActiveCount() == 0 })
}

func TestMediaStreamRejectsForeignOrigin(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	wsURL := "ws" + strings.TrimPrefix(env.ts.URL, "http") + "/twilio/media-stream"
	header := http.Header{"Origin": []string{"https://evil.example.test"}}
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, header); err == nil {
		t.Fatalf("Dial() with foreign origin succeeded, want rejection")
	}
	if n := env.sessions.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount() = %d, want 0", n)
	}
}

func TestVoiceWebhookReturnsGreetingTwiML(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	res := postForm(t, env.ts.URL+"/twilio/voice?message="+url.QueryEscape("Hello there"), url.Values{"CallSid": {"CA9"}})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/xml") {
		t.Fatalf("Content-Type = %q, want text/xml", ct)
	}
	raw, _ := io.ReadAll(res.Body)
	body := string(raw)
	if !strings.Contains(body, `<Stream url="wss://calls.example.test/twilio/media-stream">`) {
		t.Fatalf("twiml missing stream: %s", body)
	}
	if !strings.Contains(body, `<Say voice="alice">Hello there</Say>`) {
		t.Fatalf("twiml missing outbound message: %s", body)
	}

	entries, err := env.transcripts.EntriesByCall(context.Background(), "CA9")
	if err != nil {
		t.Fatalf("EntriesByCall() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Speaker != transcript.SpeakerAI || entries[0].Text != "Hello there" {
		t.Fatalf("entries = %+v, want the greeting recorded as AI", entries)
	}
}

func TestVoiceWebhookUsesConfiguredGreeting(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	res := postForm(t, env.ts.URL+"/twilio/voice", url.Values{"CallSid": {"CA10"}})
	raw, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(raw), "Hi, how can I help?") {
		t.Fatalf("twiml = %s, want configured greeting", raw)
	}
}

func TestMediaStreamURLRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	res, err := http.Get(env.ts.URL + "/twilio/media-stream-url")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	var body map[string]string
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["url"] != "wss://calls.example.test/twilio/media-stream" {
		t.Fatalf("url = %q", body["url"])
	}
}

func TestOutboundCallRequiresTwilio(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	res, err := http.Post(env.ts.URL+"/twilio/outbound/call", "application/json", strings.NewReader(`{"to_number":"+15551234567"}`))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", res.StatusCode)
	}
}

func TestOutboundCallByContactLogsTask(t *testing.T) {
	calls := &fakeCalls{}
	crmClient := &fakeCRM{contacts: map[string]crm.Contact{
		"003A": {ID: "003A", FirstName: "Ada", LastName: "Lovelace", MobilePhone: "+15557654321"},
	}}
	env := newTestEnv(t, testConfig(), calls, crmClient)

	reqBody := `{"contact_id":"003A","account_id":"001B"}`
	res, err := http.Post(env.ts.URL+"/twilio/outbound/call", "application/json", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want 201", res.StatusCode)
	}
	var out outboundCallResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.CallSID != "CA001" || out.To != "+15557654321" || out.From != "+15550000000" {
		t.Fatalf("response = %+v", out)
	}

	created := calls.snapshot()
	if len(created) != 1 {
		t.Fatalf("created calls = %d, want 1", len(created))
	}
	p := created[0]
	wantURL := "https://calls.example.test/twilio/voice?message=" + url.QueryEscape("This is an automated call for Ada Lovelace.")
	if p.URL != wantURL {
		t.Fatalf("URL = %q, want %q", p.URL, wantURL)
	}
	if p.StatusCallback != "https://calls.example.test/twilio/status" || len(p.StatusCallbackEvents) != 4 {
		t.Fatalf("status callback = %q %v", p.StatusCallback, p.StatusCallbackEvents)
	}

	postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {"CA001"}, "CallStatus": {"completed"}})
	env.srv.Wait()

	tasks := crmClient.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].ContactID != "003A" || tasks[0].AccountID != "001B" || tasks[0].Status != "completed" {
		t.Fatalf("task = %+v", tasks[0])
	}
}

func TestStatusCallbackLogsTerminalCallOnce(t *testing.T) {
	crmClient := &fakeCRM{}
	env := newTestEnv(t, testConfig(), nil, crmClient)
	env.srv.directory.remember("CA5", callContext{ContactID: "003A"})

	ctx := context.Background()
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = env.transcripts.Append(ctx, transcript.Entry{CallSID: "CA5", Speaker: transcript.SpeakerAI, Text: "Hello!", CreatedAt: base})
	_ = env.transcripts.Append(ctx, transcript.Entry{CallSID: "CA5", Speaker: transcript.SpeakerUser, Text: "mail me at ada@example.com", CreatedAt: base.Add(time.Second)})

	res := postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {"CA5"}, "CallStatus": {"ringing"}})
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", res.StatusCode)
	}
	env.srv.Wait()
	if n := len(crmClient.snapshot()); n != 0 {
		t.Fatalf("tasks after ringing = %d, want 0", n)
	}

	postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {"CA5"}, "CallStatus": {"completed"}})
	postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {"CA5"}, "CallStatus": {"completed"}})
	env.srv.Wait()

	tasks := crmClient.snapshot()
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want exactly 1", len(tasks))
	}
	desc := tasks[0].Description
	if !strings.Contains(desc, "AI: Hello!") || !strings.Contains(desc, "[REDACTED_EMAIL]") {
		t.Fatalf("description = %q", desc)
	}
	if strings.Contains(desc, "ada@example.com") {
		t.Fatalf("description leaked email: %q", desc)
	}
}

func TestStatusCallbackSkipsInboundCalls(t *testing.T) {
	crmClient := &fakeCRM{}
	env := newTestEnv(t, testConfig(), nil, crmClient)

	for i := 0; i < 50; i++ {
		sid := fmt.Sprintf("CAIN%03d", i)
		postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {sid}, "CallStatus": {"completed"}})
	}
	env.srv.Wait()

	if n := len(crmClient.snapshot()); n != 0 {
		t.Fatalf("tasks = %d, want none for calls this service did not place", n)
	}
	if n := env.srv.directory.size(); n != 0 {
		t.Fatalf("directory size = %d, want 0 after inbound-only traffic", n)
	}
}

func TestStatusCallbackRejectsMissingFields(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)

	res := postForm(t, env.ts.URL+"/twilio/status", url.Values{"CallSid": {"CA5"}})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", res.StatusCode)
	}
}

func TestCallStatusRoute(t *testing.T) {
	calls := &fakeCalls{fetch: func(callSID string) (twilio.Call, error) {
		if callSID == "CA404" {
			return twilio.Call{}, &twilio.APIError{Status: http.StatusNotFound, Code: 20404, Message: "not found"}
		}
		return twilio.Call{SID: callSID, Status: "in-progress"}, nil
	}}
	env := newTestEnv(t, testConfig(), calls, nil)

	res, err := http.Get(env.ts.URL + "/twilio/call/CA7/status")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	var call twilio.Call
	if err := json.NewDecoder(res.Body).Decode(&call); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if call.SID != "CA7" || call.Status != "in-progress" {
		t.Fatalf("call = %+v", call)
	}

	missing, err := http.Get(env.ts.URL + "/twilio/call/CA404/status")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.StatusCode)
	}
}

func TestTranscriptRoute(t *testing.T) {
	env := newTestEnv(t, testConfig(), nil, nil)
	base := time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)
	_ = env.transcripts.Append(context.Background(), transcript.Entry{CallSID: "CA3", Speaker: transcript.SpeakerUser, Text: "hi", CreatedAt: base})

	res, err := http.Get(env.ts.URL + "/v1/calls/CA3/transcript")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	defer res.Body.Close()
	var body struct {
		CallSID   string             `json:"call_sid"`
		Entries   []transcript.Entry `json:"entries"`
		Formatted string             `json:"formatted"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.CallSID != "CA3" || len(body.Entries) != 1 {
		t.Fatalf("body = %+v", body)
	}
	if body.Formatted != "[09:30:00] USER: hi" {
		t.Fatalf("formatted = %q", body.Formatted)
	}
}
