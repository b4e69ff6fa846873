package twilio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/antoniostano/voicecall/internal/reliability"
)

const DefaultAPIBaseURL = "https://api.twilio.com"

// ErrMissingCredentials is returned by every REST call when the account sid
// or auth token is not configured.
var ErrMissingCredentials = errors.New("twilio: account sid and auth token are required")

// APIError is a non-2xx Twilio REST response.
type APIError struct {
	Status  int    `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("twilio api status %d code %d: %s", e.Status, e.Code, e.Message)
}

// Call is the subset of the Twilio call resource the service reads.
type Call struct {
	SID       string `json:"sid"`
	Status    string `json:"status"`
	To        string `json:"to"`
	From      string `json:"from"`
	Direction string `json:"direction"`
	Duration  string `json:"duration"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

// CreateCallParams places an outbound call.
type CreateCallParams struct {
	To                   string
	From                 string
	URL                  string
	StatusCallback       string
	StatusCallbackEvents []string
}

// Client is a minimal Twilio Voice REST client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	http       *http.Client
	attempts   int
}

func NewClient(accountSID, authToken, baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultAPIBaseURL
	}
	return &Client{
		accountSID: strings.TrimSpace(accountSID),
		authToken:  strings.TrimSpace(authToken),
		baseURL:    baseURL,
		http:       &http.Client{Timeout: 15 * time.Second},
		attempts:   3,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c != nil && c.accountSID != "" && c.authToken != ""
}

// UpdateCallTwiML replaces the live call's instructions with twiml.
func (c *Client) UpdateCallTwiML(ctx context.Context, callSID, twiml string) error {
	form := url.Values{"Twiml": {twiml}}
	return c.do(ctx, http.MethodPost, c.callPath(callSID), form, nil)
}

func (c *Client) CreateCall(ctx context.Context, p CreateCallParams) (Call, error) {
	form := url.Values{
		"To":   {p.To},
		"From": {p.From},
		"Url":  {p.URL},
	}
	if p.StatusCallback != "" {
		form.Set("StatusCallback", p.StatusCallback)
		form.Set("StatusCallbackMethod", http.MethodPost)
		for _, ev := range p.StatusCallbackEvents {
			form.Add("StatusCallbackEvent", ev)
		}
	}
	var call Call
	err := c.do(ctx, http.MethodPost, c.accountPath()+"/Calls.json", form, &call)
	return call, err
}

func (c *Client) FetchCall(ctx context.Context, callSID string) (Call, error) {
	var call Call
	err := c.do(ctx, http.MethodGet, c.callPath(callSID), nil, &call)
	return call, err
}

func (c *Client) accountPath() string {
	return "/2010-04-01/Accounts/" + url.PathEscape(c.accountSID)
}

func (c *Client) callPath(callSID string) string {
	return c.accountPath() + "/Calls/" + url.PathEscape(callSID) + ".json"
}

func (c *Client) do(ctx context.Context, method, path string, form url.Values, out any) error {
	if !c.Configured() {
		return ErrMissingCredentials
	}
	return reliability.Retry(ctx, c.attempts, 250*time.Millisecond, 2*time.Second, func(ctx context.Context) (bool, error) {
		var body io.Reader
		if form != nil {
			body = strings.NewReader(form.Encode())
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}
		req.SetBasicAuth(c.accountSID, c.authToken)
		req.Header.Set("Accept", "application/json")
		if form != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

		res, err := c.http.Do(req)
		if err != nil {
			return reliability.IsRetryableError(err), fmt.Errorf("send request: %w", err)
		}
		defer res.Body.Close()

		raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
		if err != nil {
			return true, fmt.Errorf("read response: %w", err)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			apiErr := &APIError{Status: res.StatusCode}
			if json.Unmarshal(raw, apiErr) != nil || apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(string(raw))
			}
			apiErr.Status = res.StatusCode
			return reliability.IsRetryableHTTPStatus(res.StatusCode), apiErr
		}
		if out != nil {
			if err := json.Unmarshal(raw, out); err != nil {
				return false, fmt.Errorf("decode response: %w", err)
			}
		}
		return false, nil
	})
}
