package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/oauth2/jwt"

	"github.com/antoniostano/voicecall/internal/reliability"
)

const (
	DefaultLoginURL   = "https://login.salesforce.com"
	DefaultAPIVersion = "v58.0"
	contactFields     = "Id,FirstName,LastName,Email,Phone,MobilePhone,Title,Department,Description"
)

// ErrNotConfigured is returned when no usable credentials were supplied.
var ErrNotConfigured = errors.New("crm: salesforce client id and secret or private key are required")

// Config configures SalesforceClient. With PrivateKey and Username set the
// JWT bearer flow is used, otherwise client credentials.
type Config struct {
	LoginURL     string
	ClientID     string
	ClientSecret string
	Username     string
	PrivateKey   []byte
	InstanceURL  string
	APIVersion   string
	HTTPClient   *http.Client
}

// APIError is a non-2xx Salesforce REST response.
type APIError struct {
	Status    int
	ErrorCode string
	Message   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("salesforce api status %d %s: %s", e.Status, e.ErrorCode, e.Message)
}

// SalesforceClient logs call activity to Salesforce.
type SalesforceClient struct {
	base        oauth2.TokenSource
	instanceURL string
	apiVersion  string
	http        *http.Client

	mu     sync.Mutex
	tokens oauth2.TokenSource
	now    func() time.Time
}

func NewSalesforceClient(ctx context.Context, cfg Config) (*SalesforceClient, error) {
	loginURL := strings.TrimRight(strings.TrimSpace(cfg.LoginURL), "/")
	if loginURL == "" {
		loginURL = DefaultLoginURL
	}
	apiVersion := strings.TrimSpace(cfg.APIVersion)
	if apiVersion == "" {
		apiVersion = DefaultAPIVersion
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 20 * time.Second}
	}
	// The token source keeps ctx for every refresh.
	tokenCtx := context.WithValue(context.WithoutCancel(ctx), oauth2.HTTPClient, httpClient)
	tokenURL := loginURL + "/services/oauth2/token"

	var base oauth2.TokenSource
	switch {
	case cfg.ClientID == "":
		return nil, ErrNotConfigured
	case len(cfg.PrivateKey) > 0 && cfg.Username != "":
		jc := &jwt.Config{
			Email:      cfg.ClientID,
			Subject:    cfg.Username,
			PrivateKey: cfg.PrivateKey,
			TokenURL:   tokenURL,
			Audience:   loginURL,
			Expires:    3 * time.Minute,
		}
		base = jc.TokenSource(tokenCtx)
	case cfg.ClientSecret != "":
		cc := &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     tokenURL,
		}
		base = cc.TokenSource(tokenCtx)
	default:
		return nil, ErrNotConfigured
	}

	return &SalesforceClient{
		base:        base,
		tokens:      oauth2.ReuseTokenSource(nil, base),
		instanceURL: strings.TrimRight(strings.TrimSpace(cfg.InstanceURL), "/"),
		apiVersion:  apiVersion,
		http:        httpClient,
		now:         time.Now,
	}, nil
}

// CreateCallTask creates a Task for the finished call and returns its id.
func (c *SalesforceClient) CreateCallTask(ctx context.Context, task CallTask) (string, error) {
	id, err := c.insert(ctx, "Task", task.fields())
	if err != nil {
		return "", fmt.Errorf("create task: %w", err)
	}
	return id, nil
}

func (c *SalesforceClient) GetContact(ctx context.Context, contactID string) (Contact, error) {
	if !validRecordID(contactID) {
		return Contact{}, fmt.Errorf("get contact %q: %w", contactID, ErrInvalidRecord)
	}
	var contact Contact
	path := "sobjects/Contact/" + url.PathEscape(contactID) + "?fields=" + contactFields
	if err := c.do(ctx, http.MethodGet, path, nil, &contact); err != nil {
		return Contact{}, fmt.Errorf("get contact %s: %w", contactID, err)
	}
	return contact, nil
}

// insert creates one sObject and returns the id Salesforce assigned.
func (c *SalesforceClient) insert(ctx context.Context, sobject string, record any) (string, error) {
	var out struct {
		ID      string `json:"id"`
		Success bool   `json:"success"`
	}
	if err := c.do(ctx, http.MethodPost, "sobjects/"+sobject+"/", record, &out); err != nil {
		return "", err
	}
	if !out.Success || out.ID == "" {
		return "", fmt.Errorf("salesforce did not confirm the %s insert", sobject)
	}
	return out.ID, nil
}

func (c *SalesforceClient) token() (*oauth2.Token, error) {
	c.mu.Lock()
	ts := c.tokens
	c.mu.Unlock()
	tok, err := ts.Token()
	if err != nil {
		return nil, fmt.Errorf("salesforce token: %w", err)
	}
	return tok, nil
}

// invalidate drops the cached token so the next call fetches a fresh one.
func (c *SalesforceClient) invalidate() {
	c.mu.Lock()
	c.tokens = oauth2.ReuseTokenSource(nil, c.base)
	c.mu.Unlock()
}

func (c *SalesforceClient) instance(tok *oauth2.Token) (string, error) {
	if c.instanceURL != "" {
		return c.instanceURL, nil
	}
	if v, ok := tok.Extra("instance_url").(string); ok && v != "" {
		return strings.TrimRight(v, "/"), nil
	}
	return "", fmt.Errorf("salesforce instance url unknown")
}

func (c *SalesforceClient) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	refreshed := false
	return reliability.Retry(ctx, 3, 300*time.Millisecond, 2*time.Second, func(ctx context.Context) (bool, error) {
		tok, err := c.token()
		if err != nil {
			return false, err
		}
		base, err := c.instance(tok)
		if err != nil {
			return false, err
		}
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, base+"/services/data/"+c.apiVersion+"/"+path, body)
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}
		tok.SetAuthHeader(req)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
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

		if res.StatusCode == http.StatusUnauthorized && !refreshed {
			refreshed = true
			c.invalidate()
			return true, decodeAPIError(res.StatusCode, raw)
		}
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return reliability.IsRetryableHTTPStatus(res.StatusCode), decodeAPIError(res.StatusCode, raw)
		}
		if out != nil && len(raw) > 0 {
			if err := json.Unmarshal(raw, out); err != nil {
				return false, fmt.Errorf("decode response: %w", err)
			}
		}
		return false, nil
	})
}

func decodeAPIError(status int, raw []byte) error {
	apiErr := &APIError{Status: status, Message: strings.TrimSpace(string(raw))}
	var items []struct {
		Message   string `json:"message"`
		ErrorCode string `json:"errorCode"`
	}
	if json.Unmarshal(raw, &items) == nil && len(items) > 0 {
		apiErr.Message = items[0].Message
		apiErr.ErrorCode = items[0].ErrorCode
	}
	return apiErr
}
