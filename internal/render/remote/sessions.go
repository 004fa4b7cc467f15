package remote

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
	"time"
)

// DefaultBaseURL is the browser-farm API root used when none is configured.
const DefaultBaseURL = "https://app.hyperbrowser.ai/api"

// ErrNoCredential is returned when the session API key is missing.
var ErrNoCredential = errors.New("remote rendering api key is not configured")

// Session is a live, billable remote browser.
type Session struct {
	ID         string `json:"id"`
	WSEndpoint string `json:"wsEndpoint"`
}

// SessionClient opens and stops remote browser sessions.
type SessionClient interface {
	Create(ctx context.Context) (Session, error)
	Stop(ctx context.Context, id string) error
}

// HTTPConfig configures the REST session client.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// HTTPSessions talks to the browser-farm REST API.
type HTTPSessions struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

type apiError struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

// NewHTTPSessions validates cfg and returns a REST session client.
func NewHTTPSessions(cfg HTTPConfig, httpClient *http.Client) (*HTTPSessions, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoCredential
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse remote base url: %w", err)
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &HTTPSessions{baseURL: base, apiKey: cfg.APIKey, httpClient: httpClient}, nil
}

// Create opens a new session and returns its id and CDP websocket endpoint.
// A response carrying an id but no endpoint is returned alongside the error
// so the caller can still stop the session.
func (c *HTTPSessions) Create(ctx context.Context) (Session, error) {
	body, err := c.do(ctx, http.MethodPost, "/session", []byte("{}"))
	if err != nil {
		return Session{}, fmt.Errorf("create session: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(body, &sess); err != nil {
		return Session{}, fmt.Errorf("decode session: %w", err)
	}
	if sess.ID == "" {
		return Session{}, fmt.Errorf("create session: response missing id")
	}
	if sess.WSEndpoint == "" {
		return Session{ID: sess.ID}, fmt.Errorf("create session %s: response missing wsEndpoint", sess.ID)
	}
	return sess, nil
}

// Stop ends the session identified by id.
func (c *HTTPSessions) Stop(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("stop session: id is required")
	}
	if _, err := c.do(ctx, http.MethodPut, "/session/"+url.PathEscape(id)+"/stop", nil); err != nil {
		return fmt.Errorf("stop session %s: %w", id, err)
	}
	return nil
}

func (c *HTTPSessions) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("x-api-key", c.apiKey)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck // read-only body

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, classifyAPIError(resp.StatusCode, body)
	}
	return body, nil
}

func classifyAPIError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Message != "":
			msg = apiErr.Message
		case apiErr.Error != "":
			msg = apiErr.Error
		}
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return fmt.Errorf("remote api returned %d: %s", status, msg)
}
