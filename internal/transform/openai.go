package transform

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the public OpenAI API.
const DefaultBaseURL = "https://api.openai.com/v1"

// ErrNoAPIKey is returned when the client is built without a key.
var ErrNoAPIKey = errors.New("transform api key is required")

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// OpenAI is a streaming OpenAI-compatible chat-completions client.
type OpenAI struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	registry   *Registry
	logger     *zap.Logger
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// NewOpenAI builds the client. Pass a nil httpClient to use a default one.
func NewOpenAI(cfg OpenAIConfig, registry *Registry, httpClient *http.Client) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	if registry == nil {
		registry = NewRegistry(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &OpenAI{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     cfg.APIKey,
		registry:   registry,
		logger:     logger,
	}, nil
}

// Transform streams a completion for in.Page, forwarding each content delta
// to onChunk, and returns the cleaned document.
func (c *OpenAI) Transform(ctx context.Context, in Input, onChunk func(string)) (Output, error) {
	start := time.Now()
	model, err := c.registry.Lookup(in.Model)
	if err != nil {
		return Output{}, err
	}

	body, err := json.Marshal(chatRequest{
		Model:       model.Name,
		Messages:    buildMessages(in.Page),
		MaxTokens:   model.MaxTokens,
		Temperature: 0,
		Stream:      true,
	})
	if err != nil {
		return Output{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Output{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Output{}, fmt.Errorf("completion request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("close completion body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return Output{}, classifyAPIError(resp.StatusCode, raw)
	}

	text, err := readStream(resp.Body, onChunk)
	if err != nil {
		return Output{}, err
	}
	if strings.TrimSpace(text) == "" {
		return Output{}, errors.New("model returned no content")
	}

	htmlOut := Clean(text)
	c.logger.Debug("transform complete",
		zap.String("url", in.Page.URL),
		zap.String("model", model.ID()),
		zap.Int("chars", len(htmlOut)),
	)
	return Output{
		HTML: htmlOut,
		CSS:  inlineCSS(htmlOut),
		Reasoning: fmt.Sprintf("Single-shot cloning:\n- Provider: %s\n- Model: %s\n- Generated %d characters of HTML",
			model.Provider, model.Name, len(htmlOut)),
		ModelUsed: model.ID(),
		Duration:  time.Since(start),
	}, nil
}

// readStream consumes server-sent events until [DONE] or EOF and returns
// the concatenated deltas.
func readStream(r io.Reader, onChunk func(string)) (string, error) {
	var out strings.Builder
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return out.String(), fmt.Errorf("decode stream chunk: %w", err)
		}
		for _, choice := range chunk.Choices {
			if delta := choice.Delta.Content; delta != "" {
				out.WriteString(delta)
				if onChunk != nil {
					onChunk(delta)
				}
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return out.String(), fmt.Errorf("read stream: %w", err)
	}
	return out.String(), nil
}

func classifyAPIError(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	var errResp chatErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		msg = errResp.Error.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return fmt.Errorf("completion api returned %d: %s", status, msg)
}
