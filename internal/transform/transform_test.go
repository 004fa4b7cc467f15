package transform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

func TestRegistryDefaultsAndOverrides(t *testing.T) {
	t.Parallel()

	r := NewRegistry(map[string]Model{
		"fast":  {Provider: "openai", Name: "gpt-4.1", MaxTokens: 2000},
		"local": {Provider: "ollama", Name: "llama3", MaxTokens: 1000},
	})

	m, err := r.Lookup("")
	require.NoError(t, err)
	assert.Equal(t, "anthropic/claude-3-5-sonnet-20241022", m.ID())
	assert.Equal(t, 8000, m.MaxTokens)

	m, err = r.Lookup("fast")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1", m.Name)

	_, err = r.Lookup("turbo")
	require.ErrorIs(t, err, ErrUnknownModel)
	assert.Equal(t, []string{"agentic", "economic", "fast", "local", "precise"}, r.Keys())
}

func TestClean(t *testing.T) {
	t.Parallel()

	full := "<!DOCTYPE html><html><body>x</body></html>"
	assert.Equal(t, full, Clean("```html\n"+full+"\n```"))
	assert.Equal(t, full, Clean("```\n"+full+"```"))
	assert.Equal(t, "<html><body>y</body></html>", Clean("  <html><body>y</body></html>  "))

	wrapped := Clean("<div>fragment</div>")
	assert.True(t, strings.HasPrefix(wrapped, "<!DOCTYPE html>"))
	assert.Contains(t, wrapped, "<body>\n<div>fragment</div>\n</body>")
}

func TestPassthroughReturnsCapturedMarkup(t *testing.T) {
	t.Parallel()

	page := cloner.CapturedPage{URL: "https://example.com", HTML: "<html><head><style>p{}</style></head></html>"}
	out, err := NewPassthrough(nil).Transform(context.Background(), Input{Page: page, Model: "fast"}, nil)
	require.NoError(t, err)
	assert.Equal(t, page.HTML, out.HTML)
	assert.Equal(t, "p{}", out.CSS)
	assert.Equal(t, "openai/gpt-4o", out.ModelUsed)

	_, err = NewPassthrough(nil).Transform(context.Background(), Input{Page: page, Model: "nope"}, nil)
	require.ErrorIs(t, err, ErrUnknownModel)
}

func TestOpenAIStreamsChunks(t *testing.T) {
	t.Parallel()

	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"```html\n", "<!DOCTYPE html><html>", "<body>clone</body></html>", "\n```"} {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": part}}},
			})
			_, _ = fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		_, _ = fmt.Fprint(w, ": keep-alive\n\ndata: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL + "/v1/", APIKey: "sk-test"}, nil, nil)
	require.NoError(t, err)

	var chunks []string
	page := cloner.CapturedPage{URL: "https://example.com", HTML: "<p>orig</p>", Screenshot: []byte{0x89, 'P', 'N', 'G'}}
	out, err := client.Transform(context.Background(), Input{Page: page, Model: "economic"}, func(s string) {
		chunks = append(chunks, s)
	})
	require.NoError(t, err)

	assert.Equal(t, "<!DOCTYPE html><html><body>clone</body></html>", out.HTML)
	assert.Equal(t, "openai/gpt-4o-mini", out.ModelUsed)
	assert.Len(t, chunks, 4)
	assert.Contains(t, out.Reasoning, "gpt-4o-mini")

	assert.Equal(t, "gpt-4o-mini", got.Model)
	assert.True(t, got.Stream)
	assert.Equal(t, 4000, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	parts, ok := got.Messages[1].Content.([]any)
	require.True(t, ok)
	assert.Len(t, parts, 2)
}

func TestOpenAIErrorStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"auth"}}`))
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "bad"}, nil, nil)
	require.NoError(t, err)
	_, err = client.Transform(context.Background(), Input{Page: cloner.CapturedPage{URL: "https://x.com"}}, nil)
	require.EqualError(t, err, "completion api returned 401: invalid api key")
}

func TestOpenAIEmptyStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	t.Cleanup(srv.Close)

	client, err := NewOpenAI(OpenAIConfig{BaseURL: srv.URL, APIKey: "k"}, nil, nil)
	require.NoError(t, err)
	_, err = client.Transform(context.Background(), Input{Page: cloner.CapturedPage{URL: "https://x.com"}}, nil)
	require.Error(t, err)
}

func TestNewOpenAIRequiresKey(t *testing.T) {
	t.Parallel()

	_, err := NewOpenAI(OpenAIConfig{}, nil, nil)
	require.ErrorIs(t, err, ErrNoAPIKey)
}

func TestReadStreamRejectsMalformedChunk(t *testing.T) {
	t.Parallel()

	text, err := readStream(strings.NewReader("data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\ndata: {oops\n"), nil)
	require.Error(t, err)
	require.Equal(t, "a", text)
}
