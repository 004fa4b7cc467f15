package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/site-cloner/internal/cloner"
)

func TestNewHTTPSessionsRequiresCredential(t *testing.T) {
	t.Parallel()

	_, err := NewHTTPSessions(HTTPConfig{}, nil)
	require.ErrorIs(t, err, ErrNoCredential)
}

func TestHTTPSessionsCreateAndStop(t *testing.T) {
	t.Parallel()

	var stopped string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "secret", r.Header.Get("x-api-key"))
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/session":
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc", "wsEndpoint": "wss://farm/abc"})
		case r.Method == http.MethodPut && r.URL.Path == "/api/session/abc/stop":
			stopped = "abc"
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewHTTPSessions(HTTPConfig{BaseURL: srv.URL + "/api/", APIKey: "secret"}, srv.Client())
	require.NoError(t, err)

	sess, err := client.Create(context.Background())
	require.NoError(t, err)
	require.Equal(t, Session{ID: "abc", WSEndpoint: "wss://farm/abc"}, sess)

	require.NoError(t, client.Stop(context.Background(), sess.ID))
	require.Equal(t, "abc", stopped)
}

func TestHTTPSessionsSurfacesAPIErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"invalid api key"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPSessions(HTTPConfig{BaseURL: srv.URL, APIKey: "bad"}, srv.Client())
	require.NoError(t, err)

	_, err = client.Create(context.Background())
	require.ErrorContains(t, err, "401")
	require.ErrorContains(t, err, "invalid api key")
	require.Error(t, client.Stop(context.Background(), ""))
}

func TestHTTPSessionsCreateReturnsIDWithoutEndpoint(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"sess-1"}`))
	}))
	defer srv.Close()

	client, err := NewHTTPSessions(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"}, srv.Client())
	require.NoError(t, err)

	sess, err := client.Create(context.Background())
	require.ErrorContains(t, err, "missing wsEndpoint")
	require.Equal(t, Session{ID: "sess-1"}, sess)
}

func TestRenderStopsSessionCreatedWithoutEndpoint(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var stops []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/session":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"id":"sess-1"}`))
		case r.Method == http.MethodPut && r.URL.Path == "/session/sess-1/stop":
			mu.Lock()
			stops = append(stops, "sess-1")
			mu.Unlock()
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client, err := NewHTTPSessions(HTTPConfig{BaseURL: srv.URL, APIKey: "secret"}, srv.Client())
	require.NoError(t, err)
	r, err := New(client, func(context.Context, string, string) (cloner.CapturedPage, error) {
		t.Fatal("driver must not run without an endpoint")
		return cloner.CapturedPage{}, nil
	}, Config{})
	require.NoError(t, err)

	res := r.Render(context.Background(), "https://example.com")
	require.Equal(t, cloner.OutcomeFailed, res.Outcome)
	require.ErrorContains(t, res.Err, "missing wsEndpoint")

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"sess-1"}, stops)
}
