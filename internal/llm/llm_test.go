package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replydesk/replydesk/internal/logging"
)

func TestCompleteAgainstCompatibleServer(t *testing.T) {
	logging.Disable()
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" 在的亲 "}}]}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	out, err := c.Complete(context.Background(), CompletionRequest{
		Connection:  Connection{BaseURL: srv.URL + "/v1", APIKey: "sk-test", Model: "m"},
		Temperature: 0.7,
		Messages:    []Message{{Role: "system", Content: "客服"}, {Role: "user", Content: "你好"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "在的亲", out)
	assert.Equal(t, "m", got["model"])
	assert.Len(t, got["messages"], 2)
}

func TestCompleteNotConfigured(t *testing.T) {
	_, err := NewClient(time.Second).Complete(context.Background(), CompletionRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer good" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":{"message":"bad key"}}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"object":"list","data":[{"id":"m","object":"model","created":1,"owned_by":"x"}]}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	assert.NoError(t, c.Probe(context.Background(), Connection{BaseURL: srv.URL, APIKey: "good"}))
	assert.Error(t, c.Probe(context.Background(), Connection{BaseURL: srv.URL, APIKey: "bad"}))
	assert.ErrorIs(t, c.Probe(context.Background(), Connection{BaseURL: srv.URL}), ErrNotConfigured)
}

func TestProbeDify(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/parameters" || r.Header.Get("Authorization") != "Bearer app-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(5 * time.Second)
	assert.NoError(t, c.ProbeDify(context.Background(), Connection{BaseURL: srv.URL + "/v1/", APIKey: "app-1"}))
	assert.Error(t, c.ProbeDify(context.Background(), Connection{BaseURL: srv.URL + "/v1", APIKey: "nope"}))
}
