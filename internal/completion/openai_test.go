package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestOpenAIClient_Complete_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["model"] != "gpt-4o-mini" {
			t.Errorf("expected model gpt-4o-mini, got %v", body["model"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "finish_reason": "stop",
				"message": {"role": "assistant", "content": "{\"is_correct\": false}"}}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL + "/v1/", APIKey: "test", Timeout: time.Second})
	text, err := c.Complete(context.Background(), "gpt-4o-mini", "prompt", Options{Temperature: 0.1, MaxTokens: 64})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != `{"is_correct": false}` {
		t.Errorf("unexpected text %q", text)
	}
}

func TestOpenAIClient_Complete_APIError(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAIClient(OpenAIConfig{BaseURL: server.URL + "/v1/", APIKey: "test", Timeout: time.Second})
	_, err := c.Complete(context.Background(), "gpt-4o-mini", "prompt", Options{})

	var be *BackendError
	if !errors.As(err, &be) {
		t.Fatalf("expected BackendError, got %T: %v", err, err)
	}
	if be.Status != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", be.Status)
	}
	if calls != 1 {
		t.Errorf("expected a single attempt, got %d", calls)
	}
}
