package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/askdb/askdb/internal/apperr"
)

func TestOpenAIChat(t *testing.T) {
	var got struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		MaxTokens   int     `json:"max_tokens"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("authorization = %q", r.Header.Get("Authorization"))
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"SELECT COUNT(*) FROM sales"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer srv.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	text, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "rules"},
		{Role: RoleUser, Content: "how many sales"},
	}, Options{Model: "gpt-4o-mini", Temperature: 0.5, MaxTokens: 256})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if text != "SELECT COUNT(*) FROM sales" {
		t.Fatalf("text = %q", text)
	}
	if got.Model != "gpt-4o-mini" || got.MaxTokens != 256 || got.Temperature != 0.5 {
		t.Fatalf("request = %+v", got)
	}
	if len(got.Messages) != 2 || got.Messages[0].Role != "system" || got.Messages[1].Content != "how many sales" {
		t.Fatalf("messages = %+v", got.Messages)
	}
}

func TestOpenAIAPIErrorIsModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	defer srv.Close()

	_, err := NewOpenAI(OpenAIConfig{APIKey: "bad", BaseURL: srv.URL}).Chat(context.Background(),
		[]Message{{Role: RoleUser, Content: "hi"}}, Options{Model: "m"})
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindModel || appErr.Code != "LLM_API_ERROR" {
		t.Fatalf("Chat() error = %v", err)
	}
	if appErr.Message != "upstream status 401: Incorrect API key provided" {
		t.Fatalf("Message = %q", appErr.Message)
	}
}

func TestOpenAIMissingKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{}).Chat(context.Background(), nil, Options{})
	if appErr, ok := apperr.As(err); !ok || appErr.Code != "OPENAI_API_KEY_MISSING" {
		t.Fatalf("Chat() error = %v", err)
	}
}
