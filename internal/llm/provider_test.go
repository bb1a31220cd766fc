package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/webharvest/webharvest-mcp/internal/errs"
)

func TestNewDispatch(t *testing.T) {
	p, err := New("", "", "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p != nil {
		t.Error("empty provider name should return nil provider")
	}

	p, err = New("anthropic", "test-key", "", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("Expected name 'anthropic', got '%s'", p.Name())
	}

	if _, err := New("anthropic", "", "", ""); err == nil {
		t.Error("Expected error for anthropic without API key")
	}
	if _, err := New("openai", "", "", ""); err == nil {
		t.Error("Expected error for openai without API key")
	}
	if _, err := New("ollama", "", "", ""); err != nil {
		t.Errorf("ollama needs no key, got error: %v", err)
	}
	if _, err := New("teleport", "k", "", ""); err == nil {
		t.Error("Expected error for unknown provider")
	}
}

func TestAnthropicComplete(t *testing.T) {
	var gotVersion, gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")

		var req anthRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.System != "be terse" {
			t.Errorf("Expected system 'be terse', got '%s'", req.System)
		}
		if len(req.Messages) != 1 || req.Messages[0].Content != "summarize this" {
			t.Errorf("Unexpected messages: %+v", req.Messages)
		}

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"a "},{"type":"text","text":"summary"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client, err := NewAnthropic("test-key", "", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.SetBaseURL(server.URL)

	text, err := client.Complete(context.Background(), Request{
		System: "be terse",
		Prompt: "summarize this",
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "a summary" {
		t.Errorf("Expected 'a summary', got '%s'", text)
	}
	if gotVersion != anthropicAPIVersion {
		t.Errorf("Expected version header %s, got %s", anthropicAPIVersion, gotVersion)
	}
	if gotKey != "test-key" {
		t.Errorf("Expected API key header 'test-key', got '%s'", gotKey)
	}
}

func TestAnthropicAuthError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":{"type":"authentication_error"}}`))
	}))
	defer server.Close()

	client, _ := NewAnthropic("bad-key", "", "")
	client.SetBaseURL(server.URL)

	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if err == nil {
		t.Fatal("Expected error for 401")
	}
	if !errs.IsAuth(err) {
		t.Errorf("Expected auth error kind, got %v", errs.KindOf(err))
	}
}

func TestOpenAIComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected bearer token, got '%s'", auth)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer server.Close()

	client, err := NewOpenAI("test-key", "", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	client.SetBaseURL(server.URL)

	text, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hello" {
		t.Errorf("Expected 'hello', got '%s'", text)
	}
}

func TestOpenAIRateLimit(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, _ := NewOpenAI("test-key", "", "")
	client.SetBaseURL(server.URL)

	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if errs.KindOf(err) != errs.KindRateLimit {
		t.Fatalf("Expected rate limit kind, got %v", errs.KindOf(err))
	}
	var e *errs.Error
	if !errors.As(err, &e) {
		t.Fatal("expected *errs.Error")
	}
	if e.RetryAfter != 7*time.Second {
		t.Errorf("Expected retry after 7s, got %v", e.RetryAfter)
	}
}

func TestOllamaComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Stream {
			t.Error("Expected stream=false")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"message":{"role":"assistant","content":"local answer"},"done":true}`))
	}))
	defer server.Close()

	client, err := NewOllama("llama3", server.URL)
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	text, err := client.Complete(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "local answer" {
		t.Errorf("Expected 'local answer', got '%s'", text)
	}
}

func TestCompleteNetworkError(t *testing.T) {
	client, _ := NewOllama("llama3", "http://127.0.0.1:1")

	_, err := client.Complete(context.Background(), Request{Prompt: "x"})
	if errs.KindOf(err) != errs.KindNetwork {
		t.Errorf("Expected network kind, got %v", errs.KindOf(err))
	}
}
