// internal/llm/providers/groq/groq_test.go
package groq

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Corphon/StoryMasterMCP/internal/llm"
)

func testProvider(t *testing.T, baseURL string) *Provider {
	t.Helper()
	p := &Provider{baseURL: "https://api.groq.com/openai/v1"}
	err := p.Initialize(map[string]string{
		"api_key":  "test-key",
		"base_url": baseURL,
	})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestInitializeRequiresAPIKey(t *testing.T) {
	p := &Provider{}
	if err := p.Initialize(map[string]string{}); err == nil {
		t.Fatal("expected error without api key")
	}
}

func TestCompleteChat(t *testing.T) {
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header: %q", auth)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)

		json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{
					"message":       map[string]string{"role": "assistant", "content": `{"description":"ok"}`},
					"finish_reason": "stop",
				},
			},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	resp, err := p.CompleteChat(context.Background(), llm.CompletionRequest{
		Messages:     []llm.ChatMessage{{Role: "user", Content: "hi"}},
		Temperature:  0.7,
		MaxTokens:    1024,
		JSONResponse: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	if resp.Text != `{"description":"ok"}` {
		t.Errorf("unexpected text: %q", resp.Text)
	}
	if resp.TokensUsed != 15 {
		t.Errorf("unexpected token count: %d", resp.TokensUsed)
	}
	if resp.ModelName != "compound-beta" {
		t.Errorf("expected default model, got %q", resp.ModelName)
	}

	if gotBody["model"] != "compound-beta" {
		t.Errorf("request model: %v", gotBody["model"])
	}
	rf, ok := gotBody["response_format"].(map[string]interface{})
	if !ok || rf["type"] != "json_object" {
		t.Errorf("expected json_object response_format, got %v", gotBody["response_format"])
	}
	if gotBody["max_tokens"].(float64) != 1024 {
		t.Errorf("request max_tokens: %v", gotBody["max_tokens"])
	}
}

func TestCompleteChatSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{"message": "rate limit reached"},
		})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	_, err := p.CompleteChat(context.Background(), llm.CompletionRequest{
		Messages: []llm.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "rate limit reached") {
		t.Errorf("error must carry the API message: %v", err)
	}
}

func TestCompleteChatNoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"choices": []interface{}{}})
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	if _, err := p.CompleteChat(context.Background(), llm.CompletionRequest{}); err == nil {
		t.Fatal("expected error on empty choices")
	}
}

func TestStreamChat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`data: {"choices":[{"delta":{"content":"The "},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{"content":"rain."},"finish_reason":null}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		}
		for _, c := range chunks {
			w.Write([]byte(c + "\n\n"))
		}
	}))
	defer server.Close()

	p := testProvider(t, server.URL)
	stream, err := p.StreamChat(context.Background(), llm.CompletionRequest{
		Messages: []llm.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatal(err)
	}

	var deltas []string
	var final llm.StreamResponse
	for chunk := range stream {
		if chunk.Done {
			final = chunk
			break
		}
		deltas = append(deltas, chunk.Text)
	}

	if len(deltas) != 2 {
		t.Fatalf("expected 2 deltas, got %v", deltas)
	}
	if final.Text != "The rain." {
		t.Errorf("final text must accumulate deltas, got %q", final.Text)
	}
	if final.FinishReason != "stop" {
		t.Errorf("unexpected finish reason: %q", final.FinishReason)
	}
}

func TestProviderIsRegistered(t *testing.T) {
	p, err := llm.GetProvider("groq", map[string]string{"api_key": "k"})
	if err != nil {
		t.Fatal(err)
	}
	if p.GetName() != "Groq" {
		t.Errorf("unexpected provider name: %q", p.GetName())
	}
}
