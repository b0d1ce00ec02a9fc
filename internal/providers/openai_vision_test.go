package providers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestOpenAIVisionRecognizeSuccess(t *testing.T) {
	var payload map[string]any

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Fatalf("unmarshal body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "stop",
				"message": {"role": "assistant", "content": "  Figure 2: flow diagram  "}
			}]
		}`))
	}))
	defer server.Close()

	client := NewOpenAIVisionClient(OpenAIVisionConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 1,
	})

	req := testRequest(t)
	result, err := client.Recognize(context.Background(), req)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	if !result.Success || result.Text != "Figure 2: flow diagram" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if result.Confidence != nil {
		t.Error("vision models report no confidence")
	}
	if len(result.Findings.Diagrams) != 1 {
		t.Errorf("expected a detected diagram, got %+v", result.Findings)
	}

	msgs, _ := payload["messages"].([]any)
	if len(msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(msgs))
	}
	content, _ := msgs[0].(map[string]any)["content"].([]any)
	if len(content) != 1+len(req.Tiles) {
		t.Fatalf("expected %d content parts, got %d", 1+len(req.Tiles), len(content))
	}
	text, _ := content[0].(map[string]any)["text"].(string)
	if !strings.Contains(text, "row-major") || !strings.Contains(text, "thumbnail") {
		t.Errorf("instructions missing layout: %q", text)
	}
	img, _ := content[1].(map[string]any)["image_url"].(map[string]any)
	if url, _ := img["url"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("unexpected image url prefix: %.40s", url)
	}
}

func TestOpenAIVisionRecognizeError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error": {"message": "image too large", "type": "invalid_request_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIVisionClient(OpenAIVisionConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 1,
	})
	result, err := client.Recognize(context.Background(), testRequest(t))
	if err == nil {
		t.Fatal("expected error")
	}
	if result.Success {
		t.Error("expected failed result")
	}
	if !strings.Contains(err.Error(), "status 400") {
		t.Errorf("err = %v", err)
	}
}

func TestOpenAIVisionRecognizeSingleRequest(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"error": {"message": "overloaded", "type": "server_error"}}`))
	}))
	defer server.Close()

	client := NewOpenAIVisionClient(OpenAIVisionConfig{
		APIKey:     "test-key",
		BaseURL:    server.URL,
		MaxRetries: 3,
	})
	if _, err := client.Recognize(context.Background(), testRequest(t)); err == nil {
		t.Fatal("expected error")
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
	if client.MaxRetries() != 3 {
		t.Errorf("MaxRetries() = %d, want 3", client.MaxRetries())
	}
}
