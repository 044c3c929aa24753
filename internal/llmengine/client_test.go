package llmengine

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPickModelUsesConfiguredModel(t *testing.T) {
	c := NewClient("http://example.invalid", "llama3.1:8b")
	model, err := c.PickModel(context.Background())
	if err != nil {
		t.Fatalf("PickModel() error = %v", err)
	}
	if model != "llama3.1:8b" {
		t.Fatalf("model = %q, want llama3.1:8b", model)
	}
}

func TestPickModelQueriesTagsByPriority(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"models":[{"name":"mistral:7b"},{"name":"llama3.1:8b"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	model, err := c.PickModel(context.Background())
	if err != nil {
		t.Fatalf("PickModel() error = %v", err)
	}
	if model != "llama3.1:8b" {
		t.Fatalf("model = %q, want llama3.1:8b (higher priority than mistral:7b)", model)
	}
}

func TestChatStreamEmitsDeltasUntilDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lines := []string{
			`{"message":{"content":"Hello"},"done":false}`,
			`{"message":{"content":" world"},"done":false}`,
			`{"message":{"content":""},"done":true}`,
		}
		for _, l := range lines {
			w.Write([]byte(l + "\n"))
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model")
	deltas := make(chan string, 8)
	if err := c.ChatStream(context.Background(), []ChatMessage{{Role: "user", Content: "hi"}}, deltas); err != nil {
		t.Fatalf("ChatStream() error = %v", err)
	}
	close(deltas)

	var got strings.Builder
	for d := range deltas {
		got.WriteString(d)
	}
	if got.String() != "Hello world" {
		t.Fatalf("deltas = %q, want %q", got.String(), "Hello world")
	}
}

func TestGenerateReturnsTrimmedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"response":"  xin chao  ","done":true}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-model")
	got, err := c.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if got != "xin chao" {
		t.Fatalf("Generate() = %q, want %q", got, "xin chao")
	}
}
