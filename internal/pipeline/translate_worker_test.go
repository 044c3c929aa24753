package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/protocol"
)

// newGenerateOllamaStub serves Ollama-style /api/generate NDJSON chunks that
// together spell out reply, then a final {"done":true} line.
func newGenerateOllamaStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, ch := range []rune(reply) {
			w.Write([]byte(`{"response":"` + string(ch) + `","done":false}` + "\n"))
			flusher.Flush()
		}
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
		flusher.Flush()
	}))
}

func TestTranslateWorkerTranslateSegmentCommitsOnSuccess(t *testing.T) {
	srv := newGenerateOllamaStub(t, "xin chao")
	defer srv.Close()

	sess := newActiveSession(t)
	sink := &fakePipelineSink{}
	llm := llmengine.NewClient(srv.URL, "test-model")
	w := NewTranslateWorker(sess, llm, sink, nil, nil)

	w.translateSegment(context.Background(), "hello")

	_, tgt := sess.PendingSegmentCount()
	if tgt != 1 {
		t.Fatalf("tgt segment count = %d, want 1", tgt)
	}

	var sawCommit bool
	for _, m := range sink.messages {
		if c, ok := m.(protocol.TranslationCommit); ok {
			sawCommit = true
			if c.Text != "xin chao" {
				t.Fatalf("TranslationCommit.Text = %q", c.Text)
			}
		}
	}
	if !sawCommit {
		t.Fatalf("expected a translation.commit message, got %+v", sink.messages)
	}
	if sess.IsTranslating() {
		t.Fatalf("expected _translating to be cleared after translateSegment returns")
	}
}

func TestTranslateWorkerDoesNotCommitOnStreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sess := newActiveSession(t)
	sink := &fakePipelineSink{}
	llm := llmengine.NewClient(srv.URL, "test-model")
	w := NewTranslateWorker(sess, llm, sink, nil, nil)

	w.translateSegment(context.Background(), "hello")

	_, tgt := sess.PendingSegmentCount()
	if tgt != 0 {
		t.Fatalf("tgt segment count = %d, want 0 on stream failure", tgt)
	}

	var sawError bool
	for _, m := range sink.messages {
		if _, ok := m.(protocol.ErrorEvent); ok {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected an error event, got %+v", sink.messages)
	}
}
