package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/protocol"
)

func newStaticGenerateStub(t *testing.T, response string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"response": response, "done": true})
	}))
}

func TestSummaryWorkerTickReplacesSummaryContext(t *testing.T) {
	srv := newStaticGenerateStub(t, "- point one\n- point two")
	defer srv.Close()

	sess := newActiveSession(t)
	sess.AppendSrcSegment("the committed source so far", 1)
	sess.UpdateSTTCumulative("the committed source so far and a fresh draft")
	if err := sess.AdvanceCommittedLen(len("the committed source so far")); err != nil {
		t.Fatalf("AdvanceCommittedLen() error = %v", err)
	}

	sink := &fakePipelineSink{}
	llm := llmengine.NewClient(srv.URL, "test-model")
	w := NewSummaryWorker(sess, llm, sink, nil)

	w.tick(context.Background())

	if got := sess.Summary(); got != "- point one\n- point two" {
		t.Fatalf("Summary() = %q", got)
	}

	var sawUpdate bool
	for _, m := range sink.messages {
		if u, ok := m.(protocol.SummaryUpdate); ok {
			sawUpdate = true
			if u.Summary != "- point one\n- point two" {
				t.Fatalf("SummaryUpdate.Summary = %q", u.Summary)
			}
		}
	}
	if !sawUpdate {
		t.Fatalf("expected a summary.update message, got %+v", sink.messages)
	}
}

func TestSummaryWorkerTickSkipsWhenNothingToSummarize(t *testing.T) {
	srv := newStaticGenerateStub(t, "should never be called")
	defer srv.Close()

	sess := newActiveSession(t)
	sink := &fakePipelineSink{}
	llm := llmengine.NewClient(srv.URL, "test-model")
	w := NewSummaryWorker(sess, llm, sink, nil)

	w.tick(context.Background())

	if got := sess.Summary(); got != "" {
		t.Fatalf("Summary() = %q, want empty", got)
	}
	if len(sink.messages) != 0 {
		t.Fatalf("expected no messages, got %+v", sink.messages)
	}
}
