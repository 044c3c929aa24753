package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/protocol"
)

func TestFinalizerRunPersistsAndEmitsFinalResult(t *testing.T) {
	srv := newStaticGenerateStub(t, "ban dich cuoi cung")
	defer srv.Close()

	sess := newActiveSession(t)
	sess.AppendSrcSegment("hello there", 1)

	sink := &fakePipelineSink{}
	llm := llmengine.NewClient(srv.URL, "test-model")
	store := memory.NewInMemoryStore()
	f := NewFinalizer(sess, llm, store, sink, nil)

	commitCh := make(chan string, 1)
	if err := f.Run(context.Background(), commitCh); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !sess.IsStopping() {
		t.Fatalf("expected session to have transitioned to stopping")
	}

	var final protocol.FinalResult
	var found bool
	for _, m := range sink.messages {
		if fr, ok := m.(protocol.FinalResult); ok {
			final = fr
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a final.result message, got %+v", sink.messages)
	}
	if final.Source != "hello there" {
		t.Fatalf("FinalResult.Source = %q", final.Source)
	}
	if final.Target != "ban dich cuoi cung" {
		t.Fatalf("FinalResult.Target = %q", final.Target)
	}

	conv, err := store.GetConversation(context.Background(), sess.TitleID)
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.CommittedTarget != "ban dich cuoi cung" {
		t.Fatalf("persisted CommittedTarget = %q", conv.CommittedTarget)
	}
	if conv.CommittedSource != "hello there" {
		t.Fatalf("persisted CommittedSource = %q", conv.CommittedSource)
	}
}

func TestFinalizerWaitForQuiescenceReturnsOnceIdle(t *testing.T) {
	sess := newActiveSession(t)
	f := NewFinalizer(sess, nil, nil, &fakePipelineSink{}, nil)
	commitCh := make(chan string, 1)

	sess.SetTranslating(true)
	done := make(chan struct{})
	go func() {
		f.waitForQuiescence(context.Background(), commitCh)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	sess.SetTranslating(false)

	select {
	case <-done:
	case <-time.After(finalizerQuiesce + time.Second):
		t.Fatalf("waitForQuiescence did not return after quiescence")
	}
}

func TestFinalizerReconcileEmptySourceReturnsEmpty(t *testing.T) {
	sess := newActiveSession(t)
	f := NewFinalizer(sess, nil, nil, &fakePipelineSink{}, nil)
	got, err := f.reconcile(context.Background(), "")
	if err != nil {
		t.Fatalf("reconcile() error = %v", err)
	}
	if got != "" {
		t.Fatalf("reconcile(\"\") = %q, want empty", got)
	}
}

func TestFinalizerPersistFinalTargetWins(t *testing.T) {
	sess := newActiveSession(t)
	store := memory.NewInMemoryStore()
	f := NewFinalizer(sess, nil, store, &fakePipelineSink{}, nil)

	f.persist(context.Background(), "title-1", "Title", "full source", "stale target", "fresh target")

	conv, err := store.GetConversation(context.Background(), "title-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.CommittedTarget != "fresh target" {
		t.Fatalf("CommittedTarget = %q, want the final write to win", conv.CommittedTarget)
	}
}
