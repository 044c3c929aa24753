package memory

import (
	"context"
	"errors"
	"testing"
)

func TestBuildContextTailAlignsLines(t *testing.T) {
	src := "hello there.\nhow are you?"
	tgt := "xin chao.\nban khoe khong?"
	lines := BuildContextTail(src, tgt, 0)
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].Source != "hello there." || lines[0].Target != "xin chao." {
		t.Fatalf("unexpected line 0: %+v", lines[0])
	}
}

func TestBuildContextTailKeepsSourceOnMismatch(t *testing.T) {
	src := "one.\ntwo.\nthree."
	tgt := "mot."
	lines := BuildContextTail(src, tgt, 0)
	if len(lines) != 3 {
		t.Fatalf("len(lines) = %d, want 3", len(lines))
	}
	if lines[0].Target != "mot." {
		t.Fatalf("line 0 target = %q, want mot.", lines[0].Target)
	}
	if lines[1].Target != "" || lines[2].Target != "" {
		t.Fatalf("expected empty target for unaligned lines, got %+v", lines)
	}
}

func TestBuildContextTailTruncatesToMaxLines(t *testing.T) {
	src := "a.\nb.\nc.\nd."
	tgt := "a2.\nb2.\nc2.\nd2."
	lines := BuildContextTail(src, tgt, 2)
	if len(lines) != 2 {
		t.Fatalf("len(lines) = %d, want 2", len(lines))
	}
	if lines[0].Source != "c." || lines[1].Source != "d." {
		t.Fatalf("unexpected tail: %+v", lines)
	}
}

func TestInMemoryStoreConversationLifecycle(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	err := s.SaveConversation(ctx, Conversation{TitleID: "t1", TitleName: "Trip", CommittedSource: "hi"})
	if err != nil {
		t.Fatalf("SaveConversation() error = %v", err)
	}

	got, err := s.GetConversation(ctx, "t1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if got.CommittedSource != "hi" {
		t.Fatalf("CommittedSource = %q, want hi", got.CommittedSource)
	}

	if err := s.SoftDeleteConversation(ctx, "t1"); err != nil {
		t.Fatalf("SoftDeleteConversation() error = %v", err)
	}
	if _, err := s.GetConversation(ctx, "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetConversation() after delete error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreAppMemorySearch(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_ = s.SaveAppMemory(ctx, AppMemory{UserID: "u1", Content: "likes tea", Embedding: []float32{1, 0, 0}})
	_ = s.SaveAppMemory(ctx, AppMemory{UserID: "u1", Content: "likes coffee", Embedding: []float32{0, 1, 0}})

	results, err := s.SearchAppMemory(ctx, "u1", []float32{1, 0, 0}, 1)
	if err != nil {
		t.Fatalf("SearchAppMemory() error = %v", err)
	}
	if len(results) != 1 || results[0].Content != "likes tea" {
		t.Fatalf("results = %+v, want nearest match likes tea", results)
	}
}

func TestNewStoreChoosesInMemoryWithoutDatabaseURL(t *testing.T) {
	store, err := NewStore(context.Background(), "", 1536)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	defer store.Close()
	if _, ok := store.(*InMemoryStore); !ok {
		t.Fatalf("store type = %T, want *InMemoryStore", store)
	}
}
