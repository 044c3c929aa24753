package memory

import (
	"context"
	"strings"
	"time"
)

// Conversation is the persisted record of one title's translation session,
// written once at STOP (spec §7 "STOP-only persistence").
type Conversation struct {
	TitleID         string     `json:"title_id"`
	TitleName       string     `json:"title_name"`
	CommittedSource string     `json:"committed_source"`
	CommittedTarget string     `json:"committed_target"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DeletedAt       *time.Time `json:"deleted_at,omitempty"`
}

// ContextLine is one aligned (source, target) pair of the context tail
// handed back to a session on re-INIT.
type ContextLine struct {
	Source string `json:"source"`
	Target string `json:"target"`
}

// AppMemory is a single embedded fact/preference row used by the assistant
// flavor to recall durable user context across sessions (spec §9
// supplemented feature; embedding column already provisioned by the
// teacher's schema but unused until this addition).
type AppMemory struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists conversations and assistant app-memory.
type Store interface {
	SaveConversation(ctx context.Context, c Conversation) error
	GetConversation(ctx context.Context, titleID string) (Conversation, error)
	ListConversations(ctx context.Context, limit int) ([]Conversation, error)
	SoftDeleteConversation(ctx context.Context, titleID string) error

	SaveAppMemory(ctx context.Context, m AppMemory) error
	SearchAppMemory(ctx context.Context, userID string, query []float32, limit int) ([]AppMemory, error)

	Close() error
}

// BuildContextTail splits a conversation's committed source/target into
// aligned lines for the next session's title_context_tail (SPEC_FULL.md §3).
// When line counts disagree, extra source lines are kept with an empty
// target rather than guessing a realignment (resolved Open Question).
func BuildContextTail(committedSource, committedTarget string, maxLines int) []ContextLine {
	srcLines := splitNonEmptyLines(committedSource)
	tgtLines := splitNonEmptyLines(committedTarget)

	n := len(srcLines)
	if n == 0 {
		return nil
	}
	if maxLines > 0 && n > maxLines {
		srcLines = srcLines[n-maxLines:]
		if len(tgtLines) > maxLines {
			tgtLines = tgtLines[len(tgtLines)-maxLines:]
		}
		n = len(srcLines)
	}

	out := make([]ContextLine, n)
	for i := 0; i < n; i++ {
		out[i].Source = srcLines[i]
		if i < len(tgtLines) {
			out[i].Target = tgtLines[i]
		}
	}
	return out
}

func splitNonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, line := range raw {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}
