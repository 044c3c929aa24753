package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
)

// TranslateWorker is Line 2 (C5): consumes commitCh strictly FIFO, opens a
// streaming LLM call per segment, and emits deltas/commit events.
type TranslateWorker struct {
	sess     *session.Session
	llm      *llmengine.Client
	sink     Sink
	metrics  *observability.Metrics
	commitCh <-chan string
}

func NewTranslateWorker(sess *session.Session, llm *llmengine.Client, sink Sink, metrics *observability.Metrics, commitCh <-chan string) *TranslateWorker {
	return &TranslateWorker{sess: sess, llm: llm, sink: sink, metrics: metrics, commitCh: commitCh}
}

func (w *TranslateWorker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case segment, ok := <-w.commitCh:
			if !ok {
				return
			}
			w.translateSegment(ctx, segment)
		}
	}
}

// translateSegment implements spec §4.5 steps 1-4: build the prompt, stream
// deltas, commit on completion, and append to session_tgt_segments.
func (w *TranslateWorker) translateSegment(ctx context.Context, segment string) {
	w.sess.SetTranslating(true)
	defer w.sess.SetTranslating(false)

	start := time.Now()
	if w.metrics != nil {
		defer func() { w.metrics.ObserveStage("translate", time.Since(start)) }()
	}

	prompt := w.buildPrompt(segment)
	deltas := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.llm.GenerateStream(ctx, prompt, deltas)
		close(deltas)
	}()

	var segCum strings.Builder
	for d := range deltas {
		segCum.WriteString(d)
		_ = w.sink.Send(protocol.TranslationDelta{Type: protocol.TypeTranslationDelta, Delta: d})
	}

	if err := <-errCh; err != nil {
		if w.metrics != nil {
			w.metrics.ObserveCollaboratorError("llm", "translate_fail")
		}
		_ = w.sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "translate_fail", Detail: err.Error()})
		return // no translation.commit for a partially-streamed segment (invariant 4)
	}

	normalized := normalizeCommit(segCum.String())
	w.sess.AppendTgtSegment(normalized)
	_ = w.sink.Send(protocol.TranslationCommit{Type: protocol.TypeTranslationCommit, Text: normalized})
}

// buildPrompt assembles source/target language names, title_name, the
// bilingual title_context_tail, the optional summary_context, and the new
// segment, per spec §4.5 step 1.
func (w *TranslateWorker) buildPrompt(segment string) string {
	snap := w.sess.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Translate from %s to %s for \"%s\".\n", w.sess.TranslateSrc, w.sess.TranslateTgt, snap.TitleName)

	if snap.TitleContextTail != "" {
		fmt.Fprintf(&b, "Recent bilingual context:\n%s\n", snap.TitleContextTail)
	}
	if summary := w.sess.Summary(); summary != "" {
		fmt.Fprintf(&b, "Running summary: %s\n", summary)
	}
	fmt.Fprintf(&b, "Segment: %s\n", segment)
	b.WriteString("Respond with the translation only, no commentary.")
	return b.String()
}
