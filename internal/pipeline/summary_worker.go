package pipeline

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
)

const summaryTickInterval = 10 * time.Second

// SummaryWorker is Line 3 (C6): on a fixed period, composes a running
// summary and wholesale-replaces summary_context.
type SummaryWorker struct {
	sess    *session.Session
	llm     *llmengine.Client
	sink    Sink
	metrics *observability.Metrics
}

func NewSummaryWorker(sess *session.Session, llm *llmengine.Client, sink Sink, metrics *observability.Metrics) *SummaryWorker {
	return &SummaryWorker{sess: sess, llm: llm, sink: sink, metrics: metrics}
}

func (w *SummaryWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(summaryTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !w.sess.IsActive() {
				continue
			}
			w.tick(ctx)
		}
	}
}

// tick builds src2 by concatenating persisted committed_source, in-session
// source segments, and the current draft — using an errgroup since the
// draft read and segment-list read are independent, concurrently-safe
// reads of session state (spec §4.6).
func (w *SummaryWorker) tick(ctx context.Context) {
	var (
		g                errgroup.Group
		persistedAndSess string
		draft            string
	)

	g.Go(func() error {
		snap := w.sess.Snapshot()
		persistedAndSess = snap.CommittedSource + " " + strings.Join(snap.SrcSegments, " ")
		return nil
	})
	g.Go(func() error {
		cumulative, committedLen := w.sess.STTCumulative()
		if committedLen <= len(cumulative) {
			draft = cumulative[committedLen:]
		}
		return nil
	})
	_ = g.Wait()

	src2 := strings.TrimSpace(persistedAndSess + " " + draft)
	if src2 == "" {
		return
	}

	start := time.Now()
	summary, err := w.llm.Generate(ctx, summaryPrompt(src2))
	if w.metrics != nil {
		w.metrics.ObserveStage("summary", time.Since(start))
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.ObserveCollaboratorError("llm", "summary_fail")
		}
		return // summary failures are logged and skipped, never fatal
	}

	w.sess.SetSummary(summary)
	_ = w.sink.Send(protocol.SummaryUpdate{Type: protocol.TypeSummaryUpdate, Summary: summary})
}

func summaryPrompt(src2 string) string {
	return "Summarize the following in 3 to 6 bullet points. Preserve entities, numbers, and key terms exactly.\n\n" + src2
}
