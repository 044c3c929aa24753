package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/policy"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
)

const (
	finalizerGrace    = 400 * time.Millisecond
	finalizerQuiesce  = 2 * time.Second
	finalizerPollTick = 50 * time.Millisecond
)

// Finalizer is C9: on STOP, flushes the draft, waits bounded for
// in-flight translation to quiesce, runs a reconciliation LLM pass, and
// persists the title's final source/target text.
type Finalizer struct {
	sess    *session.Session
	llm     *llmengine.Client
	store   memory.Store
	sink    Sink
	metrics *observability.Metrics
}

func NewFinalizer(sess *session.Session, llm *llmengine.Client, store memory.Store, sink Sink, metrics *observability.Metrics) *Finalizer {
	return &Finalizer{sess: sess, llm: llm, store: store, sink: sink, metrics: metrics}
}

// Run executes spec §4.9 steps 1-8. commitCh is drained (not written to) so
// the translation worker can observe it empty; draining here does not
// re-inject segments, it only unblocks translateWorker.Run's select if a
// stray commit is already queued.
func (f *Finalizer) Run(ctx context.Context, commitCh chan string) error {
	start := time.Now()
	if f.metrics != nil {
		defer func() { f.metrics.ObserveStage("finalize", time.Since(start)) }()
	}

	f.sess.BeginStopping()
	time.Sleep(finalizerGrace)

	// The STT worker sees stopping on its next tick (well within the grace
	// period) and runs its end-of-session flush, committing the residual
	// draft and bypassing the minimum-commit-length check, so
	// waitForQuiescence also waits for that commit to clear commitCh.
	f.waitForQuiescence(ctx, commitCh)

	snap := f.sess.Snapshot()
	fullSrc := strings.TrimSpace(snap.CommittedSource + " " + strings.Join(snap.SrcSegments, " "))

	finalTgt, err := f.reconcile(ctx, fullSrc)
	if err != nil {
		if f.metrics != nil {
			f.metrics.ObserveCollaboratorError("llm", "final_translate_fail")
		}
		_ = f.sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "final_translate_fail", Detail: err.Error()})
		finalTgt = strings.Join(snap.TgtSegments, " ")
	}

	f.persist(ctx, snap.TitleID, snap.TitleName, fullSrc, snap.CommittedTarget, finalTgt)

	return f.sink.Send(protocol.FinalResult{
		Type:    protocol.TypeFinalResult,
		Source:  fullSrc,
		Target:  finalTgt,
		Summary: f.sess.Summary(),
	})
}

// waitForQuiescence waits up to finalizerQuiesce for commitCh to be empty
// and _translating to be false (spec §4.9 step 4).
func (f *Finalizer) waitForQuiescence(ctx context.Context, commitCh chan string) {
	deadline := time.Now().Add(finalizerQuiesce)
	ticker := time.NewTicker(finalizerPollTick)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		if len(commitCh) == 0 && !f.sess.IsTranslating() {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reconcile runs the "final_translate_full" pass: a coherent, consistent
// final_tgt across the whole session rather than the segment-by-segment
// translations already streamed.
func (f *Finalizer) reconcile(ctx context.Context, fullSrc string) (string, error) {
	if fullSrc == "" {
		return "", nil
	}
	prompt := "Provide one coherent, consistent translation of the following text from " +
		f.sess.TranslateSrc + " to " + f.sess.TranslateTgt + ". Respond with the translation only.\n\n" + fullSrc
	return f.llm.Generate(ctx, prompt)
}

// persist writes source first, then target, so a crash between the two
// leaves recoverable state (spec §4.9, "Partial persistence is allowed").
// The first write keeps the title's previously-persisted target in place
// (rather than blanking it) so a crash before the second write still
// leaves a usable, if stale, target alongside the freshly finalized source.
// Both texts are PII-redacted before they ever reach the store.
func (f *Finalizer) persist(ctx context.Context, titleID, titleName, fullSrc, previousTarget, finalTgt string) {
	if f.store == nil || titleID == "" {
		return
	}
	redactedSrc, srcChanged := policy.RedactPII(fullSrc)
	redactedPrevTgt, _ := policy.RedactPII(previousTarget)
	redactedFinalTgt, tgtChanged := policy.RedactPII(finalTgt)
	if f.metrics != nil && (srcChanged || tgtChanged) {
		f.metrics.ObservePipelineEvent("finalize", "pii_redacted")
	}

	now := time.Now().UTC()
	_ = f.store.SaveConversation(ctx, memory.Conversation{
		TitleID:         titleID,
		TitleName:       titleName,
		CommittedSource: redactedSrc,
		CommittedTarget: redactedPrevTgt,
		UpdatedAt:       now,
	})
	_ = f.store.SaveConversation(ctx, memory.Conversation{
		TitleID:         titleID,
		TitleName:       titleName,
		CommittedSource: redactedSrc,
		CommittedTarget: redactedFinalTgt,
		UpdatedAt:       now,
	})
}
