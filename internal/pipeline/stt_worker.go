package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/sttengine"
)

const (
	sttFlushInterval = 800 * time.Millisecond // spec §4.3: "≈0.8s" minimum interval
	sttTailCap       = 15 * 16000 * 2         // ≈15s of 16kHz mono PCM16, hard-capped tail
	pauseTickPeriod  = 180 * time.Millisecond
	minCommitChars   = 10
	pauseCommitSec   = 800 * time.Millisecond
)

// STTWorker is Line 1 (C3): it buffers incoming PCM, periodically asks the
// STT engine for a cumulative transcript, emits draft/commit events, and
// forwards committed segments to the Commit Router (C4).
type STTWorker struct {
	sess      *session.Session
	stt       *sttengine.Client
	sink      Sink
	metrics   *observability.Metrics
	commitCh  chan<- string
	audioCh   <-chan []byte
	minCommit int
	pauseSec  time.Duration

	buf []byte
}

func NewSTTWorker(sess *session.Session, stt *sttengine.Client, sink Sink, metrics *observability.Metrics, audioCh <-chan []byte, commitCh chan<- string) *STTWorker {
	return &STTWorker{
		sess:      sess,
		stt:       stt,
		sink:      sink,
		metrics:   metrics,
		commitCh:  commitCh,
		audioCh:   audioCh,
		minCommit: minCommitChars,
		pauseSec:  pauseCommitSec,
	}
}

// Run drains audioCh, flushing a cumulative transcript at most every
// sttFlushInterval, and separately runs the pause-commit loop on a coarse
// tick. It returns once ctx is cancelled and the current draft has been
// flushed once (worker-termination rule, spec §4.3).
func (w *STTWorker) Run(ctx context.Context) {
	flushTicker := time.NewTicker(sttFlushInterval)
	defer flushTicker.Stop()
	pauseTicker := time.NewTicker(pauseTickPeriod)
	defer pauseTicker.Stop()

	flushedAfterStop := false
	for {
		select {
		case <-ctx.Done():
			if !flushedAfterStop {
				w.flushAndCommitResidual(context.Background())
				flushedAfterStop = true
			}
			return
		case frame, ok := <-w.audioCh:
			if !ok {
				return
			}
			w.appendAudio(frame)
		case <-flushTicker.C:
			if len(w.buf) > 0 {
				w.flushDraft(ctx)
			}
		case <-pauseTicker.C:
			w.pauseCommitCheck(ctx)
		}

		if w.sess.IsStopping() && !flushedAfterStop {
			w.flushAndCommitResidual(ctx)
			flushedAfterStop = true
			return
		}
	}
}

func (w *STTWorker) appendAudio(frame []byte) {
	w.buf = append(w.buf, frame...)
	if len(w.buf) > sttTailCap {
		w.buf = w.buf[len(w.buf)-sttTailCap:]
	}
}

// flushDraft synthesizes the buffered tail to WAV, asks the STT engine for
// the cumulative transcript, and applies steps 1-4 of spec §4.3.
func (w *STTWorker) flushDraft(ctx context.Context) {
	if len(w.buf) == 0 {
		return
	}
	start := time.Now()
	cumulative, err := w.stt.TranscribeCumulative(ctx, w.buf, 16000)
	if w.metrics != nil {
		w.metrics.ObserveStage("stt", time.Since(start))
	}
	if err != nil {
		if w.metrics != nil {
			w.metrics.ObserveCollaboratorError("stt", "stt_fail")
		}
		_ = w.sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "stt_fail", Detail: err.Error()})
		return
	}
	w.applyCumulative(ctx, cumulative)
}

func (w *STTWorker) applyCumulative(ctx context.Context, cumulative string) {
	w.sess.UpdateSTTCumulative(cumulative)

	_, committedLen := w.sess.STTCumulative()
	cursor := committedLen
	if cursor > len(cumulative) {
		cursor = len(cumulative)
	}
	cursor = retreatToWordBoundary(cumulative, cursor)

	draft := cumulative[cursor:]
	_ = w.sink.Send(protocol.STTDelta{Type: protocol.TypeSTTDelta, Text: draft})

	end := lastPunctuationEnd(draft)
	if end <= 0 {
		return
	}
	candidate := draft[:end]
	if len(normalizeCommit(candidate)) < w.minCommit {
		return
	}

	newCursor := cursor + end
	if err := w.sess.AdvanceCommittedLen(newCursor); err != nil {
		return
	}
	w.commit(ctx, candidate, false)

	_, committedLen = w.sess.STTCumulative()
	remaining := cumulative[committedLen:]
	_ = w.sink.Send(protocol.STTDelta{Type: protocol.TypeSTTDelta, Text: remaining})
}

// flushAndCommitResidual is the end-of-session counterpart to flushDraft: it
// re-transcribes any buffered tail audio, then commits whatever draft is
// still uncommitted, bypassing the minimum-commit-length check, so a final
// utterance with no terminal punctuation still reaches the commit path
// instead of being dropped on session stop.
func (w *STTWorker) flushAndCommitResidual(ctx context.Context) {
	if len(w.buf) > 0 {
		w.flushDraft(ctx)
	}
	cumulative, committedLen := w.sess.STTCumulative()
	if committedLen >= len(cumulative) {
		return
	}
	draft := cumulative[committedLen:]
	if strings.TrimSpace(draft) == "" {
		return
	}
	if err := w.sess.AdvanceCommittedLen(len(cumulative)); err != nil {
		return
	}
	w.commit(ctx, draft, true)
	_ = w.sink.Send(protocol.STTDelta{Type: protocol.TypeSTTDelta, Text: ""})
}

// pauseCommitCheck implements the secondary pause-commit path: if the STT
// cumulative has been idle for pauseSec and a long-enough draft exists,
// commit the whole draft and clear the UI draft line.
func (w *STTWorker) pauseCommitCheck(ctx context.Context) {
	if !w.sess.IsActive() {
		return
	}
	if time.Since(w.sess.LastSTTUpdateAt()) < w.pauseSec {
		return
	}
	cumulative, committedLen := w.sess.STTCumulative()
	if committedLen >= len(cumulative) {
		return
	}
	draft := cumulative[committedLen:]
	normalized := normalizeCommit(draft)
	if len(normalized) < w.minCommit {
		return
	}

	if err := w.sess.AdvanceCommittedLen(len(cumulative)); err != nil {
		return
	}
	w.commit(ctx, draft, false)
	_ = w.sink.Send(protocol.STTDelta{Type: protocol.TypeSTTDelta, Text: ""})
}

// commit runs the Commit Router (C4) normalization/dedup and, on success,
// appends to session_src_segments, emits stt.commit, and pushes onto
// commitCh. bypassMinLength allows flushAndCommitResidual's end-of-session
// flush to skip the minimum-length check (spec §4.9 step 3).
func (w *STTWorker) commit(ctx context.Context, raw string, bypassMinLength bool) bool {
	start := time.Now()
	if w.metrics != nil {
		defer func() { w.metrics.ObserveStage("commit", time.Since(start)) }()
	}
	normalized := normalizeCommit(raw)
	if !bypassMinLength && len(normalized) < w.minCommit {
		return false
	}
	if normalized == "" {
		return false
	}
	h := commitHash(normalized)
	if h == w.sess.LastCommitHash() {
		return false
	}
	if w.sess.IsStopping() && !bypassMinLength {
		return false // invariant 5: no new segments once stopping, except the end-of-session bypass flush
	}

	w.sess.AppendSrcSegment(normalized, h)
	_ = w.sink.Send(protocol.STTCommit{Type: protocol.TypeSTTCommit, Text: normalized})
	if w.metrics != nil {
		w.metrics.ObserveCommit("punctuation")
	}

	select {
	case w.commitCh <- normalized:
	case <-ctx.Done():
	}
	return true
}
