package pipeline

import (
	"context"
	"time"

	"github.com/voxbridge/voxbridge/internal/intent"
	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/sttengine"
	"github.com/voxbridge/voxbridge/internal/ttsengine"
	"github.com/voxbridge/voxbridge/internal/ttsstream"
)

// Sink is the websocket gateway's write side, shared by every worker that
// needs to emit a structured message or a raw binary audio frame.
type Sink interface {
	Send(msg any) error
	SendBinary(frame []byte) error
}

// Collaborators bundles the external HTTP clients a Controller wires
// through to its workers (spec §6's "fixed interface" black boxes).
type Collaborators struct {
	STT   *sttengine.Client
	LLM   *llmengine.Client
	TTS   *ttsengine.Client
	Store memory.Store
}

// Controller is the Supervisor (C10). One Controller serves every session:
// each Run call owns that session's worker goroutines, internal channels,
// and single-shot stop sequence, with a per-connection entry point and
// context-cancellation-driven worker lifecycle.
type Controller struct {
	collab  Collaborators
	metrics *observability.Metrics
	router  *intent.Router
	tts     *ttsstream.Streamer
}

// Collaborators returns the controller's external HTTP clients, for
// callers outside the live pipeline (e.g. the HTTP admin surface's batch
// audio-upload endpoint) that need the same STT/LLM black boxes without
// going through a session.
func (c *Controller) Collaborators() Collaborators {
	return c.collab
}

func NewController(collab Collaborators, metrics *observability.Metrics, router *intent.Router, ttsCfg ttsstream.Config) *Controller {
	return &Controller{
		collab:  collab,
		metrics: metrics,
		router:  router,
		tts:     ttsstream.New(ttsCfg),
	}
}

// Run dispatches to the translation-flavor or assistant-flavor pipeline
// depending on sess.Mode (spec's data-flow diagram in §2). Only the
// translation flavor runs the finalizer; the assistant flavor has none.
func (c *Controller) Run(ctx context.Context, sess *session.Session, audioCh <-chan []byte, sink Sink) error {
	if c.metrics != nil {
		c.metrics.ObservePipelineEvent("controller", "start")
		defer c.metrics.ObservePipelineEvent("controller", "stop")
	}

	switch sess.Mode {
	case "assistant":
		return c.runAssistant(ctx, sess, audioCh, sink)
	default:
		return c.runTranslation(ctx, sess, audioCh, sink)
	}
}

// runTranslation wires C3 (STT), C4 (folded into C3's commit step), C5
// (translation), and C6 (summary) concurrently, then runs the finalizer
// (C9) once the session enters STOPPING.
func (c *Controller) runTranslation(ctx context.Context, sess *session.Session, audioCh <-chan []byte, sink Sink) error {
	commitCh := make(chan string, 256)

	sttWorker := NewSTTWorker(sess, c.collab.STT, sink, c.metrics, audioCh, commitCh)
	translateWorker := NewTranslateWorker(sess, c.collab.LLM, sink, c.metrics, commitCh)
	summaryWorker := NewSummaryWorker(sess, c.collab.LLM, sink, c.metrics)

	// Workers are not tied to ctx: they keep running until the finalizer has
	// returned, so the STT worker's end-of-session flush and the translation
	// of already-queued commits can complete while the finalizer waits.
	workerCtx, cancelWorkers := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		defer close(done)
		sttWorker.Run(workerCtx)
	}()

	translateDone := make(chan struct{})
	go func() {
		defer close(translateDone)
		translateWorker.Run(workerCtx)
	}()

	summaryDone := make(chan struct{})
	go func() {
		defer close(summaryDone)
		summaryWorker.Run(workerCtx)
	}()

	<-ctx.Done()
	sess.BeginStopping()

	finalizer := NewFinalizer(sess, c.collab.LLM, c.collab.Store, sink, c.metrics)
	err := finalizer.Run(context.Background(), commitCh)

	cancelWorkers()
	<-done
	<-translateDone
	<-summaryDone
	close(commitCh)

	_ = sess.Close()
	return err
}

// runAssistant implements the one-shot flavor: buffer audio until stop,
// transcribe the full utterance, route it through the Intent Router (C7),
// and stream the reply as TTS (or play the resolved music track) (spec §2
// data-flow: "audio_chan → C3 (one-shot cumulative) → C7 → ... → C8").
func (c *Controller) runAssistant(ctx context.Context, sess *session.Session, audioCh <-chan []byte, sink Sink) error {
	var buf []byte
collectLoop:
	for {
		select {
		case <-ctx.Done():
			break collectLoop
		case frame, ok := <-audioCh:
			if !ok {
				break collectLoop
			}
			buf = append(buf, frame...)
			if len(buf) > sttTailCap {
				buf = buf[len(buf)-sttTailCap:]
			}
		}
	}
	sess.BeginStopping()

	if len(buf) == 0 {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "empty_audio"})
		return sink.Send(protocol.Result{Type: protocol.TypeResult, OK: false})
	}

	utterance, err := c.collab.STT.TranscribeCumulative(context.Background(), buf, 16000)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveCollaboratorError("stt", "stt_fail")
		}
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "stt_fail", Detail: err.Error()})
		return sink.Send(protocol.Result{Type: protocol.TypeResult, OK: false})
	}

	history := toChatHistory(sess.RecentHistory(8))
	reply, err := c.router.Handle(context.Background(), utterance, history)
	if err != nil {
		if c.metrics != nil {
			c.metrics.ObserveCollaboratorError("llm", "llm_http_error")
		}
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "llm_http_error", Detail: err.Error()})
		return sink.Send(protocol.Result{Type: protocol.TypeResult, OK: false, STTText: utterance})
	}
	sess.AppendHistory(utterance, reply.Text)

	result := protocol.Result{
		Type:    protocol.TypeResult,
		OK:      true,
		STTText: utterance,
		AIText:  reply.Text,
	}
	if reply.Branch == "device" || reply.Branch == "sensor" {
		result.DeviceResult = reply.Text
	}

	wav := reply.MusicWAV
	if wav == nil {
		ttsStart := time.Now()
		wav, err = c.collab.TTS.Synthesize(context.Background(), reply.Text, "")
		if c.metrics != nil {
			c.metrics.ObserveStage("tts", time.Since(ttsStart))
		}
		if err != nil {
			if c.metrics != nil {
				c.metrics.ObserveCollaboratorError("tts", "tts_fail")
			}
			return sink.Send(result)
		}
	}

	switch sess.ClientClass {
	case session.ClientLowBandwidthEmbedded:
		if err := sink.Send(result); err != nil {
			return err
		}
		return c.tts.EmitPaced(context.Background(), sink, wav, func() bool { return sess.IsStopped() })
	default:
		if b64, encodeErr := c.tts.EncodeGeneric(wav); encodeErr == nil {
			result.AudioB64 = b64
			result.AudioMime = "audio/wav"
		}
		return sink.Send(result)
	}
}

func toChatHistory(turns []session.HistoryTurn) []llmengine.ChatMessage {
	out := make([]llmengine.ChatMessage, 0, len(turns)*2)
	for _, t := range turns {
		out = append(out, llmengine.ChatMessage{Role: "user", Content: t.User})
		out = append(out, llmengine.ChatMessage{Role: "assistant", Content: t.Assistant})
	}
	return out
}

