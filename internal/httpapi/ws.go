package httpapi

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/audioio"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
)

var errExpectedInit = errors.New("expected init message")

// wsSink adapts a *websocket.Conn to pipeline.Sink. Several worker
// goroutines (STT, translate, summary, finalizer) send concurrently, so
// every write is serialized behind one mutex.
type wsSink struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *wsSink) Send(msg any) error {
	data, err := protocol.MarshalFast(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) SendBinary(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

const maxContextTailLines = 20

// clientMessageErrorTag maps a protocol.ParseClientMessage failure to the
// wire error tag a client can key on: an unrecognized type is unknown_type,
// a missing required field is missing_field, equal source/target languages
// are invalid_language, an empty audio payload is bad_audio, and anything
// else (malformed envelope) is bad_json.
func clientMessageErrorTag(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnsupportedType):
		return "unknown_type"
	case errors.Is(err, protocol.ErrMissingField):
		return "missing_field"
	case errors.Is(err, protocol.ErrInvalidLanguage):
		return "invalid_language"
	case errors.Is(err, protocol.ErrBadAudio):
		return "bad_audio"
	default:
		return "bad_json"
	}
}

// handleVoiceWS is the single entry point for both pipeline flavors: the
// first text frame must be an init message, which selects the session and
// its persisted context; a start frame then hands the connection off to the
// pipeline Controller for the rest of its life (spec §6 "External
// Interfaces").
func (s *Server) handleVoiceWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	sink := &wsSink{conn: conn}

	sess, err := s.readInit(r.Context(), conn, sink)
	if err != nil {
		return
	}
	if !s.readStart(conn, sink, sess) {
		return
	}

	if s.metrics != nil {
		s.metrics.ActiveSessions.Set(float64(s.sessions.ActiveCount()))
		s.metrics.SessionEvents.WithLabelValues("ws_connected").Inc()
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	audioCh := make(chan []byte, 64)
	runDone := make(chan error, 1)
	go func() { runDone <- s.controller.Run(ctx, sess, audioCh, sink) }()

	ingress := audioio.New(audioCh)
	ingress.Start()
	defer ingress.Stop()

	conn.SetReadLimit(4 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

readLoop:
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		sess.Touch()

		switch msgType {
		case websocket.BinaryMessage:
			if err := ingress.PushFrame(data); err != nil {
				_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "bad_audio", Detail: err.Error()})
			}
			continue
		case websocket.TextMessage:
		default:
			continue
		}

		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: clientMessageErrorTag(err), Detail: err.Error()})
			continue
		}

		switch m := parsed.(type) {
		case protocol.AudioChunk:
			pcm, err := base64.StdEncoding.DecodeString(m.PCM16B64)
			if err != nil {
				_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "bad_audio", Detail: err.Error()})
				continue
			}
			if err := ingress.PushFrame(pcm); err != nil {
				_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "bad_audio", Detail: err.Error()})
			}
		case protocol.Stop:
			break readLoop
		default:
			// init/start repeats after the handshake are no-ops.
		}
	}

	cancel()
	<-runDone
	if s.metrics != nil {
		s.metrics.SessionEvents.WithLabelValues("ws_disconnected").Inc()
	}
	s.sessions.Remove(sess.ID)
}

// readInit blocks for the mandatory first frame, validates it as an init
// message, loads persisted context for the title (if any), and creates the
// session in INITIALIZED state.
func (s *Server) readInit(ctx context.Context, conn *websocket.Conn, sink *wsSink) (*session.Session, error) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	parsed, err := protocol.ParseClientMessage(data)
	if err != nil {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: clientMessageErrorTag(err), Detail: err.Error()})
		return nil, err
	}
	init, ok := parsed.(protocol.Init)
	if !ok {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "expected_init"})
		return nil, errExpectedInit
	}

	var committedSource, committedTarget, contextTail string
	if s.store != nil {
		if conv, err := s.store.GetConversation(ctx, init.TitleID); err == nil {
			committedSource = conv.CommittedSource
			committedTarget = conv.CommittedTarget
			contextTail = formatContextTail(memory.BuildContextTail(conv.CommittedSource, conv.CommittedTarget, maxContextTailLines))
		}
	}

	sess := s.sessions.Create(init.TitleID)
	if strings.EqualFold(strings.TrimSpace(init.ClientClass), string(session.ClientLowBandwidthEmbedded)) {
		sess.ClientClass = session.ClientLowBandwidthEmbedded
	}
	mode := init.Mode
	if mode == "" {
		mode = "translation"
	}
	if err := sess.Init(init.TitleName, init.STTLanguage, init.TranslateSource, init.TranslateTarget, mode, committedSource, committedTarget, contextTail); err != nil {
		tag := "init_failed"
		if errors.Is(err, session.ErrInvalidLanguage) {
			tag = "invalid_language"
		}
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: tag, Detail: err.Error()})
		s.sessions.Remove(sess.ID)
		return nil, err
	}
	_ = sink.Send(protocol.Ack{Type: protocol.TypeAck, Status: "initialized"})
	return sess, nil
}

// readStart blocks for the start frame that moves the session INITIALIZED
// -> ACTIVE (spec §6: "start" is acked with {"type":"ack","status":"started"}).
func (s *Server) readStart(conn *websocket.Conn, sink *wsSink, sess *session.Session) bool {
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.sessions.Remove(sess.ID)
		return false
	}
	parsed, err := protocol.ParseClientMessage(data)
	if err != nil {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: clientMessageErrorTag(err), Detail: err.Error()})
		s.sessions.Remove(sess.ID)
		return false
	}
	if _, ok := parsed.(protocol.Start); !ok {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "expected_start"})
		s.sessions.Remove(sess.ID)
		return false
	}
	if err := sess.Start(); err != nil {
		_ = sink.Send(protocol.ErrorEvent{Type: protocol.TypeError, Error: "start_failed", Detail: err.Error()})
		s.sessions.Remove(sess.ID)
		return false
	}
	_ = sink.Send(protocol.Ack{Type: protocol.TypeAck, Status: "started"})
	return true
}

func formatContextTail(lines []memory.ContextLine) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(l.Source)
		b.WriteString(" => ")
		b.WriteString(l.Target)
	}
	return b.String()
}
