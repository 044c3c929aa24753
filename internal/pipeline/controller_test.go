package pipeline

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/intent"
	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/sttengine"
	"github.com/voxbridge/voxbridge/internal/ttsengine"
	"github.com/voxbridge/voxbridge/internal/ttsstream"
)

func sampleWAVBytes(t *testing.T, n int) []byte {
	t.Helper()
	pcm := make([]byte, n*2)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	wav, err := audio.EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}
	return wav
}

func newTranscribeStub(t *testing.T, text string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": text})
	}))
}

func newChatStub(t *testing.T, reply string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, ch := range []rune(reply) {
			w.Write([]byte(`{"message":{"content":"` + string(ch) + `"},"done":false}` + "\n"))
			flusher.Flush()
		}
		w.Write([]byte(`{"message":{"content":""},"done":true}` + "\n"))
		flusher.Flush()
	}))
}

func newSynthesizeStub(t *testing.T, wav []byte) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wav)
	}))
}

func newAssistantController(t *testing.T, sttText, chatReply string) (*Controller, *httptest.Server, *httptest.Server, *httptest.Server) {
	t.Helper()
	sttSrv := newTranscribeStub(t, sttText)
	chatSrv := newChatStub(t, chatReply)
	ttsSrv := newSynthesizeStub(t, sampleWAVBytes(t, 100))

	collab := Collaborators{
		STT:   sttengine.NewClient(sttSrv.URL, "en"),
		LLM:   llmengine.NewClient(chatSrv.URL, "test-model"),
		TTS:   ttsengine.NewClient(ttsSrv.URL),
		Store: memory.NewInMemoryStore(),
	}
	router := intent.NewRouter(nil, nil, nil, collab.LLM)
	c := NewController(collab, nil, router, ttsstream.DefaultConfig())
	return c, sttSrv, chatSrv, ttsSrv
}

func TestControllerRunAssistantGenericClientClassEncodesAudio(t *testing.T) {
	c, sttSrv, chatSrv, ttsSrv := newAssistantController(t, "what is the weather like", "It is sunny today.")
	defer sttSrv.Close()
	defer chatSrv.Close()
	defer ttsSrv.Close()

	sess := session.New("title-1")
	if err := sess.Init("Title", "en", "", "", "assistant", "", "", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	audioCh := make(chan []byte, 1)
	audioCh <- make([]byte, 3200)
	close(audioCh)

	sink := &fakePipelineSink{}
	if err := c.Run(context.Background(), sess, audioCh, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.messages) != 1 {
		t.Fatalf("len(messages) = %d, want 1", len(sink.messages))
	}
	result, ok := sink.messages[0].(protocol.Result)
	if !ok {
		t.Fatalf("messages[0] = %+v, want protocol.Result", sink.messages[0])
	}
	if !result.OK || result.STTText != "what is the weather like" {
		t.Fatalf("result = %+v", result)
	}
	if result.AIText != "It is sunny today." {
		t.Fatalf("result.AIText = %q", result.AIText)
	}
	if result.AudioB64 == "" {
		t.Fatalf("expected AudioB64 to be populated for generic client class")
	}
}

func TestControllerRunAssistantLowBandwidthStreamsPacedAudio(t *testing.T) {
	c, sttSrv, chatSrv, ttsSrv := newAssistantController(t, "tell me a short joke", "here is a joke for you")
	defer sttSrv.Close()
	defer chatSrv.Close()
	defer ttsSrv.Close()

	sess := session.New("title-2")
	if err := sess.Init("Title", "en", "", "", "assistant", "", "", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess.ClientClass = session.ClientLowBandwidthEmbedded

	audioCh := make(chan []byte, 1)
	audioCh <- make([]byte, 3200)
	close(audioCh)

	sink := &fakePipelineSink{}
	if err := c.Run(context.Background(), sess, audioCh, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(sink.binary) == 0 {
		t.Fatalf("expected paced binary frames to be emitted")
	}
	var sawResult, sawStart, sawEnd bool
	for _, m := range sink.messages {
		switch m.(type) {
		case protocol.Result:
			sawResult = true
		case protocol.TTSStart:
			sawStart = true
		case protocol.TTSEnd:
			sawEnd = true
		}
	}
	if !sawResult || !sawStart || !sawEnd {
		t.Fatalf("messages = %+v, want result+tts_start+tts_end", sink.messages)
	}
}

func TestControllerRunAssistantNoAudioReturnsError(t *testing.T) {
	c, sttSrv, chatSrv, ttsSrv := newAssistantController(t, "unused", "unused")
	defer sttSrv.Close()
	defer chatSrv.Close()
	defer ttsSrv.Close()

	sess := session.New("title-3")
	if err := sess.Init("Title", "en", "", "", "assistant", "", "", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	audioCh := make(chan []byte)
	close(audioCh)

	sink := &fakePipelineSink{}
	if err := c.Run(context.Background(), sess, audioCh, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(sink.messages) != 2 {
		t.Fatalf("len(messages) = %d, want 2", len(sink.messages))
	}
	errEvt, ok := sink.messages[0].(protocol.ErrorEvent)
	if !ok || errEvt.Error != "empty_audio" {
		t.Fatalf("messages[0] = %+v", sink.messages[0])
	}
	result, ok := sink.messages[1].(protocol.Result)
	if !ok || result.OK {
		t.Fatalf("messages[1] = %+v", sink.messages[1])
	}
}

func TestControllerRunTranslationFinalizesOnCancel(t *testing.T) {
	sttSrv := newTranscribeStub(t, "hello world.")
	llmSrv := newStaticGenerateStub(t, "xin chao the gioi")
	defer sttSrv.Close()
	defer llmSrv.Close()

	collab := Collaborators{
		STT:   sttengine.NewClient(sttSrv.URL, "en"),
		LLM:   llmengine.NewClient(llmSrv.URL, "test-model"),
		Store: memory.NewInMemoryStore(),
	}
	c := NewController(collab, nil, nil, ttsstream.DefaultConfig())

	sess := session.New("title-4")
	if err := sess.Init("Title", "en", "en", "vi", "translation", "", "", ""); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := sess.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	sess.AppendSrcSegment("already committed", 1)

	ctx, cancel := context.WithCancel(context.Background())
	audioCh := make(chan []byte)

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, sess, audioCh, &fakePipelineSink{}) }()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run() did not return after cancel")
	}

	if !sess.IsStopped() {
		t.Fatalf("expected session to be closed after Run returns")
	}
}
