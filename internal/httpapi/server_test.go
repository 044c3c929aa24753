package httpapi

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/intent"
	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/protocol"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/sttengine"
	"github.com/voxbridge/voxbridge/internal/ttsengine"
	"github.com/voxbridge/voxbridge/internal/ttsstream"
)

func newTestServer(t *testing.T, sttText, llmReply string) (*Server, memory.Store) {
	t.Helper()

	sttSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": sttText})
	}))
	t.Cleanup(sttSrv.Close)

	llmSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for _, ch := range []rune(llmReply) {
			w.Write([]byte(`{"response":"` + string(ch) + `","done":false}` + "\n"))
			flusher.Flush()
		}
		w.Write([]byte(`{"response":"","done":true}` + "\n"))
		flusher.Flush()
	}))
	t.Cleanup(llmSrv.Close)

	ttsSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wav, _ := audio.EncodeWAVPCM16LE(make([]byte, 200), 16000)
		w.Write(wav)
	}))
	t.Cleanup(ttsSrv.Close)

	store := memory.NewInMemoryStore()
	collab := pipeline.Collaborators{
		STT:   sttengine.NewClient(sttSrv.URL, "en"),
		LLM:   llmengine.NewClient(llmSrv.URL, "test-model"),
		TTS:   ttsengine.NewClient(ttsSrv.URL),
		Store: store,
	}
	router := intent.NewRouter(nil, nil, nil, collab.LLM)
	controller := pipeline.NewController(collab, nil, router, ttsstream.DefaultConfig())

	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		Personas: []config.Persona{
			{ID: "warm", Name: "Warm", VoiceID: "af_heart", Language: "en"},
		},
	}
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi_" + strings.NewReplacer(":", "", ".", "").Replace(time.Now().Format("150405.000000000")))

	return New(cfg, sessions, store, controller, metrics), store
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("GET /healthz error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res.StatusCode)
	}

	res2, err := http.Get(ts.URL + "/readyz")
	if err != nil {
		t.Fatalf("GET /readyz error = %v", err)
	}
	defer res2.Body.Close()
	if res2.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", res2.StatusCode)
	}
}

func TestConversationsCRUDAndAudioUpload(t *testing.T) {
	srv, store := newTestServer(t, "hello there", "xin chao")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wav, err := audio.EncodeWAVPCM16LE(make([]byte, 3200), 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("audio", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile() error = %v", err)
	}
	part.Write(wav)
	mw.WriteField("translate_source", "en")
	mw.WriteField("translate_target", "vi")
	mw.WriteField("title_name", "Meeting")
	mw.Close()

	res, err := http.Post(ts.URL+"/v1/conversations/title-1/audio", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("POST audio error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("upload status = %d, want 200", res.StatusCode)
	}

	conv, err := store.GetConversation(t.Context(), "title-1")
	if err != nil {
		t.Fatalf("GetConversation() error = %v", err)
	}
	if conv.CommittedSource != "hello there" || conv.CommittedTarget != "xin chao" {
		t.Fatalf("persisted conversation = %+v", conv)
	}

	getRes, err := http.Get(ts.URL + "/v1/conversations/title-1")
	if err != nil {
		t.Fatalf("GET conversation error = %v", err)
	}
	defer getRes.Body.Close()
	if getRes.StatusCode != http.StatusOK {
		t.Fatalf("GET conversation status = %d, want 200", getRes.StatusCode)
	}

	listRes, err := http.Get(ts.URL + "/v1/conversations")
	if err != nil {
		t.Fatalf("GET conversations error = %v", err)
	}
	defer listRes.Body.Close()
	if listRes.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", listRes.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/v1/conversations/title-1", nil)
	delRes, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE conversation error = %v", err)
	}
	defer delRes.Body.Close()
	if delRes.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d, want 200", delRes.StatusCode)
	}
}

func TestPersonasAndTTSPreview(t *testing.T) {
	srv, _ := newTestServer(t, "", "")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/personas")
	if err != nil {
		t.Fatalf("GET personas error = %v", err)
	}
	defer res.Body.Close()
	var payload struct {
		Personas []personaSummary `json:"personas"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode personas: %v", err)
	}
	if len(payload.Personas) != 1 || payload.Personas[0].ID != "warm" {
		t.Fatalf("personas = %+v", payload.Personas)
	}

	reqBody, _ := json.Marshal(previewTTSRequest{PersonaID: "warm", Text: "hello"})
	previewRes, err := http.Post(ts.URL+"/v1/tts/preview", "application/json", bytes.NewReader(reqBody))
	if err != nil {
		t.Fatalf("POST tts preview error = %v", err)
	}
	defer previewRes.Body.Close()
	if previewRes.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d, want 200", previewRes.StatusCode)
	}
	if ct := previewRes.Header.Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("preview content-type = %q", ct)
	}
}

func TestVoiceWebSocketTranslationFlow(t *testing.T) {
	srv, store := newTestServer(t, "hello world.", "xin chao the gioi")
	ts := httptest.NewServer(srv.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/v1/voice/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()

	mustWriteJSON(t, conn, protocol.Init{
		Type:            protocol.TypeInit,
		TitleID:         "title-ws-1",
		STTLanguage:     "en",
		TranslateSource: "en",
		TranslateTarget: "vi",
		Mode:            "translation",
	})
	initAck := readTypedMessage(t, conn)
	if initAck["type"] != "ack" || initAck["status"] != "initialized" {
		t.Fatalf("init ack = %+v", initAck)
	}

	mustWriteJSON(t, conn, protocol.Start{Type: protocol.TypeStart})
	startAck := readTypedMessage(t, conn)
	if startAck["type"] != "ack" || startAck["status"] != "started" {
		t.Fatalf("start ack = %+v", startAck)
	}

	mustWriteJSON(t, conn, protocol.Stop{Type: protocol.TypeStop})

	deadline := time.Now().Add(5 * time.Second)
	var sawFinal bool
	for time.Now().Before(deadline) {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		msg := readTypedMessageNoFatal(conn)
		if msg == nil {
			continue
		}
		if msg["type"] == "final.result" {
			sawFinal = true
			break
		}
	}
	if !sawFinal {
		t.Fatalf("did not observe a final.result message before timeout")
	}

	if _, err := store.GetConversation(t.Context(), "title-ws-1"); err != nil {
		t.Fatalf("expected conversation to be persisted: %v", err)
	}
}

func mustWriteJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := protocol.MarshalFast(v)
	if err != nil {
		t.Fatalf("MarshalFast() error = %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("WriteMessage() error = %v", err)
	}
}

func readTypedMessage(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	return out
}

func readTypedMessageNoFatal(conn *websocket.Conn) map[string]any {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}
