// Command voxbridgectl drives a voxbridge server over its real wire
// protocol: it synthesizes synthetic utterance audio through the TTS
// preview endpoint, replays it as a paced websocket session, and reports
// the commit/final events observed along the way. Grounded on the
// teacher's perfvoice load-replay tool, adapted from its turn-based
// session/preview/websocket HTTP contract to this protocol's
// init/start/audio.chunk/stop handshake.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/protocol"
)

type options struct {
	baseURL         string
	titleID         string
	titleName       string
	sttLanguage     string
	translateSource string
	translateTarget string
	mode            string
	personaID       string
	turns           int
	chunkMS         int
	realtime        float64
	startDelay      time.Duration
	interTurnDelay  time.Duration
	finalTimeout    time.Duration
	texts           []string
	listPersonas    bool
	verbose         bool
}

type personaSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	VoiceID   string `json:"voice_id"`
	Language  string `json:"language"`
	StylePack string `json:"style_pack,omitempty"`
}

type previewRequest struct {
	PersonaID string `json:"persona_id,omitempty"`
	Text      string `json:"text"`
}

type audioClip struct {
	Text       string
	PCM16LE    []byte
	SampleRate int
}

var defaultUtterances = []string{
	"Good morning, thank you for joining the call today.",
	"Let's walk through the quarterly numbers first.",
	"I will follow up with the notes by email this afternoon.",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxbridgectl: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "voxbridgectl: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string
	var startDelayMS, interTurnMS, finalTimeoutMS int

	flag.StringVar(&cfg.baseURL, "base-url", "http://127.0.0.1:8080", "voxbridge base URL")
	flag.StringVar(&cfg.titleID, "title-id", "voxbridgectl-replay", "title_id for the synthetic session")
	flag.StringVar(&cfg.titleName, "title-name", "", "optional title_name for the synthetic session")
	flag.StringVar(&cfg.sttLanguage, "stt-language", "en", "stt_language for init")
	flag.StringVar(&cfg.translateSource, "translate-source", "en", "translate_source for init")
	flag.StringVar(&cfg.translateTarget, "translate-target", "vi", "translate_target for init")
	flag.StringVar(&cfg.mode, "mode", "translation", "session mode: translation|assistant")
	flag.StringVar(&cfg.personaID, "persona-id", "", "persona_id used to synthesize replay audio via /v1/tts/preview")
	flag.IntVar(&cfg.turns, "turns", 3, "number of utterance turns to replay")
	flag.IntVar(&cfg.chunkMS, "chunk-ms", 40, "audio chunk size in milliseconds")
	flag.Float64Var(&cfg.realtime, "realtime", 3.0, "chunk pacing multiplier (1.0=realtime, 2.0=2x)")
	flag.IntVar(&startDelayMS, "start-delay-ms", 300, "delay after start ack before the first turn")
	flag.IntVar(&interTurnMS, "inter-turn-ms", 1200, "silence gap between turns (must exceed the server's pause-commit threshold)")
	flag.IntVar(&finalTimeoutMS, "final-timeout-ms", 15000, "timeout waiting for final.result after stop")
	flag.StringVar(&textsRaw, "texts", "", "utterances separated by '|' (optional, overrides the defaults)")
	flag.BoolVar(&cfg.listPersonas, "list-personas", false, "list configured personas and exit")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print replay progress")
	flag.Parse()

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return options{}, fmt.Errorf("base-url is required")
	}
	if cfg.listPersonas {
		return cfg, nil
	}
	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.chunkMS < 10 || cfg.chunkMS > 2000 {
		return options{}, fmt.Errorf("chunk-ms must be in [10,2000]")
	}
	if cfg.realtime <= 0 {
		return options{}, fmt.Errorf("realtime must be > 0")
	}
	if startDelayMS < 0 {
		startDelayMS = 0
	}
	if interTurnMS < 0 {
		interTurnMS = 0
	}
	if finalTimeoutMS < 1000 {
		finalTimeoutMS = 1000
	}
	cfg.startDelay = time.Duration(startDelayMS) * time.Millisecond
	cfg.interTurnDelay = time.Duration(interTurnMS) * time.Millisecond
	cfg.finalTimeout = time.Duration(finalTimeoutMS) * time.Millisecond

	if strings.TrimSpace(textsRaw) == "" {
		cfg.texts = append([]string(nil), defaultUtterances...)
	} else {
		for _, part := range strings.Split(textsRaw, "|") {
			if t := strings.TrimSpace(part); t != "" {
				cfg.texts = append(cfg.texts, t)
			}
		}
		if len(cfg.texts) == 0 {
			return options{}, fmt.Errorf("texts produced no non-empty utterances")
		}
	}
	return cfg, nil
}

func run(cfg options) error {
	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Minute)
	defer cancel()

	httpClient := &http.Client{Timeout: 45 * time.Second}

	if cfg.listPersonas {
		return listPersonas(ctx, httpClient, cfg.baseURL)
	}

	clips, err := synthClips(ctx, httpClient, cfg)
	if err != nil {
		return fmt.Errorf("prepare utterance audio: %w", err)
	}

	wsURL, err := wsURL(cfg.baseURL)
	if err != nil {
		return fmt.Errorf("build ws URL: %w", err)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("open websocket: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.Init{
		Type:            protocol.TypeInit,
		TitleID:         cfg.titleID,
		TitleName:       cfg.titleName,
		STTLanguage:     cfg.sttLanguage,
		TranslateSource: cfg.translateSource,
		TranslateTarget: cfg.translateTarget,
		Mode:            cfg.mode,
	}); err != nil {
		return fmt.Errorf("send init: %w", err)
	}
	if err := expectAck(conn, "initialized"); err != nil {
		return err
	}

	if err := conn.WriteJSON(protocol.Start{Type: protocol.TypeStart}); err != nil {
		return fmt.Errorf("send start: %w", err)
	}
	if err := expectAck(conn, "started"); err != nil {
		return err
	}
	if cfg.verbose {
		fmt.Printf("voxbridgectl: session started title_id=%s mode=%s turns=%d\n", cfg.titleID, cfg.mode, cfg.turns)
	}

	finalCh := make(chan map[string]any, 1)
	readErrCh := make(chan error, 1)
	go readLoop(conn, finalCh, readErrCh, cfg.verbose)

	if cfg.startDelay > 0 {
		time.Sleep(cfg.startDelay)
	}

	for i := 0; i < cfg.turns; i++ {
		select {
		case err := <-readErrCh:
			return fmt.Errorf("ws read: %w", err)
		default:
		}

		clip := clips[i%len(clips)]
		if cfg.verbose {
			fmt.Printf("voxbridgectl: turn %d/%d text=%q bytes=%d\n", i+1, cfg.turns, clip.Text, len(clip.PCM16LE))
		}
		if err := sendAudioPaced(conn, clip, cfg.chunkMS, cfg.realtime); err != nil {
			return fmt.Errorf("turn %d send audio: %w", i+1, err)
		}
		if cfg.interTurnDelay > 0 && i < cfg.turns-1 {
			time.Sleep(cfg.interTurnDelay)
		}
	}

	if err := conn.WriteJSON(protocol.Stop{Type: protocol.TypeStop}); err != nil {
		return fmt.Errorf("send stop: %w", err)
	}

	select {
	case final := <-finalCh:
		if cfg.verbose {
			fmt.Printf("voxbridgectl: final.result source=%q target=%q\n", final["source"], final["target"])
		}
	case err := <-readErrCh:
		return fmt.Errorf("ws read: %w", err)
	case <-time.After(cfg.finalTimeout):
		return fmt.Errorf("timeout waiting for final.result after %s", cfg.finalTimeout)
	}

	fmt.Println("voxbridgectl: replay completed")
	return nil
}

func expectAck(conn *websocket.Conn, status string) error {
	_, data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read ack: %w", err)
	}
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode ack: %w", err)
	}
	if env["type"] != string(protocol.TypeAck) || env["status"] != status {
		return fmt.Errorf("unexpected response waiting for ack status=%q: %v", status, env)
	}
	return nil
}

func readLoop(conn *websocket.Conn, finalCh chan<- map[string]any, readErrCh chan<- error, verbose bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case readErrCh <- err:
			default:
			}
			return
		}
		var env map[string]any
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env["type"] {
		case string(protocol.TypeSTTCommit), string(protocol.TypeTranslationCommit), string(protocol.TypeSummaryUpdate):
			if verbose {
				fmt.Printf("voxbridgectl: event type=%v payload=%v\n", env["type"], env)
			}
		case string(protocol.TypeFinalResult):
			select {
			case finalCh <- env:
			default:
			}
		case string(protocol.TypeError):
			if verbose {
				fmt.Fprintf(os.Stderr, "voxbridgectl: error_event=%v\n", env)
			}
		}
	}
}

func sendAudioPaced(conn *websocket.Conn, clip audioClip, chunkMS int, realtime float64) error {
	sampleRate := clip.SampleRate
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	bytesPerChunk := sampleRate * 2 * chunkMS / 1000
	if bytesPerChunk < 2 {
		bytesPerChunk = 2
	}
	if bytesPerChunk%2 != 0 {
		bytesPerChunk++
	}

	for off := 0; off < len(clip.PCM16LE); {
		end := off + bytesPerChunk
		if end > len(clip.PCM16LE) {
			end = len(clip.PCM16LE)
		}
		if (end-off)%2 != 0 {
			end--
		}
		if end <= off {
			break
		}
		chunk := clip.PCM16LE[off:end]
		msg := protocol.AudioChunk{
			Type:       protocol.TypeAudioChunk,
			PCM16B64:   base64.StdEncoding.EncodeToString(chunk),
			SampleRate: sampleRate,
		}
		if err := conn.WriteJSON(msg); err != nil {
			return err
		}
		off = end

		chunkDuration := time.Duration(float64(time.Duration(len(chunk))*time.Second/time.Duration(sampleRate*2)) / realtime)
		if chunkDuration <= 0 {
			chunkDuration = 10 * time.Millisecond
		}
		time.Sleep(chunkDuration)
	}
	return nil
}

func listPersonas(ctx context.Context, client *http.Client, baseURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/v1/personas", nil)
	if err != nil {
		return err
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	var payload struct {
		Personas []personaSummary `json:"personas"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		return err
	}
	for _, p := range payload.Personas {
		fmt.Printf("%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Language, p.VoiceID)
	}
	return nil
}

func synthClips(ctx context.Context, client *http.Client, cfg options) ([]audioClip, error) {
	cache := make(map[string]audioClip, len(cfg.texts))
	out := make([]audioClip, 0, len(cfg.texts))
	for _, text := range cfg.texts {
		if existing, ok := cache[text]; ok {
			out = append(out, existing)
			continue
		}
		clip, err := synthClip(ctx, client, cfg, text)
		if err != nil {
			return nil, err
		}
		cache[text] = clip
		out = append(out, clip)
	}
	return out, nil
}

func synthClip(ctx context.Context, client *http.Client, cfg options, text string) (audioClip, error) {
	payload, err := json.Marshal(previewRequest{PersonaID: cfg.personaID, Text: text})
	if err != nil {
		return audioClip{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/v1/tts/preview", bytes.NewReader(payload))
	if err != nil {
		return audioClip{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return audioClip{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, 40<<20))
	if err != nil {
		return audioClip{}, err
	}
	if res.StatusCode != http.StatusOK {
		return audioClip{}, fmt.Errorf("preview %q HTTP %d: %s", text, res.StatusCode, strings.TrimSpace(string(body)))
	}

	pcm, sampleRate, err := decodeWAVPCM16(body)
	if err != nil {
		return audioClip{}, fmt.Errorf("decode preview wav for %q: %w", text, err)
	}
	if len(pcm) == 0 {
		return audioClip{}, fmt.Errorf("preview wav for %q produced no PCM bytes", text)
	}
	return audioClip{Text: text, PCM16LE: pcm, SampleRate: sampleRate}, nil
}

func wsURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", err
	}
	switch strings.ToLower(u.Scheme) {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported base-url scheme %q", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return "", fmt.Errorf("base-url host is required")
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/voice/ws"
	return u.String(), nil
}

func decodeWAVPCM16(data []byte) ([]byte, int, error) {
	if len(data) < 12 {
		return nil, 0, fmt.Errorf("wav too short")
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("unsupported wav header")
	}

	var (
		haveFmt     bool
		audioFormat uint16
		channels    uint16
		sampleRate  int
		bitsPerSamp uint16
		pcmData     []byte
	)
	for off := 12; off+8 <= len(data); {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		off += 8
		if size < 0 || off+size > len(data) {
			return nil, 0, fmt.Errorf("invalid wav chunk size")
		}
		chunk := data[off : off+size]
		switch id {
		case "fmt ":
			if len(chunk) < 16 {
				return nil, 0, fmt.Errorf("invalid wav fmt chunk")
			}
			audioFormat = binary.LittleEndian.Uint16(chunk[0:2])
			channels = binary.LittleEndian.Uint16(chunk[2:4])
			sampleRate = int(binary.LittleEndian.Uint32(chunk[4:8]))
			bitsPerSamp = binary.LittleEndian.Uint16(chunk[14:16])
			haveFmt = true
		case "data":
			pcmData = append(pcmData[:0], chunk...)
		}
		off += size
		if size%2 == 1 {
			off++
		}
	}
	if !haveFmt {
		return nil, 0, fmt.Errorf("wav fmt chunk missing")
	}
	if len(pcmData) == 0 {
		return nil, 0, fmt.Errorf("wav data chunk missing")
	}
	if audioFormat != 1 {
		return nil, 0, fmt.Errorf("unsupported wav audio format %d", audioFormat)
	}
	if bitsPerSamp != 16 {
		return nil, 0, fmt.Errorf("unsupported wav bits_per_sample %d", bitsPerSamp)
	}
	if channels == 0 {
		return nil, 0, fmt.Errorf("invalid wav channels=0")
	}
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	if channels == 1 {
		if len(pcmData)%2 != 0 {
			pcmData = pcmData[:len(pcmData)-1]
		}
		return pcmData, sampleRate, nil
	}

	frameBytes := int(channels) * 2
	if frameBytes <= 0 || len(pcmData) < frameBytes {
		return nil, 0, fmt.Errorf("invalid wav frame bytes")
	}
	frameCount := len(pcmData) / frameBytes
	mono := make([]byte, frameCount*2)
	for i := 0; i < frameCount; i++ {
		base := i * frameBytes
		sum := 0
		for ch := 0; ch < int(channels); ch++ {
			s := int16(binary.LittleEndian.Uint16(pcmData[base+ch*2 : base+ch*2+2]))
			sum += int(s)
		}
		avg := int16(sum / int(channels))
		binary.LittleEndian.PutUint16(mono[i*2:i*2+2], uint16(avg))
	}
	return mono, sampleRate, nil
}
