package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// MessageType identifies websocket payload variants.
type MessageType string

const (
	TypeInit       MessageType = "init"
	TypeStart      MessageType = "start"
	TypeAudioChunk MessageType = "audio.chunk"
	TypeStop       MessageType = "stop"
	TypeUttCommit  MessageType = "utt.commit"

	TypeAck               MessageType = "ack"
	TypeSTTDelta          MessageType = "stt.delta"
	TypeSTTCommit         MessageType = "stt.commit"
	TypeTranslationDelta  MessageType = "translation.delta"
	TypeTranslationCommit MessageType = "translation.commit"
	TypeSummaryUpdate     MessageType = "summary.update"
	TypeFinalResult       MessageType = "final.result"
	TypeTTSStart          MessageType = "tts_start"
	TypeTTSEnd            MessageType = "tts_end"
	TypeChatStart         MessageType = "chat.start"
	TypeChatDelta         MessageType = "chat.delta"
	TypeChatDone          MessageType = "chat.done"
	TypeChatError         MessageType = "chat.error"
	TypeResult            MessageType = "result"
	TypeError             MessageType = "error"
)

var (
	ErrUnsupportedType  = errors.New("unsupported message type")
	ErrMissingField     = errors.New("missing required field")
	ErrInvalidLanguage  = errors.New("translate_source equals translate_target")
	ErrBadAudio         = errors.New("malformed audio chunk")
)

// fastJSON is used for the hot-path delta/draft messages (stt.delta,
// translation.delta) which are emitted at STT-tick and LLM-chunk frequency.
var fastJSON = sonic.ConfigFastest

// Envelope is the minimal shape every inbound/outbound message shares.
type Envelope struct {
	Type MessageType `json:"type"`
}

// --- Inbound ---

type Init struct {
	Type            MessageType `json:"type"`
	TitleID         string      `json:"title_id"`
	TitleName       string      `json:"title_name,omitempty"`
	STTLanguage     string      `json:"stt_language"`
	TranslateSource string      `json:"translate_source,omitempty"`
	TranslateTarget string      `json:"translate_target,omitempty"`
	Mode            string      `json:"mode,omitempty"`
	ClientClass     string      `json:"client,omitempty"`
}

type Start struct {
	Type     MessageType `json:"type"`
	Language string      `json:"language,omitempty"`
	Client   string      `json:"client,omitempty"`
}

type AudioChunk struct {
	Type       MessageType `json:"type"`
	PCM16B64   string      `json:"pcm16_b64"`
	SampleRate int         `json:"sample_rate,omitempty"`
}

type Stop struct {
	Type MessageType `json:"type"`
}

// --- Outbound ---

type Ack struct {
	Type   MessageType `json:"type"`
	Status string      `json:"status"`
}

type STTDelta struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type STTCommit struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type TranslationDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type TranslationCommit struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

type SummaryUpdate struct {
	Type    MessageType `json:"type"`
	Summary string      `json:"summary"`
}

type FinalResult struct {
	Type    MessageType `json:"type"`
	Source  string      `json:"source"`
	Target  string      `json:"target"`
	Summary string      `json:"summary,omitempty"`
}

type TTSStart struct {
	Type          MessageType `json:"type"`
	AudioFormat   string      `json:"audio_format"`
	SampleRate    int         `json:"sample_rate"`
	Channels      int         `json:"channels"`
	BitsPerSample int         `json:"bits_per_sample"`
}

type TTSEnd struct {
	Type MessageType `json:"type"`
}

type ChatStart struct {
	Type MessageType `json:"type"`
}

type ChatDelta struct {
	Type  MessageType `json:"type"`
	Delta string      `json:"delta"`
}

type ChatDone struct {
	Type MessageType `json:"type"`
}

type ChatError struct {
	Type  MessageType `json:"type"`
	Error string      `json:"error"`
}

type Result struct {
	Type         MessageType `json:"type"`
	OK           bool        `json:"ok"`
	STTText      string      `json:"stt_text"`
	AIText       string      `json:"ai_text"`
	DeviceAction string      `json:"device_action,omitempty"`
	DeviceResult string      `json:"device_result,omitempty"`
	SensorQuery  string      `json:"sensor_query,omitempty"`
	SensorResult string      `json:"sensor_result,omitempty"`
	AudioB64     string      `json:"audio_b64,omitempty"`
	AudioMime    string      `json:"audio_mime,omitempty"`
}

type ErrorEvent struct {
	Type   MessageType `json:"type"`
	Error  string      `json:"error"`
	Detail string      `json:"detail,omitempty"`
}

type inbound struct {
	Type            MessageType `json:"type"`
	TitleID         string      `json:"title_id"`
	TitleName       string      `json:"title_name"`
	STTLanguage     string      `json:"stt_language"`
	TranslateSource string      `json:"translate_source"`
	TranslateTarget string      `json:"translate_target"`
	Mode            string      `json:"mode"`
	Client          string      `json:"client"`
	Language        string      `json:"language"`
	PCM16B64        string      `json:"pcm16_b64"`
	SampleRate      int         `json:"sample_rate"`
}

// ParseClientMessage decodes a raw JSON text frame into one of the inbound
// control message types. Binary frames (raw PCM) are handled separately by
// the websocket gateway and never reach this function.
func ParseClientMessage(raw []byte) (any, error) {
	var in inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch in.Type {
	case TypeInit:
		if in.TitleID == "" || in.STTLanguage == "" {
			return nil, fmt.Errorf("invalid init: title_id and stt_language are required: %w", ErrMissingField)
		}
		if in.TranslateSource != "" && in.TranslateSource == in.TranslateTarget {
			return nil, fmt.Errorf("invalid init: %w", ErrInvalidLanguage)
		}
		return Init{
			Type:            TypeInit,
			TitleID:         in.TitleID,
			TitleName:       in.TitleName,
			STTLanguage:     in.STTLanguage,
			TranslateSource: in.TranslateSource,
			TranslateTarget: in.TranslateTarget,
			Mode:            in.Mode,
			ClientClass:     in.Client,
		}, nil
	case TypeStart:
		return Start{Type: TypeStart, Language: in.Language, Client: in.Client}, nil
	case TypeAudioChunk:
		if in.PCM16B64 == "" {
			return nil, fmt.Errorf("invalid audio.chunk: %w", ErrBadAudio)
		}
		return AudioChunk{Type: TypeAudioChunk, PCM16B64: in.PCM16B64, SampleRate: in.SampleRate}, nil
	case TypeStop, TypeUttCommit:
		return Stop{Type: in.Type}, nil
	default:
		return nil, ErrUnsupportedType
	}
}

// MarshalFast encodes hot-path outbound messages (stt.delta, translation.delta)
// with sonic's fastest configuration instead of encoding/json.
func MarshalFast(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}
