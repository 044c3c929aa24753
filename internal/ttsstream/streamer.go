// Package ttsstream implements the TTS Streamer (C8): normalizing a
// synthesized WAV payload and emitting it to the client in the shape the
// session's client_class expects (spec §4.8).
package ttsstream

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/protocol"
)

// Sink receives outbound websocket messages; binary frames are passed as
// []byte, structured messages as one of the protocol.* types.
type Sink interface {
	Send(msg any) error
	SendBinary(frame []byte) error
}

// Config carries the paced-streaming tuning knobs (spec §6 VI_ESP_TTS_STREAM_*).
type Config struct {
	ChunkBytes      int
	PrefillChunks   int
	PaceFactor      float64
	LeadSilenceMS   int
	SampleRate      int
}

func DefaultConfig() Config {
	return Config{ChunkBytes: 4096, PrefillChunks: 2, PaceFactor: 1.0, LeadSilenceMS: 120, SampleRate: 16000}
}

// Streamer normalizes a WAV payload (re-wrap, downmix) and emits it per the
// client's emission mode.
type Streamer struct {
	cfg Config
}

func New(cfg Config) *Streamer {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = 4096
	}
	if cfg.PrefillChunks <= 0 {
		cfg.PrefillChunks = 1
	}
	if cfg.PaceFactor <= 0 {
		cfg.PaceFactor = 1.0
	}
	return &Streamer{cfg: cfg}
}

// normalize decodes the TTS engine's WAV bytes, downmixes to mono, and
// prepends the configured lead silence.
func (s *Streamer) normalize(wav []byte) (audio.Decoded, error) {
	decoded, err := audio.DecodeWAV(wav)
	if err != nil {
		return audio.Decoded{}, err
	}
	pcm := audio.DownmixToMono(decoded.Data, decoded.NumChannels)

	if s.cfg.LeadSilenceMS > 0 {
		silenceSamples := decoded.SampleRate * s.cfg.LeadSilenceMS / 1000
		silence := make([]byte, silenceSamples*2)
		pcm = append(silence, pcm...)
	}

	return audio.Decoded{
		NumChannels:   1,
		SampleRate:    decoded.SampleRate,
		BitsPerSample: 16,
		Data:          pcm,
	}, nil
}

// EncodeGeneric normalizes wav (rewrap, downmix, lead silence) and returns
// it base64-encoded, the payload shape the "generic" client class's single
// result message carries.
func (s *Streamer) EncodeGeneric(wav []byte) (string, error) {
	decoded, err := s.normalize(wav)
	if err != nil {
		return "", err
	}
	rewrapped, err := audio.EncodeWAVPCM16LE(decoded.Data, decoded.SampleRate)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(rewrapped), nil
}

// EmitGeneric sends the entire synthesized reply as one base64-wrapped
// payload (spec's "generic" client class).
func (s *Streamer) EmitGeneric(sink Sink, wav []byte, mime string) error {
	b64, err := s.EncodeGeneric(wav)
	if err != nil {
		return err
	}
	return sink.Send(protocol.Result{
		Type:      protocol.TypeResult,
		OK:        true,
		AudioB64:  b64,
		AudioMime: mime,
	})
}

// EmitPaced streams `tts_start`, a sequence of binary PCM16 frames (the
// first PrefillChunks shipped back-to-back, the rest paced to
// chunk_duration*PaceFactor), then `tts_end`. cancel is polled between
// chunks so mid-stream cancellation is honored (spec §4.8).
func (s *Streamer) EmitPaced(ctx context.Context, sink Sink, wav []byte, cancel func() bool) error {
	decoded, err := s.normalize(wav)
	if err != nil {
		return err
	}

	if err := sink.Send(protocol.TTSStart{
		Type:          protocol.TypeTTSStart,
		AudioFormat:   "pcm_s16le",
		SampleRate:    decoded.SampleRate,
		Channels:      1,
		BitsPerSample: 16,
	}); err != nil {
		return err
	}

	chunkBytes := s.cfg.ChunkBytes
	if chunkBytes%2 != 0 {
		chunkBytes++ // keep chunks aligned to 16-bit samples
	}
	chunkDuration := time.Duration(float64(chunkBytes/2) / float64(decoded.SampleRate) * float64(time.Second))
	paceDelay := time.Duration(float64(chunkDuration) * s.cfg.PaceFactor)

	data := decoded.Data
	for i := 0; i*chunkBytes < len(data); i++ {
		if cancel != nil && cancel() {
			break
		}
		start := i * chunkBytes
		end := start + chunkBytes
		if end > len(data) {
			end = len(data)
		}
		if err := sink.SendBinary(data[start:end]); err != nil {
			return err
		}

		if i+1 >= s.cfg.PrefillChunks {
			select {
			case <-ctx.Done():
				return sink.Send(protocol.TTSEnd{Type: protocol.TypeTTSEnd})
			case <-time.After(paceDelay):
			}
		}
	}

	return sink.Send(protocol.TTSEnd{Type: protocol.TypeTTSEnd})
}
