package audio

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestEncodeThenDecodeWAVRoundTrips(t *testing.T) {
	pcm := []byte{0x01, 0x00, 0x02, 0x00, 0x03, 0x00}
	wav, err := EncodeWAVPCM16LE(pcm, 16000)
	if err != nil {
		t.Fatalf("EncodeWAVPCM16LE() error = %v", err)
	}

	decoded, err := DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV() error = %v", err)
	}
	if decoded.NumChannels != 1 || decoded.SampleRate != 16000 || decoded.BitsPerSample != 16 {
		t.Fatalf("decoded = %+v", decoded)
	}
	if !bytes.Equal(decoded.Data, pcm) {
		t.Fatalf("decoded.Data = %v, want %v", decoded.Data, pcm)
	}
}

func TestDecodeWAVRejectsNonRIFF(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all")); err == nil {
		t.Fatalf("expected error for non-RIFF input")
	}
}

func TestDownmixToMonoAveragesChannels(t *testing.T) {
	stereo := make([]byte, 8) // 2 frames, 2 channels, 16-bit
	binary.LittleEndian.PutUint16(stereo[0:2], uint16(int16(10)))
	binary.LittleEndian.PutUint16(stereo[2:4], uint16(int16(20)))
	binary.LittleEndian.PutUint16(stereo[4:6], uint16(int16(100)))
	binary.LittleEndian.PutUint16(stereo[6:8], uint16(int16(200)))

	mono := DownmixToMono(stereo, 2)
	if len(mono) != 4 {
		t.Fatalf("len(mono) = %d, want 4", len(mono))
	}
	first := int16(binary.LittleEndian.Uint16(mono[0:2]))
	second := int16(binary.LittleEndian.Uint16(mono[2:4]))
	if first != 15 || second != 150 {
		t.Fatalf("mono samples = %d, %d, want 15, 150", first, second)
	}
}

func TestDownmixToMonoPassesThroughMono(t *testing.T) {
	mono := []byte{0x01, 0x02, 0x03, 0x04}
	got := DownmixToMono(mono, 1)
	if !bytes.Equal(got, mono) {
		t.Fatalf("DownmixToMono() = %v, want passthrough", got)
	}
}
