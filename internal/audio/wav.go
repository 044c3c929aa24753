package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrUnsupportedAudioFormat is returned for WAV data this package cannot
// downmix or rewrap (e.g. non-PCM encodings or bit depths other than 16).
var ErrUnsupportedAudioFormat = errors.New("UnsupportedAudioFormat")

// Decoded is a parsed WAV file's format header plus its raw sample data.
type Decoded struct {
	NumChannels   int
	SampleRate    int
	BitsPerSample int
	Data          []byte
}

// DecodeWAV parses a RIFF/WAVE byte stream far enough to recover the fmt
// chunk and the data chunk, tolerating chunks in any order and chunk sizes
// that lie (the actual data chunk is read to end-of-buffer when its
// declared size disagrees with what follows, which re-wraps malformed
// headers from upstream TTS engines).
func DecodeWAV(raw []byte) (Decoded, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return Decoded{}, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedAudioFormat)
	}

	var (
		d        Decoded
		haveFmt  bool
		haveData bool
	)

	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8

		switch id {
		case "fmt ":
			if body+16 > len(raw) {
				return Decoded{}, fmt.Errorf("%w: truncated fmt chunk", ErrUnsupportedAudioFormat)
			}
			audioFormat := binary.LittleEndian.Uint16(raw[body : body+2])
			d.NumChannels = int(binary.LittleEndian.Uint16(raw[body+2 : body+4]))
			d.SampleRate = int(binary.LittleEndian.Uint32(raw[body+4 : body+8]))
			d.BitsPerSample = int(binary.LittleEndian.Uint16(raw[body+14 : body+16]))
			if audioFormat != 1 {
				return Decoded{}, fmt.Errorf("%w: non-PCM audio format %d", ErrUnsupportedAudioFormat, audioFormat)
			}
			haveFmt = true
		case "data":
			end := body + size
			if size <= 0 || end > len(raw) {
				end = len(raw)
			}
			d.Data = raw[body:end]
			haveData = true
		}

		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}

	if !haveFmt || !haveData {
		return Decoded{}, fmt.Errorf("%w: missing fmt or data chunk", ErrUnsupportedAudioFormat)
	}
	if d.BitsPerSample != 16 {
		return Decoded{}, fmt.Errorf("%w: unsupported bit depth %d", ErrUnsupportedAudioFormat, d.BitsPerSample)
	}
	return d, nil
}

// DownmixToMono arithmetically averages interleaved PCM16LE multi-channel
// samples down to mono, one output sample per input frame.
func DownmixToMono(data []byte, numChannels int) []byte {
	if numChannels <= 1 {
		return data
	}
	frameBytes := numChannels * 2
	frames := len(data) / frameBytes
	out := make([]byte, frames*2)
	for i := 0; i < frames; i++ {
		var sum int32
		for ch := 0; ch < numChannels; ch++ {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(data[off : off+2])))
		}
		avg := int16(sum / int32(numChannels))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(avg))
	}
	return out
}

// EncodeWAVPCM16LE wraps raw PCM16LE mono audio bytes in a WAV container.
func EncodeWAVPCM16LE(pcm []byte, sampleRate int) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVPCM16LETo(&buf, pcm, sampleRate); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVPCM16LEFile writes raw PCM16LE mono audio bytes as a WAV file.
func WriteWAVPCM16LEFile(path string, pcm []byte, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return WriteWAVPCM16LETo(f, pcm, sampleRate)
}

// WriteWAVPCM16LETo writes raw PCM16LE mono audio bytes to out as a WAV stream.
func WriteWAVPCM16LETo(out io.Writer, pcm []byte, sampleRate int) error {
	const (
		numChannels   = 1
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)
	if sampleRate <= 0 {
		sampleRate = 16000
	}

	dataSize := uint32(len(pcm))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	// RIFF header.
	if _, err := w.WriteString("RIFF"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(36)+dataSize); err != nil {
		return err
	}
	if _, err := w.WriteString("WAVE"); err != nil {
		return err
	}

	// fmt chunk.
	if _, err := w.WriteString("fmt "); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(16)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(audioFormat)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(numChannels)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(sampleRate)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, byteRate); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, blockAlign); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(bitsPerSample)); err != nil {
		return err
	}

	// data chunk.
	if _, err := w.WriteString("data"); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, dataSize); err != nil {
		return err
	}
	if _, err := w.Write(pcm); err != nil {
		return err
	}
	return w.Flush()
}
