// Package audioio implements the Audio Ingress (C2): it sits between the
// websocket gateway and the STT worker, buffering PCM frames that arrive
// before `start`, and feeding an audio channel once the session is active.
package audioio

import (
	"errors"
	"sync"
)

// ErrBadAudioEncoding is returned when an inbound binary frame cannot be
// accepted as opaque PCM16LE (e.g. zero-length or an odd byte count, which
// cannot represent whole 16-bit samples).
var ErrBadAudioEncoding = errors.New("BadAudioEncoding")

// preBufferCap bounds how much audio arriving before `start` is retained,
// avoiding unbounded growth if a client stalls before sending `start`.
const preBufferCap = 64 * 1024

type ingressState int

const (
	stateNotStarted ingressState = iota
	stateActive
	stateStopped
)

// Ingress buffers and validates inbound PCM frames for one session and
// forwards accepted frames onto audioChan once the session is active.
type Ingress struct {
	mu        sync.Mutex
	state     ingressState
	preBuffer []byte
	audioChan chan<- []byte
}

// New returns an Ingress that feeds accepted PCM frames onto audioChan.
// audioChan is expected to be a bounded channel owned by the session's
// supervisor; Ingress never closes it.
func New(audioChan chan<- []byte) *Ingress {
	return &Ingress{audioChan: audioChan}
}

// Start marks the session active and flushes any pre-buffered audio onto
// audioChan as a single prepended frame, avoiding first-syllable clipping.
func (in *Ingress) Start() {
	in.mu.Lock()
	in.state = stateActive
	pre := in.preBuffer
	in.preBuffer = nil
	in.mu.Unlock()

	if len(pre) > 0 {
		select {
		case in.audioChan <- pre:
		default:
		}
	}
}

// Stop marks the session inactive; subsequent frames are silently dropped
// rather than buffered (there is no "after stop" replay semantics in the
// spec, unlike the pre-`start` buffering case).
func (in *Ingress) Stop() {
	in.mu.Lock()
	in.state = stateStopped
	in.preBuffer = nil
	in.mu.Unlock()
}

// PushFrame validates and routes one inbound binary PCM frame. Before
// `start`, frames are appended to a capped pre-buffer. After `start`, frames
// are pushed onto audioChan (dropped if the channel is full, since STT
// throughput bounds the channel's natural drain rate, never Ingress itself).
// After `stop`, frames are silently dropped per spec §4.2.
func (in *Ingress) PushFrame(pcm []byte) error {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return ErrBadAudioEncoding
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	switch in.state {
	case stateStopped:
		return nil
	case stateNotStarted:
		if len(in.preBuffer)+len(pcm) > preBufferCap {
			return nil
		}
		in.preBuffer = append(in.preBuffer, pcm...)
		return nil
	}

	frame := make([]byte, len(pcm))
	copy(frame, pcm)
	select {
	case in.audioChan <- frame:
	default:
	}
	return nil
}

// IsActive reports whether the ingress is currently forwarding frames.
func (in *Ingress) IsActive() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state == stateActive
}
