package audioio

import "testing"

func TestPushFrameRejectsOddLength(t *testing.T) {
	ch := make(chan []byte, 1)
	in := New(ch)
	if err := in.PushFrame([]byte{0x01, 0x02, 0x03}); err != ErrBadAudioEncoding {
		t.Fatalf("err = %v, want ErrBadAudioEncoding", err)
	}
}

func TestPushFrameRejectsEmpty(t *testing.T) {
	ch := make(chan []byte, 1)
	in := New(ch)
	if err := in.PushFrame(nil); err != ErrBadAudioEncoding {
		t.Fatalf("err = %v, want ErrBadAudioEncoding", err)
	}
}

func TestPushFrameBuffersBeforeStart(t *testing.T) {
	ch := make(chan []byte, 1)
	in := New(ch)
	if err := in.PushFrame([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("PushFrame() error = %v", err)
	}
	select {
	case <-ch:
		t.Fatalf("expected no frame forwarded before start")
	default:
	}
}

func TestStartFlushesPreBuffer(t *testing.T) {
	ch := make(chan []byte, 1)
	in := New(ch)
	_ = in.PushFrame([]byte{0x01, 0x02, 0x03, 0x04})
	in.Start()

	select {
	case frame := <-ch:
		if len(frame) != 4 {
			t.Fatalf("frame len = %d, want 4", len(frame))
		}
	default:
		t.Fatalf("expected pre-buffered frame to be flushed on start")
	}
}

func TestPushFrameForwardsWhileActive(t *testing.T) {
	ch := make(chan []byte, 2)
	in := New(ch)
	in.Start()
	if err := in.PushFrame([]byte{0x01, 0x02}); err != nil {
		t.Fatalf("PushFrame() error = %v", err)
	}
	select {
	case <-ch:
	default:
		t.Fatalf("expected frame forwarded while active")
	}
}

func TestPushFrameDroppedAfterStop(t *testing.T) {
	ch := make(chan []byte, 2)
	in := New(ch)
	in.Start()
	in.Stop()
	_ = in.PushFrame([]byte{0x01, 0x02})
	select {
	case <-ch:
		t.Fatalf("expected no frame forwarded after stop")
	default:
	}
	if in.IsActive() {
		t.Fatalf("expected inactive after stop")
	}
}
