package ttsengine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSynthesizeReturnsWAVBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req synthesizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Text != "hello" || req.VoiceID != "v1" {
			t.Fatalf("unexpected request: %+v", req)
		}
		w.Write([]byte("RIFF....WAVEfmt "))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	wav, err := c.Synthesize(context.Background(), "hello", "v1")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if string(wav[:4]) != "RIFF" {
		t.Fatalf("wav = %q, want RIFF header", wav)
	}
}

func TestSynthesizeReturnsErrorOnNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Synthesize(context.Background(), "hello", ""); err == nil {
		t.Fatalf("expected error for 503 response")
	}
}
