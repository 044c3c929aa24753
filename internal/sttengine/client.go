// Package sttengine is the STT collaborator client (spec §6): a black box
// that takes the session's PCM buffer and returns its current best-effort
// cumulative transcript — never an incremental delta.
package sttengine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/reliability"
)

type transcribeResponse struct {
	Text string `json:"text"`
}

// Client posts a WAV-wrapped PCM buffer to the STT endpoint and returns the
// cumulative transcript for that buffer.
type Client struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

func NewClient(baseURL, language string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		language:   language,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// TranscribeCumulative synthesizes pcm (PCM16LE mono) to a temporary WAV and
// asks the STT engine for the full-buffer cumulative transcript.
func (c *Client) TranscribeCumulative(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	wav, err := audio.EncodeWAVPCM16LE(pcm, sampleRate)
	if err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("audio", "buffer.wav")
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", fmt.Errorf("write wav part: %w", err)
	}
	if c.language != "" {
		_ = writer.WriteField("language", c.language)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", &body)
	if err != nil {
		return "", fmt.Errorf("build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcribe request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("transcribe failed: status %d (retryable=%v)", resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode))
	}

	var out transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcribe response: %w", err)
	}
	return out.Text, nil
}
