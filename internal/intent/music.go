package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

var musicTriggerRe = regexp.MustCompile(`\bplay\b|\bput on\b|\blisten to\b`)

// DetectMusicRequest extracts the search query from a "play <song>" style
// utterance. Returns false when no music-request verb is present.
func DetectMusicRequest(utterance string) (string, bool) {
	normalized := normalizeForMatch(utterance)
	if !musicTriggerRe.MatchString(normalized) {
		return "", false
	}
	query := strings.TrimSpace(musicTriggerRe.ReplaceAllString(normalized, ""))
	query = strings.TrimSpace(strings.TrimPrefix(query, "some "))
	if query == "" {
		return "", false
	}
	return query, true
}

type musicSearchResult struct {
	Title    string `json:"title"`
	ID       string `json:"id"`
	StreamURL string `json:"stream_url"`
}

type musicSearchResponse struct {
	Results []musicSearchResult `json:"results"`
}

// MusicPlayer searches a music lookup API, downloads the top-ranked track,
// and transcodes it to the 16 kHz mono PCM16 WAV shape the TTS streamer
// expects for playback.
type MusicPlayer struct {
	searchBaseURL string
	ffmpegPath    string
	client        *http.Client
}

func NewMusicPlayer(searchBaseURL string) *MusicPlayer {
	return &MusicPlayer{
		searchBaseURL: strings.TrimRight(searchBaseURL, "/"),
		ffmpegPath:    "ffmpeg",
		client:        &http.Client{Timeout: 15 * time.Second},
	}
}

// Fetch resolves query to a playable 16 kHz mono PCM16 WAV byte slice.
func (m *MusicPlayer) Fetch(ctx context.Context, query string) ([]byte, string, error) {
	result, err := m.search(ctx, query)
	if err != nil {
		return nil, "", err
	}

	raw, err := m.download(ctx, result.StreamURL)
	if err != nil {
		return nil, "", fmt.Errorf("download %q: %w", result.Title, err)
	}

	wav, err := m.transcode(ctx, raw)
	if err != nil {
		return nil, "", fmt.Errorf("transcode %q: %w", result.Title, err)
	}
	return wav, result.Title, nil
}

func (m *MusicPlayer) search(ctx context.Context, query string) (musicSearchResult, error) {
	url := fmt.Sprintf("%s/search?q=%s", m.searchBaseURL, strings.ReplaceAll(query, " ", "+"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return musicSearchResult{}, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return musicSearchResult{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return musicSearchResult{}, fmt.Errorf("music search http %d", resp.StatusCode)
	}

	var parsed musicSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return musicSearchResult{}, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Results) == 0 {
		return musicSearchResult{}, fmt.Errorf("no results for %q", query)
	}
	return parsed.Results[0], nil
}

func (m *MusicPlayer) download(ctx context.Context, streamURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("stream http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// transcode shells out to ffmpeg: write the source bytes to a temp file,
// invoke the binary, read the produced WAV back.
func (m *MusicPlayer) transcode(ctx context.Context, src []byte) ([]byte, error) {
	inFile, err := os.CreateTemp("", "voxbridge-music-src-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(inFile.Name())
	if _, err := inFile.Write(src); err != nil {
		inFile.Close()
		return nil, err
	}
	inFile.Close()

	outPath := inFile.Name() + ".wav"
	defer os.Remove(outPath)

	cmd := exec.CommandContext(ctx, m.ffmpegPath,
		"-y", "-i", inFile.Name(),
		"-ar", "16000", "-ac", "1", "-f", "wav", "-acodec", "pcm_s16le",
		outPath,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}

	return os.ReadFile(outPath)
}
