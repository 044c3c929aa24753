// Package llmengine is the streaming LLM collaborator client (spec §6):
// an Ollama-shaped HTTP NDJSON contract against /api/chat and /api/generate,
// grounded on the reference implementation's ollama_client.py.
package llmengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voxbridge/voxbridge/internal/reliability"
)

// ChatMessage is one turn in a /api/chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  options       `json:"options"`
}

type generateRequest struct {
	Model   string  `json:"model"`
	Prompt  string  `json:"prompt"`
	Stream  bool    `json:"stream"`
	Options options `json:"options"`
}

type options struct {
	Temperature float64 `json:"temperature"`
}

type chatChunk struct {
	Message chatMessageChunk `json:"message"`
	Done    bool             `json:"done"`
}

type chatMessageChunk struct {
	Content string `json:"content"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// modelPriority mirrors the reference implementation's fallback list: prefer
// larger instruction-tuned models, fall back toward the smallest available.
var modelPriority = []string{
	"qwen2.5:32b", "qwen2.5:14b", "qwen2.5:7b",
	"llama3.1:70b", "llama3.1:8b", "llama3:8b",
	"gemma2:27b", "gemma2:9b",
	"mistral:7b",
}

// Client talks to a single Ollama-compatible endpoint.
type Client struct {
	baseURL      string
	configModel  string
	cachedModel  string
	httpClient   *http.Client
}

func NewClient(baseURL, model string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		configModel: model,
		httpClient:  &http.Client{Timeout: 60 * time.Second},
	}
}

// PickModel returns the configured model, or queries /api/tags and chooses
// the first available name in modelPriority order.
func (c *Client) PickModel(ctx context.Context) (string, error) {
	if c.configModel != "" {
		return c.configModel, nil
	}
	if c.cachedModel != "" {
		return c.cachedModel, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return "", fmt.Errorf("build tags request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("query tags: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("tags request failed: status %d", resp.StatusCode)
	}

	var tags tagsResponse
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return "", fmt.Errorf("decode tags: %w", err)
	}
	names := make(map[string]bool, len(tags.Models))
	for _, m := range tags.Models {
		if m.Name != "" {
			names[m.Name] = true
		}
	}
	for _, p := range modelPriority {
		if names[p] {
			c.cachedModel = p
			return p, nil
		}
	}
	if len(tags.Models) > 0 {
		c.cachedModel = tags.Models[0].Name
		return c.cachedModel, nil
	}
	c.cachedModel = "qwen2.5:14b"
	return c.cachedModel, nil
}

// ChatStream streams assistant content deltas from /api/chat. Each delta is
// sent on deltas as it arrives; the function returns once done=true or the
// context is cancelled.
func (c *Client) ChatStream(ctx context.Context, messages []ChatMessage, deltas chan<- string) error {
	model, err := c.PickModel(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
		Options:  options{Temperature: 0.2},
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("chat request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("chat request failed: status %d (retryable=%v)", resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode chat chunk: %w", err)
		}
		if chunk.Message.Content != "" {
			select {
			case deltas <- chunk.Message.Content:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if chunk.Done {
			return nil
		}
	}
	return scanner.Err()
}

// GenerateStream streams a raw-prompt completion from /api/generate, used
// by the translation worker for each committed segment (no multi-turn chat
// history).
func (c *Client) GenerateStream(ctx context.Context, prompt string, deltas chan<- string) error {
	model, err := c.PickModel(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  true,
		Options: options{Temperature: 0.2},
	})
	if err != nil {
		return fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("generate request failed: status %d (retryable=%v)", resp.StatusCode, reliability.IsRetryableHTTPStatus(resp.StatusCode))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return fmt.Errorf("decode generate chunk: %w", err)
		}
		if chunk.Response != "" {
			select {
			case deltas <- chunk.Response:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if chunk.Done {
			return nil
		}
	}
	return scanner.Err()
}

// Generate performs a non-streaming completion and returns the full text,
// used by the finalizer's reconciliation pass, the summary worker, and the
// batch audio-upload endpoint.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	model, err := c.PickModel(ctx)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(generateRequest{
		Model:   model,
		Prompt:  prompt,
		Stream:  false,
		Options: options{Temperature: 0.2},
	})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("generate request failed: status %d", resp.StatusCode)
	}

	// The body is read as one or more JSON objects; their response fields are
	// concatenated up to the object marked done (or the end of the body).
	dec := json.NewDecoder(resp.Body)
	var out strings.Builder
	for n := 0; ; n++ {
		var chunk generateChunk
		if err := dec.Decode(&chunk); err != nil {
			if err == io.EOF && n > 0 {
				break
			}
			return "", fmt.Errorf("decode generate response: %w", err)
		}
		out.WriteString(chunk.Response)
		if chunk.Done {
			break
		}
	}
	return strings.TrimSpace(out.String()), nil
}
