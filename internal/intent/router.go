// Package intent implements the assistant-flavor Intent Router (C7): given
// a full utterance transcript, classify it into a device command, a sensor
// query, a music request, or free-form chat, and produce the canonical
// English reply text for the TTS streamer.
package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/voxbridge/voxbridge/internal/llmengine"
)

// Branch identifies which classifier handled an utterance.
type Branch string

const (
	BranchDevice   Branch = "device"
	BranchSensor   Branch = "sensor"
	BranchMusic    Branch = "music"
	BranchFreeform Branch = "freeform"
)

// Reply is the router's output: the canonical English text, which branch
// produced it, and (for music) the audio payload to play instead of TTS.
type Reply struct {
	Branch    Branch
	Text      string
	MusicWAV  []byte
	MusicName string
}

const defaultAssistantSystemPrompt = "You are Vi Assistant. Reply with plain text only. " +
	"Always respond in English. Do not use emojis, icons, or markdown. " +
	"Keep responses concise and natural."

// Router dispatches an utterance across the branches in a fixed order
// (device, sensor, music, free-form) and applies the rule-guard
// retry/sanitize pass to free-form replies.
type Router struct {
	relay        *DeviceRelay
	sensor       *SensorProbe
	music        *MusicPlayer
	llm          *llmengine.Client
	systemPrompt string
	maxChars     int
	maxSentences int
	retries      int
}

type Option func(*Router)

func WithSystemPrompt(prompt string) Option {
	return func(r *Router) { r.systemPrompt = prompt }
}

func WithRuleGuard(maxChars, maxSentences, retries int) Option {
	return func(r *Router) {
		r.maxChars = maxChars
		r.maxSentences = maxSentences
		r.retries = retries
	}
}

func NewRouter(relay *DeviceRelay, sensor *SensorProbe, music *MusicPlayer, llm *llmengine.Client, opts ...Option) *Router {
	r := &Router{
		relay:        relay,
		sensor:       sensor,
		music:        music,
		llm:          llm,
		systemPrompt: defaultAssistantSystemPrompt,
		maxChars:     400,
		maxSentences: 3,
		retries:      1,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Handle classifies utterance and produces the reply. history is the
// bounded recent conversation (oldest first) used for the free-form branch.
func (r *Router) Handle(ctx context.Context, utterance string, history []llmengine.ChatMessage) (Reply, error) {
	if cmd, ok := DetectDeviceCommand(utterance); ok {
		result := r.relay.Apply(ctx, cmd)
		return Reply{Branch: BranchDevice, Text: r.deviceReplyText(cmd, result)}, nil
	}

	if query, ok := DetectSensorQuery(utterance); ok {
		reading, err := r.sensor.Read(ctx)
		if err != nil {
			return Reply{Branch: BranchSensor, Text: "I could not read temperature and humidity right now."}, nil
		}
		return Reply{Branch: BranchSensor, Text: FormatSensorReply(reading, query)}, nil
	}

	if query, ok := DetectMusicRequest(utterance); ok && r.music != nil {
		wav, title, err := r.music.Fetch(ctx, query)
		if err != nil {
			return Reply{Branch: BranchMusic, Text: fmt.Sprintf("I could not find a track for %q.", query)}, nil
		}
		return Reply{Branch: BranchMusic, Text: fmt.Sprintf("Playing %s.", title), MusicWAV: wav, MusicName: title}, nil
	}

	text, err := r.freeform(ctx, utterance, history)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Branch: BranchFreeform, Text: text}, nil
}

func (r *Router) deviceReplyText(cmd DeviceCommand, result RelayResult) string {
	state := "on"
	if cmd.State == DeviceOff {
		state = "off"
	}
	if len(cmd.Rooms) == 0 {
		if result.OK {
			return fmt.Sprintf("I have turned %s all the lights.", state)
		}
		return "I was not able to reach all of the lights."
	}
	rooms := naturalJoin(cmd.Rooms)
	if result.OK {
		return fmt.Sprintf("I have turned %s the lights in %s.", state, rooms)
	}
	return fmt.Sprintf("I could not reach the lights in some rooms: %s.", rooms)
}

// naturalJoin renders a room list the way a person would say it aloud:
// "kitchen", "kitchen and living", or "kitchen, living and bed".
func naturalJoin(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}

// freeform invokes the chat LLM and applies the rule-guard: retry the
// rewrite up to r.retries times, then fall back to the deterministic
// sanitizer for any residual violation (spec §4.7).
func (r *Router) freeform(ctx context.Context, utterance string, history []llmengine.ChatMessage) (string, error) {
	messages := make([]llmengine.ChatMessage, 0, len(history)+2)
	messages = append(messages, llmengine.ChatMessage{Role: "system", Content: r.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, llmengine.ChatMessage{Role: "user", Content: utterance})

	var reply string
	attempts := r.retries + 1
	for attempt := 0; attempt < attempts; attempt++ {
		candidate, err := r.chat(ctx, messages)
		if err != nil {
			return "", err
		}
		reply = candidate
		if !CheckViolations(reply, r.maxChars, r.maxSentences).Any() {
			return reply, nil
		}
		messages = append(messages, llmengine.ChatMessage{Role: "assistant", Content: reply})
		messages = append(messages, llmengine.ChatMessage{Role: "user", Content: "Rewrite your last reply: plain English text only, no markdown, no emoji, keep it brief."})
	}
	return Sanitize(reply, r.maxChars, r.maxSentences), nil
}

func (r *Router) chat(ctx context.Context, messages []llmengine.ChatMessage) (string, error) {
	deltas := make(chan string, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- r.llm.ChatStream(ctx, messages, deltas)
		close(deltas)
	}()

	var b strings.Builder
	for d := range deltas {
		b.WriteString(d)
	}
	if err := <-errCh; err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}
