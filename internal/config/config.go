package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the voice/translation backend.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	FirstAudioSLO            time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	ESPBaseURL         string
	STTBaseURL         string
	TTSBaseURL         string
	OllamaURL          string
	OllamaModel        string
	MusicSearchBaseURL string

	AISystemPrompt    string
	MaxAIResponseChars int
	AIMaxSentences     int
	AIRewriteRetries   int

	HistoryFileMaxEntries int

	ESPTTSStreamChunkBytes   int
	ESPTTSStreamPrefillChunks int
	ESPTTSStreamPaceFactor   float64
	TTSLeadSilenceMS         int

	MinCommitChars int
	PauseCommitSec float64

	DatabaseURL        string
	MemoryEmbeddingDim int

	PersonasFile string
	Personas     []Persona
}

// Persona describes one voice profile loadable from personas.yaml.
type Persona struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	VoiceID   string `yaml:"voice_id"`
	Language  string `yaml:"language"`
	StylePack string `yaml:"style_pack,omitempty"`
}

// Load reads an optional .env file, then environment variables, then an
// optional personas.yaml, applying safe defaults throughout.
func Load() (Config, error) {
	// A missing .env is not an error: production deploys set real env vars.
	_ = godotenv.Load()

	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "voxbridge"),
		AllowAnyOrigin:   false,

		ESPBaseURL:  envOrDefault("ESP_BASE_URL", "http://192.168.1.111"),
		STTBaseURL:  envOrDefault("STT_BASE_URL", "http://localhost:9001"),
		TTSBaseURL:  envOrDefault("TTS_BASE_URL", "http://localhost:9002"),
		OllamaURL:   envOrDefault("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel: envOrDefault("OLLAMA_MODEL", "qwen2.5:7b"),

		MusicSearchBaseURL: stringsTrimSpace("MUSIC_SEARCH_BASE_URL"),

		AISystemPrompt:     envOrDefault("AI_SYSTEM_PROMPT", "You are a concise, helpful voice assistant."),
		MaxAIResponseChars: 400,
		AIMaxSentences:     3,
		AIRewriteRetries:   1,

		HistoryFileMaxEntries: 200,

		ESPTTSStreamChunkBytes:    4096,
		ESPTTSStreamPrefillChunks: 2,
		ESPTTSStreamPaceFactor:    1.0,
		TTSLeadSilenceMS:          120,

		MinCommitChars: 10,
		PauseCommitSec: 0.8,

		DatabaseURL:        stringsTrimSpace("DATABASE_URL"),
		MemoryEmbeddingDim: 1536,

		PersonasFile: envOrDefault("PERSONAS_FILE", "personas.yaml"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 2 * time.Minute,
		FirstAudioSLO:            700 * time.Millisecond,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.FirstAudioSLO, err = durationFromEnv("APP_FIRST_AUDIO_SLO", cfg.FirstAudioSLO)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryEmbeddingDim, err = intFromEnv("MEMORY_EMBEDDING_DIM", cfg.MemoryEmbeddingDim)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxAIResponseChars, err = intFromEnv("VI_MAX_AI_RESPONSE_CHARS", cfg.MaxAIResponseChars)
	if err != nil {
		return Config{}, err
	}
	cfg.AIMaxSentences, err = intFromEnv("VI_AI_MAX_SENTENCES", cfg.AIMaxSentences)
	if err != nil {
		return Config{}, err
	}
	cfg.AIRewriteRetries, err = intFromEnv("VI_AI_REWRITE_RETRIES", cfg.AIRewriteRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryFileMaxEntries, err = intFromEnv("VI_HISTORY_FILE_MAX_ENTRIES", cfg.HistoryFileMaxEntries)
	if err != nil {
		return Config{}, err
	}
	cfg.ESPTTSStreamChunkBytes, err = intFromEnv("VI_ESP_TTS_STREAM_CHUNK_BYTES", cfg.ESPTTSStreamChunkBytes)
	if err != nil {
		return Config{}, err
	}
	cfg.ESPTTSStreamPrefillChunks, err = intFromEnv("VI_ESP_TTS_STREAM_PREFILL_CHUNKS", cfg.ESPTTSStreamPrefillChunks)
	if err != nil {
		return Config{}, err
	}
	cfg.ESPTTSStreamPaceFactor, err = floatFromEnv("VI_ESP_TTS_STREAM_PACE_FACTOR", cfg.ESPTTSStreamPaceFactor)
	if err != nil {
		return Config{}, err
	}
	cfg.TTSLeadSilenceMS, err = intFromEnv("VI_TTS_LEAD_SIL_MS", cfg.TTSLeadSilenceMS)
	if err != nil {
		return Config{}, err
	}
	cfg.MinCommitChars, err = intFromEnv("MIN_COMMIT_CHARS", cfg.MinCommitChars)
	if err != nil {
		return Config{}, err
	}
	cfg.PauseCommitSec, err = floatFromEnv("PAUSE_SEC", cfg.PauseCommitSec)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.MemoryEmbeddingDim <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EMBEDDING_DIM must be positive")
	}
	if cfg.MinCommitChars <= 0 {
		return Config{}, fmt.Errorf("MIN_COMMIT_CHARS must be positive")
	}
	if cfg.PauseCommitSec <= 0 {
		return Config{}, fmt.Errorf("PAUSE_SEC must be positive")
	}

	personas, err := loadPersonas(cfg.PersonasFile)
	if err != nil {
		return Config{}, err
	}
	cfg.Personas = personas

	return cfg, nil
}

// loadPersonas reads the optional YAML voice-profile file. A missing file
// yields an empty persona list rather than an error — personas are an
// operator convenience, not a hard runtime requirement.
func loadPersonas(path string) ([]Persona, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read personas file %s: %w", path, err)
	}
	var doc struct {
		Personas []Persona `yaml:"personas"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse personas file %s: %w", path, err)
	}
	return doc.Personas, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
