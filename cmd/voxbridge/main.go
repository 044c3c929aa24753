package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/httpapi"
	"github.com/voxbridge/voxbridge/internal/intent"
	"github.com/voxbridge/voxbridge/internal/llmengine"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/session"
	"github.com/voxbridge/voxbridge/internal/sttengine"
	"github.com/voxbridge/voxbridge/internal/ttsengine"
	"github.com/voxbridge/voxbridge/internal/ttsstream"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.MemoryEmbeddingDim)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	sttClient := sttengine.NewClient(cfg.STTBaseURL, "")
	llmClient := llmengine.NewClient(cfg.OllamaURL, cfg.OllamaModel)
	ttsClient := ttsengine.NewClient(cfg.TTSBaseURL)

	relay := intent.NewDeviceRelay(cfg.ESPBaseURL)
	sensor := intent.NewSensorProbe(cfg.ESPBaseURL)

	var music *intent.MusicPlayer
	if cfg.MusicSearchBaseURL != "" {
		music = intent.NewMusicPlayer(cfg.MusicSearchBaseURL)
	}

	router := intent.NewRouter(relay, sensor, music, llmClient,
		intent.WithSystemPrompt(cfg.AISystemPrompt),
		intent.WithRuleGuard(cfg.MaxAIResponseChars, cfg.AIMaxSentences, cfg.AIRewriteRetries),
	)

	collab := pipeline.Collaborators{
		STT:   sttClient,
		LLM:   llmClient,
		TTS:   ttsClient,
		Store: memoryStore,
	}
	ttsCfg := ttsstream.Config{
		ChunkBytes:    cfg.ESPTTSStreamChunkBytes,
		PrefillChunks: cfg.ESPTTSStreamPrefillChunks,
		PaceFactor:    cfg.ESPTTSStreamPaceFactor,
		LeadSilenceMS: cfg.TTSLeadSilenceMS,
		SampleRate:    16000,
	}
	controller := pipeline.NewController(collab, metrics, router, ttsCfg)

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	api := httpapi.New(cfg, sessions, memoryStore, controller, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
