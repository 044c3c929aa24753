// Package httpapi is the WebSocket upgrade gateway plus a thin HTTP admin
// surface: conversation CRUD, a batch audio-upload convenience endpoint, a
// TTS preview endpoint, and the perf/health/metrics routes.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/voxbridge/voxbridge/internal/config"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/observability"
	"github.com/voxbridge/voxbridge/internal/pipeline"
	"github.com/voxbridge/voxbridge/internal/session"
)

// Server wires the session registry, the shared pipeline Controller, and
// the conversation store behind a chi router. One Server instance serves
// every connection; per-connection state lives entirely in the Session and
// the goroutines pipeline.Controller.Run spawns for it.
type Server struct {
	cfg        config.Config
	sessions   *session.Manager
	store      memory.Store
	controller *pipeline.Controller
	metrics    *observability.Metrics
	upgrader   websocket.Upgrader
}

func New(cfg config.Config, sessions *session.Manager, store memory.Store, controller *pipeline.Controller, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:        cfg,
		sessions:   sessions,
		store:      store,
		controller: controller,
		metrics:    metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only allow browser websocket connections from the same
				// origin, so no other site can drive a user's mic session if this
				// is ever exposed beyond localhost.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients (the ESP firmware) often omit Origin.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/v1/voice/ws", s.handleVoiceWS)

	r.Get("/v1/conversations", s.handleListConversations)
	r.Get("/v1/conversations/{id}", s.handleGetConversation)
	r.Delete("/v1/conversations/{id}", s.handleDeleteConversation)
	r.Post("/v1/conversations/{id}/audio", s.handleUploadAudio)

	r.Get("/v1/personas", s.handleListPersonas)
	r.Post("/v1/tts/preview", s.handlePreviewTTS)

	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.Post("/v1/perf/latency/reset", s.handlePerfLatencyReset)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":         "ready",
		"active_sessions": s.sessions.ActiveCount(),
	})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
