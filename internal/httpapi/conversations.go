package httpapi

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/voxbridge/voxbridge/internal/audio"
	"github.com/voxbridge/voxbridge/internal/memory"
	"github.com/voxbridge/voxbridge/internal/policy"
)

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "no conversation store configured")
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_request", "limit must be a positive integer")
			return
		}
		if n > 500 {
			n = 500
		}
		limit = n
	}
	convs, err := s.store.ListConversations(r.Context(), limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "no conversation store configured")
		return
	}
	titleID := strings.TrimSpace(chi.URLParam(r, "id"))
	if titleID == "" {
		respondError(w, http.StatusBadRequest, "invalid_title_id", "missing title id")
		return
	}
	conv, err := s.store.GetConversation(r.Context(), titleID)
	if err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, conv)
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "no conversation store configured")
		return
	}
	titleID := strings.TrimSpace(chi.URLParam(r, "id"))
	if titleID == "" {
		respondError(w, http.StatusBadRequest, "invalid_title_id", "missing title id")
		return
	}
	if err := s.store.SoftDeleteConversation(r.Context(), titleID); err != nil {
		respondError(w, http.StatusNotFound, "conversation_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

// handleUploadAudio is a synchronous, non-streaming convenience path: it
// transcribes and translates a whole WAV file in one request and persists
// the result, for clients that would rather POST a recording than hold a
// websocket open (spec's "upload-audio batch endpoint").
func (s *Server) handleUploadAudio(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", "no conversation store configured")
		return
	}
	titleID := strings.TrimSpace(chi.URLParam(r, "id"))
	if titleID == "" {
		respondError(w, http.StatusBadRequest, "invalid_title_id", "missing title id")
		return
	}

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	file, _, err := r.FormFile("audio")
	if err != nil {
		respondError(w, http.StatusBadRequest, "missing_audio", "multipart field \"audio\" is required")
		return
	}
	defer file.Close()
	raw, err := io.ReadAll(io.LimitReader(file, 32<<20))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_audio", err.Error())
		return
	}

	decoded, err := audio.DecodeWAV(raw)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_wav", err.Error())
		return
	}
	pcm := decoded.Data
	if decoded.NumChannels > 1 {
		pcm = audio.DownmixToMono(pcm, decoded.NumChannels)
	}

	translateSource := strings.TrimSpace(r.FormValue("translate_source"))
	translateTarget := strings.TrimSpace(r.FormValue("translate_target"))
	titleName := strings.TrimSpace(r.FormValue("title_name"))

	ctx := r.Context()
	text, err := s.controller.Collaborators().STT.TranscribeCumulative(ctx, pcm, decoded.SampleRate)
	if err != nil {
		respondError(w, http.StatusBadGateway, "stt_failed", err.Error())
		return
	}

	target := text
	if translateSource != "" && translateTarget != "" && translateSource != translateTarget {
		prompt := "Translate the following text from " + translateSource + " to " + translateTarget +
			". Respond with the translation only.\n\n" + text
		translated, err := s.controller.Collaborators().LLM.Generate(ctx, prompt)
		if err != nil {
			respondError(w, http.StatusBadGateway, "translate_failed", err.Error())
			return
		}
		target = translated
	}

	if err := s.persistBatchResult(ctx, titleID, titleName, text, target); err != nil {
		respondError(w, http.StatusInternalServerError, "persist_failed", err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"title_id": titleID,
		"source":   text,
		"target":   target,
	})
}

// persistBatchResult redacts PII the same way the live pipeline's finalizer
// does before the text ever reaches the store.
func (s *Server) persistBatchResult(ctx context.Context, titleID, titleName, source, target string) error {
	redactedSource, sourceChanged := policy.RedactPII(source)
	redactedTarget, targetChanged := policy.RedactPII(target)
	if s.metrics != nil && (sourceChanged || targetChanged) {
		s.metrics.ObservePipelineEvent("batch_upload", "pii_redacted")
	}
	return s.store.SaveConversation(ctx, memory.Conversation{
		TitleID:         titleID,
		TitleName:       titleName,
		CommittedSource: redactedSource,
		CommittedTarget: redactedTarget,
		UpdatedAt:       time.Now().UTC(),
	})
}
