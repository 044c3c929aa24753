package httpapi

import (
	"net/http"
	"strings"

	"github.com/voxbridge/voxbridge/internal/config"
)

type personaSummary struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	VoiceID   string `json:"voice_id"`
	Language  string `json:"language"`
	StylePack string `json:"style_pack,omitempty"`
}

// handleListPersonas exposes the operator-configured voice profiles loaded
// from personas.yaml at startup (config.Config.Personas).
func (s *Server) handleListPersonas(w http.ResponseWriter, _ *http.Request) {
	out := make([]personaSummary, 0, len(s.cfg.Personas))
	for _, p := range s.cfg.Personas {
		out = append(out, personaSummary{
			ID:        p.ID,
			Name:      p.Name,
			VoiceID:   p.VoiceID,
			Language:  p.Language,
			StylePack: p.StylePack,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{"personas": out})
}

type previewTTSRequest struct {
	PersonaID string `json:"persona_id"`
	Text      string `json:"text"`
}

// handlePreviewTTS synthesizes a short sample through the live TTS
// collaborator so an operator can audition a persona's voice before it is
// used in a real session.
func (s *Server) handlePreviewTTS(w http.ResponseWriter, r *http.Request) {
	var req previewTTSRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	voiceID := resolvePersonaVoice(s.cfg.Personas, req.PersonaID)

	collab := s.controller.Collaborators()
	if collab.TTS == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "tts collaborator not configured")
		return
	}
	wav, err := collab.TTS.Synthesize(r.Context(), text, voiceID)
	if err != nil {
		respondError(w, http.StatusBadGateway, "tts_preview_failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(wav)
}

func resolvePersonaVoice(personas []config.Persona, personaID string) string {
	personaID = strings.TrimSpace(personaID)
	if personaID == "" {
		return ""
	}
	for _, p := range personas {
		if p.ID == personaID {
			return p.VoiceID
		}
	}
	return ""
}
