package session

import "time"

// InfoResponse reports a session's externally visible state, used by the
// HTTP admin surface and by the WS gateway's ack replies.
type InfoResponse struct {
	SessionID       string    `json:"session_id"`
	TitleID         string    `json:"title_id"`
	TitleName       string    `json:"title_name,omitempty"`
	State           State     `json:"state"`
	Mode            string    `json:"mode,omitempty"`
	STTLang         string    `json:"stt_language,omitempty"`
	TranslateSource string    `json:"translate_source,omitempty"`
	TranslateTarget string    `json:"translate_target,omitempty"`
	StartedAt       time.Time `json:"started_at"`
}

// Info builds the wire-facing summary of a session's identity/lifecycle.
func Info(s *Session) InfoResponse {
	return InfoResponse{
		SessionID:       s.ID,
		TitleID:         s.TitleID,
		TitleName:       s.TitleName,
		State:           s.CurrentState(),
		Mode:            s.Mode,
		STTLang:         s.STTLang,
		TranslateSource: s.TranslateSrc,
		TranslateTarget: s.TranslateTgt,
		StartedAt:       s.StartedAt,
	}
}
