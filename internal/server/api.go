package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"entity-privacy-wrapper/internal/alias"
	"entity-privacy-wrapper/internal/detect"
	"entity-privacy-wrapper/internal/session"
)

type textRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusCreated, s.sessions.Create())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	v, err := s.sessions.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := s.sessions.Delete(chi.URLParam(r, "id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSessionDetect(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if err := s.allowDetect(); err != nil {
		s.writeError(w, err)
		return
	}
	res, err := s.sessions.Detect(r.Context(), chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSessionMapping(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Edits []alias.Edit `json:"edits"`
	}
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	entries, err := s.sessions.Edit(chi.URLParam(r, "id"), req.Edits)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleSessionEncode(w http.ResponseWriter, r *http.Request) {
	out, err := s.sessions.Encode(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"encoded": out})
}

func (s *Server) handleSessionDecode(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	out, warnings, err := s.sessions.Decode(chi.URLParam(r, "id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decodeResponse(out, warnings))
}

func (s *Server) handleSessionReset(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Reset(id); err != nil {
		s.writeError(w, err)
		return
	}
	v, err := s.sessions.Get(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type unmaskResponse struct {
	Text     string          `json:"text"`
	Warnings []alias.Warning `json:"warnings"`
}

func decodeResponse(out string, warnings []alias.Warning) unmaskResponse {
	if warnings == nil {
		warnings = []alias.Warning{}
	}
	return unmaskResponse{Text: out, Warnings: warnings}
}

type maskRequest struct {
	Text    string          `json:"text"`
	Mapping json.RawMessage `json:"mapping,omitempty"`
	Style   string          `json:"style,omitempty"`
}

type maskResponse struct {
	Text     string          `json:"text"`
	Mapping  *alias.Mapping  `json:"mapping"`
	Mentions []alias.Mention `json:"mentions,omitempty"`
	Notices  []string        `json:"notices,omitempty"`
}

// handleMask masks text without a session. With a mapping in the request
// the text is masked as is; otherwise entities are detected first.
func (s *Server) handleMask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	style, err := s.requestStyle(req.Style)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var resp maskResponse
	if len(req.Mapping) > 0 && string(req.Mapping) != "null" {
		m, err := alias.ParseMapping(req.Mapping, style)
		if err != nil {
			s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
			return
		}
		text := detect.Prepare(req.Text)
		if strings.TrimSpace(text) == "" {
			s.writeError(w, session.ErrEmptyText)
			return
		}
		resp.Mapping = m
		resp.Text = alias.Mask(text, m)
	} else {
		if err := s.allowDetect(); err != nil {
			s.writeError(w, err)
			return
		}
		mentions, notices, err := s.sessions.DetectText(r.Context(), req.Text)
		if err != nil {
			s.writeError(w, err)
			return
		}
		m := alias.Build(mentions, style)
		resp.Mapping = m
		resp.Mentions = mentions
		resp.Notices = notices
		resp.Text = alias.Mask(detect.Prepare(req.Text), m)
	}
	s.metrics.Masks.Add(1)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnmask(w http.ResponseWriter, r *http.Request) {
	var req maskRequest
	if err := s.decodeJSON(w, r, &req); err != nil {
		s.writeError(w, err)
		return
	}
	if len(req.Mapping) == 0 || string(req.Mapping) == "null" {
		s.writeError(w, fmt.Errorf("%w: mapping is required", errBadRequest))
		return
	}
	style, err := s.requestStyle(req.Style)
	if err != nil {
		s.writeError(w, err)
		return
	}
	m, err := alias.ParseMapping(req.Mapping, style)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: %w", errBadRequest, err))
		return
	}
	out, warnings := alias.Unmask(detect.Normalize(req.Text), m)
	s.metrics.Unmasks.Add(1)
	s.metrics.UnmappedTokens.Add(int64(len(warnings)))
	writeJSON(w, http.StatusOK, decodeResponse(out, warnings))
}

func (s *Server) requestStyle(raw string) (alias.Style, error) {
	if strings.TrimSpace(raw) == "" {
		return s.sessions.Style(), nil
	}
	style, err := alias.ParseStyle(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadRequest, err)
	}
	return style, nil
}
