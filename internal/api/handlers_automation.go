package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"mailpilot/internal/core"
	"mailpilot/internal/store"
)

type startRequest struct {
	Credential string `json:"credential,omitempty"`
	Headless   *bool  `json:"headless,omitempty"`
}

type verificationRequest struct {
	Code string `json:"code"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.supervisor.Status())
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
			return
		}
	}

	opts := core.StartOptions{
		Credential: strings.TrimSpace(req.Credential),
		Headless:   req.Headless,
	}
	if err := s.supervisor.Start(r.Context(), opts); err != nil {
		if errors.Is(err, core.ErrAlreadyRunning) {
			writeError(w, http.StatusConflict, "conflict", "automation session already running")
			return
		}
		s.logger.Error("start session", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to start automation session")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"running": true})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.supervisor.Stop()
	writeJSON(w, http.StatusOK, map[string]bool{"running": false})
}

func (s *Server) handleWake(w http.ResponseWriter, r *http.Request) {
	if err := s.supervisor.Wake(); err != nil {
		writeError(w, http.StatusConflict, "not_running", "no automation session running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "woken"})
}

func (s *Server) handleVerification(w http.ResponseWriter, r *http.Request) {
	var req verificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}
	code := strings.TrimSpace(req.Code)
	if code == "" {
		writeError(w, http.StatusBadRequest, "invalid_input", "code is required")
		return
	}
	if err := s.supervisor.SubmitVerificationCode(code); err != nil {
		if errors.Is(err, core.ErrNotRunning) {
			writeError(w, http.StatusConflict, "not_running", "no automation session running")
			return
		}
		writeError(w, http.StatusConflict, "conflict", err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleScreenshot(w http.ResponseWriter, r *http.Request) {
	png, err := s.supervisor.Screenshot(r.Context())
	if err != nil {
		if errors.Is(err, core.ErrNotRunning) {
			writeError(w, http.StatusConflict, "not_running", "no automation session running")
			return
		}
		s.logger.Error("capture screenshot", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to capture screenshot")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (s *Server) handleListTokens(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListTokens(r.Context())
	if err != nil {
		s.logger.Error("list tokens", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list tokens")
		return
	}
	if recs == nil {
		recs = []*store.TokenRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func parseIntDefault(value string, def int) int {
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	payload := map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
	writeJSON(w, status, payload)
}
