package api

import (
	"net/http"

	"mailpilot/internal/core"
)

func (s *Server) handleListCycles(w http.ResponseWriter, r *http.Request) {
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)
	if limit < 1 || limit > 500 {
		writeError(w, http.StatusBadRequest, "invalid_input", "limit must be between 1 and 500")
		return
	}
	recs, err := s.store.ListCycles(r.Context(), limit)
	if err != nil {
		s.logger.Error("list cycles", "err", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to list cycles")
		return
	}
	if recs == nil {
		recs = []*core.CycleRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}
