package httpapi

import "net/http"

func (s *Server) handleDiag(w http.ResponseWriter, r *http.Request) {
	snap := s.diag.Collect(r.Context())
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAuditRuns(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusOK, map[string]any{"runs": []any{}})
		return
	}
	limit := queryIntOr(r, "limit", 50)
	runs, err := s.audit.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}
