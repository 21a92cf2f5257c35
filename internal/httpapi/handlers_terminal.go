package httpapi

import "net/http"

type createTerminalRequest struct {
	Cwd   string `json:"cwd"`
	Shell string `json:"shell"`
}

func (s *Server) handleTerminalCreate(w http.ResponseWriter, r *http.Request) {
	var req createTerminalRequest
	// Body is optional: {} means workspace root and default shell.
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	info, err := s.terminal.Create(req.Cwd, req.Shell)
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type terminalInputRequest struct {
	Data string `json:"data"`
}

func (s *Server) handleTerminalInput(w http.ResponseWriter, r *http.Request) {
	var req terminalInputRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.terminal.Write(r.PathValue("id"), req.Data); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTerminalOutput(w http.ResponseWriter, r *http.Request) {
	info, err := s.terminal.Output(r.PathValue("id"))
	if err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (s *Server) handleTerminalResize(w http.ResponseWriter, r *http.Request) {
	var req resizeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.terminal.Resize(r.PathValue("id"), req.Cols, req.Rows); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleTerminalDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.terminal.Close(r.PathValue("id")); err != nil {
		writeTerminalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
