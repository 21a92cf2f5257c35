package httpapi

import (
	"net/http"

	"github.com/zlhalen/Nexar/internal/engine"
)

type chatRequest struct {
	Provider      string               `json:"provider"`
	Messages      []engine.ChatMessage `json:"messages"`
	CurrentFile   string               `json:"current_file,omitempty"`
	CurrentCode   string               `json:"current_code,omitempty"`
	FilePath      string               `json:"file_path,omitempty"`
	Snippets      []engine.CodeSnippet `json:"snippets,omitempty"`
	ChatOnly      bool                 `json:"chat_only,omitempty"`
	PlanningMode  bool                 `json:"planning_mode,omitempty"`
	ForceCodeEdit bool                 `json:"force_code_edit,omitempty"`
	HistoryConfig *engine.HistoryConfig `json:"history_config,omitempty"`
}

func (req chatRequest) toSnapshot() engine.RequestSnapshot {
	hc := engine.DefaultHistoryConfig()
	if req.HistoryConfig != nil {
		hc = *req.HistoryConfig
	}
	return engine.RequestSnapshot{
		Provider:      req.Provider,
		Messages:      req.Messages,
		CurrentFile:   req.CurrentFile,
		CurrentCode:   req.CurrentCode,
		FilePath:      req.FilePath,
		Snippets:      req.Snippets,
		ChatOnly:      req.ChatOnly,
		PlanningMode:  req.PlanningMode,
		ForceCodeEdit: req.ForceCodeEdit,
		HistoryConfig: hc,
	}
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.router.Providers())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing messages")
		return
	}
	providerID := req.Provider
	if providerID == "" {
		providerID = s.router.DefaultProviderID()
	}
	resp, err := s.registry.Chat(r.Context(), latestUserMessage(req.Messages), providerID, req.toSnapshot(), defaultMaxRetries)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunsStart(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "missing messages")
		return
	}
	providerID := req.Provider
	if providerID == "" {
		providerID = s.router.DefaultProviderID()
	}
	runID := s.registry.Start(latestUserMessage(req.Messages), providerID, req.toSnapshot(), defaultMaxRetries)
	writeJSON(w, http.StatusOK, map[string]string{"run_id": runID})
}

func (s *Server) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.GetRun(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunsContinue(w http.ResponseWriter, r *http.Request) {
	resp, err := s.registry.Continue(r.Context(), r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type replyRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleRunsReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := s.registry.Reply(r.Context(), r.PathValue("id"), req.Message)
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunsPause(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Pause(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunsResume(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Resume(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleRunsCancel(w http.ResponseWriter, r *http.Request) {
	snap, err := s.registry.Cancel(r.PathValue("id"))
	if err != nil {
		writeRegistryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
