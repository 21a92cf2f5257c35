package httpapi

import (
	"net/http"

	"github.com/zlhalen/Nexar/internal/workspace"
)

func (s *Server) handleFilesTree(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	entries, err := s.workspace.Tree(path)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) handleFilesRead(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}
	content, truncated, err := s.workspace.ReadFile(path)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	if truncated {
		writeError(w, http.StatusRequestEntityTooLarge, "file exceeds read cap")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"path":     path,
		"content":  content,
		"hash":     workspace.Hash([]byte(content)),
		"language": workspace.Language(path),
	})
}

type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (s *Server) handleFilesWrite(w http.ResponseWriter, r *http.Request) {
	var req writeFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}
	_, after, err := s.workspace.WriteFile(req.Path, req.Content)
	if err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"path": req.Path, "content": after})
}

type createFileRequest struct {
	Path    string `json:"path"`
	IsDir   bool   `json:"is_dir"`
	Content string `json:"content"`
}

func (s *Server) handleFilesCreate(w http.ResponseWriter, r *http.Request) {
	var req createFileRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}
	if err := s.workspace.Create(req.Path, req.IsDir, req.Content); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type pathRequest struct {
	Path string `json:"path"`
}

func (s *Server) handleFilesDelete(w http.ResponseWriter, r *http.Request) {
	var req pathRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Path == "" {
		writeError(w, http.StatusBadRequest, "missing path")
		return
	}
	if err := s.workspace.Delete(req.Path); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type renameRequest struct {
	OldPath string `json:"old_path"`
	NewPath string `json:"new_path"`
}

func (s *Server) handleFilesRename(w http.ResponseWriter, r *http.Request) {
	var req renameRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.OldPath == "" || req.NewPath == "" {
		writeError(w, http.StatusBadRequest, "missing old_path or new_path")
		return
	}
	if err := s.workspace.Rename(req.OldPath, req.NewPath); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
