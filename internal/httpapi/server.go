// Package httpapi serves the engine's HTTP surface: workspace file CRUD,
// the AI chat/run control plane, terminal sessions, and a couple of
// ambient diagnostics endpoints, all under /api.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zlhalen/Nexar/internal/auditstore"
	"github.com/zlhalen/Nexar/internal/diag"
	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/runregistry"
	"github.com/zlhalen/Nexar/internal/terminal"
	"github.com/zlhalen/Nexar/internal/workspace"
)

const defaultMaxRetries = 2

// Options configures a Server.
type Options struct {
	Logger     *slog.Logger
	ListenAddr string
	Workspace  *workspace.Service
	Router     *provider.Router
	Registry   *runregistry.Registry
	Terminal   *terminal.Manager
	Audit      *auditstore.Store // nil disables GET /api/audit/runs
}

// Server hosts the net/http mux and its dependencies.
type Server struct {
	log *slog.Logger

	workspace *workspace.Service
	router    *provider.Router
	registry  *runregistry.Registry
	terminal  *terminal.Manager
	audit     *auditstore.Store
	diag      *diag.Collector

	addr string
	ln   net.Listener
	srv  *http.Server
}

func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	addr := strings.TrimSpace(opts.ListenAddr)
	if addr == "" {
		addr = "127.0.0.1:8787"
	}
	return &Server{
		log:       logger,
		workspace: opts.Workspace,
		router:    opts.Router,
		registry:  opts.Registry,
		terminal:  opts.Terminal,
		audit:     opts.Audit,
		diag:      diag.NewCollector(),
		addr:      addr,
	}
}

func (s *Server) mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/files/tree", s.handleFilesTree)
	mux.HandleFunc("GET /api/files/read", s.handleFilesRead)
	mux.HandleFunc("POST /api/files/write", s.handleFilesWrite)
	mux.HandleFunc("POST /api/files/create", s.handleFilesCreate)
	mux.HandleFunc("POST /api/files/delete", s.handleFilesDelete)
	mux.HandleFunc("POST /api/files/rename", s.handleFilesRename)

	mux.HandleFunc("GET /api/ai/providers", s.handleProviders)
	mux.HandleFunc("POST /api/ai/chat", s.handleChat)
	mux.HandleFunc("POST /api/ai/runs/start", s.handleRunsStart)
	mux.HandleFunc("GET /api/ai/runs/{id}", s.handleRunsGet)
	mux.HandleFunc("POST /api/ai/runs/{id}/continue", s.handleRunsContinue)
	mux.HandleFunc("POST /api/ai/runs/{id}/reply", s.handleRunsReply)
	mux.HandleFunc("POST /api/ai/runs/{id}/pause", s.handleRunsPause)
	mux.HandleFunc("POST /api/ai/runs/{id}/resume", s.handleRunsResume)
	mux.HandleFunc("POST /api/ai/runs/{id}/cancel", s.handleRunsCancel)

	mux.HandleFunc("POST /api/terminal/sessions", s.handleTerminalCreate)
	mux.HandleFunc("POST /api/terminal/sessions/{id}/input", s.handleTerminalInput)
	mux.HandleFunc("GET /api/terminal/sessions/{id}/output", s.handleTerminalOutput)
	mux.HandleFunc("POST /api/terminal/sessions/{id}/resize", s.handleTerminalResize)
	mux.HandleFunc("DELETE /api/terminal/sessions/{id}", s.handleTerminalDelete)

	mux.HandleFunc("GET /api/diag", s.handleDiag)
	mux.HandleFunc("GET /api/audit/runs", s.handleAuditRuns)

	return mux
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = &http.Server{
		Handler:           s.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("httpapi server stopped", "error", err)
		}
	}()
	s.log.Info("httpapi listening", "addr", ln.Addr().String())
	return nil
}

// Close gracefully shuts the server down.
func (s *Server) Close() error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *Server) Addr() string {
	if s.ln == nil {
		return s.addr
	}
	return s.ln.Addr().String()
}

// writeJSON encodes v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError implements the engine-wide error envelope: {detail: string}.
func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return errors.New("missing body")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("empty body")
		}
		return err
	}
	return nil
}

// writeWorkspaceError classifies a workspace.Service error per the
// documented envelope: path escapes are 400, missing files 404, everything
// else 500.
func writeWorkspaceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, workspace.ErrPathEscape):
		writeError(w, http.StatusBadRequest, "path escape")
	case errors.Is(err, os.ErrNotExist):
		writeError(w, http.StatusNotFound, "not found")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, runregistry.ErrRunNotFound):
		writeError(w, http.StatusNotFound, "run not found")
	case errors.Is(err, runregistry.ErrRunConflict):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeTerminalError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		writeError(w, http.StatusNotFound, "terminal session not found")
	case errors.Is(err, workspace.ErrPathEscape):
		writeError(w, http.StatusBadRequest, "path escape")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func queryIntOr(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// latestUserMessage returns the last user-role message's content, used as
// a run's intent when the caller doesn't supply one directly.
func latestUserMessage(messages []engine.ChatMessage) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}
