// Command nexar-agentd serves the agent orchestration engine's HTTP API:
// workspace file access, the AI run control plane, and PTY terminal
// sessions, configured entirely from the environment.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/zlhalen/Nexar/internal/auditstore"
	"github.com/zlhalen/Nexar/internal/compactor"
	"github.com/zlhalen/Nexar/internal/config"
	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/httpapi"
	"github.com/zlhalen/Nexar/internal/planner"
	"github.com/zlhalen/Nexar/internal/provider"
	"github.com/zlhalen/Nexar/internal/runregistry"
	"github.com/zlhalen/Nexar/internal/terminal"
	"github.com/zlhalen/Nexar/internal/workspace"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg)

	ws, err := workspace.New(cfg.WorkspaceRoot)
	if err != nil {
		logger.Error("failed to open workspace", "error", err, "root", cfg.WorkspaceRoot)
		os.Exit(1)
	}

	router := provider.NewRouter(cfg.Providers)
	compact := compactor.New(router)
	plan := planner.New(router, compact, ws)
	executor := engine.NewExecutor(plan, router, ws, cfg.MaxConcurrentActions)
	term := terminal.New(ws)

	var audit *auditstore.Store
	if cfg.AuditDBPath != "" {
		audit, err = auditstore.Open(cfg.AuditDBPath)
		if err != nil {
			logger.Error("failed to open audit store", "error", err, "path", cfg.AuditDBPath)
			os.Exit(1)
		}
	}

	registry := runregistry.New(executor, cfg.RunTTLSec, audit)

	server := httpapi.New(httpapi.Options{
		Logger:     logger,
		ListenAddr: cfg.ListenAddr,
		Workspace:  ws,
		Router:     router,
		Registry:   registry,
		Terminal:   term,
		Audit:      audit,
	})
	if err := server.Start(); err != nil {
		logger.Error("failed to start http server", "error", err)
		os.Exit(1)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	_ = server.Close()
	term.CloseAll()
	registry.Close()
	if audit != nil {
		_ = audit.Close()
	}
}
