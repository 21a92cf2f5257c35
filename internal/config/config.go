// Package config loads process configuration from the environment,
// mirroring the reference server's provider/env-var surface.
package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/zlhalen/Nexar/internal/provider"
)

// Config is the fully-resolved process configuration.
type Config struct {
	ListenAddr           string
	WorkspaceRoot        string
	RunTTLSec            int
	MaxConcurrentActions int
	AuditDBPath          string // empty disables the audit store
	LogFormat            string // json|text
	LogLevel             string

	Providers []provider.Config
}

func Load() (*Config, error) {
	root := strings.TrimSpace(os.Getenv("WORKSPACE_ROOT"))
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ListenAddr:           envOr("NEXAR_LISTEN_ADDR", "127.0.0.1:8787"),
		WorkspaceRoot:        abs,
		RunTTLSec:            envIntOr("NEXAR_RUN_TTL_SEC", 1800),
		MaxConcurrentActions: envIntOr("NEXAR_MAX_CONCURRENT_ACTIONS", 16),
		AuditDBPath:          envAuditPath(abs),
		LogFormat:            envOr("NEXAR_LOG_FORMAT", "text"),
		LogLevel:             envOr("NEXAR_LOG_LEVEL", "info"),
		Providers:            loadProviders(),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return errors.New("missing listen addr")
	}
	if c.RunTTLSec <= 0 {
		return errors.New("run ttl must be positive")
	}
	if c.MaxConcurrentActions <= 0 {
		return errors.New("max concurrent actions must be positive")
	}
	switch c.LogFormat {
	case "json", "text":
	default:
		return errors.New("log format must be json or text")
	}
	return nil
}

// loadProviders builds the provider.Config list from OPENAI_*, ANTHROPIC_*,
// and CUSTOM_* env vars. Absent variables simply omit that provider.
func loadProviders() []provider.Config {
	var out []provider.Config

	if key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); key != "" {
		out = append(out, provider.Config{
			ID:      "openai",
			Name:    "OpenAI",
			Family:  provider.FamilyOpenAI,
			Model:   envOr("OPENAI_MODEL", "gpt-4o-mini"),
			APIKey:  key,
			BaseURL: strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		})
	}
	if key := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); key != "" {
		out = append(out, provider.Config{
			ID:     "anthropic",
			Name:   "Anthropic",
			Family: provider.FamilyAnthropic,
			Model:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5"),
			APIKey: key,
		})
	}
	if key := strings.TrimSpace(os.Getenv("CUSTOM_API_KEY")); key != "" {
		out = append(out, provider.Config{
			ID:      "custom",
			Name:    "Custom",
			Family:  provider.FamilyOpenAI,
			Model:   envOr("CUSTOM_MODEL", ""),
			APIKey:  key,
			BaseURL: strings.TrimSpace(os.Getenv("CUSTOM_BASE_URL")),
		})
	}
	return out
}

func envAuditPath(workspaceRoot string) string {
	v, ok := os.LookupEnv("NEXAR_AUDIT_DB_PATH")
	if !ok {
		return filepath.Join(workspaceRoot, ".nexar", "audit.db")
	}
	return strings.TrimSpace(v)
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envIntOr(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// NewLogger builds the process-wide slog.Logger per LogFormat/LogLevel.
func NewLogger(c *Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
