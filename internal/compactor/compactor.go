// Package compactor derives the bounded prompt_messages fed to the LLM on
// each planner call: recent-turn windowing, per-message truncation, and
// summarization of older turns into one synthetic system message.
package compactor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/zlhalen/Nexar/internal/engine"
	"github.com/zlhalen/Nexar/internal/provider"
)

const summarySystemPrompt = "Compress the prior conversation turns into a short brief. " +
	"Preserve decisions, constraints, and open questions. Do not invent facts not present in the turns."

// summaryEntry caches a summarized prefix keyed by the hash of its content.
type summaryEntry struct {
	hash string
	text string
}

// Compactor holds a per-run summary cache so repeated ticks against an
// unchanged older-message prefix don't re-call the LLM.
type Compactor struct {
	router *provider.Router

	mu    sync.Mutex
	cache map[string]summaryEntry // run_id -> last computed summary
}

func New(router *provider.Router) *Compactor {
	return &Compactor{router: router, cache: make(map[string]summaryEntry)}
}

// Compact returns the bounded message list to send to the LLM for this
// planner call, along with the summary text actually used (empty if none).
func (c *Compactor) Compact(ctx context.Context, runID, providerID string, messages []engine.ChatMessage, cfg engine.HistoryConfig) ([]provider.Message, string) {
	turns := cfg.Turns
	if turns <= 0 {
		turns = 20
	}
	maxChars := cfg.MaxCharsPerMessage
	if maxChars <= 0 {
		maxChars = 8000
	}

	recent := messages
	var older []engine.ChatMessage
	if len(messages) > turns {
		older = messages[:len(messages)-turns]
		recent = messages[len(messages)-turns:]
	}

	out := make([]provider.Message, 0, len(recent)+1)

	summary := ""
	if cfg.SummaryEnabled && len(older) > 0 {
		summary = c.summarize(ctx, runID, providerID, older, cfg.SummaryMaxChars)
		if summary != "" {
			out = append(out, provider.Message{Role: "system", Content: summary})
		}
	}

	for _, m := range recent {
		out = append(out, provider.Message{Role: m.Role, Content: truncateMiddle(m.Content, maxChars)})
	}
	return out, summary
}

// truncateMiddle implements the "first half + ellipsis + last half" rule.
func truncateMiddle(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	half := maxChars / 2
	if half <= 0 {
		return s[:maxChars]
	}
	return s[:half] + " ... " + s[len(s)-half:]
}

// hashMessages fingerprints the concatenated older turns so the summary
// cache only recomputes when that prefix actually changes.
func hashMessages(messages []engine.ChatMessage) string {
	h := sha256.New()
	for _, m := range messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Compactor) summarize(ctx context.Context, runID, providerID string, older []engine.ChatMessage, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 2000
	}
	digest := hashMessages(older)

	c.mu.Lock()
	if cached, ok := c.cache[runID]; ok && cached.hash == digest {
		c.mu.Unlock()
		return cached.text
	}
	c.mu.Unlock()

	var sb strings.Builder
	for _, m := range older {
		sb.WriteString(m.Role)
		sb.WriteString(": ")
		sb.WriteString(strings.ReplaceAll(m.Content, "\n", " "))
		sb.WriteString("\n")
	}

	if c.router == nil {
		return ""
	}
	result, err := c.router.Chat(ctx, providerID, []provider.Message{
		{Role: "user", Content: sb.String()},
	}, provider.Options{
		Temperature:          0,
		MaxTokens:            maxChars / 2,
		SystemPromptOverride: summarySystemPrompt,
	})
	if err != nil {
		return ""
	}
	text := result.Content
	if len(text) > maxChars {
		text = text[:maxChars]
	}

	c.mu.Lock()
	c.cache[runID] = summaryEntry{hash: digest, text: text}
	c.mu.Unlock()
	return text
}

// Forget drops a run's cached summary, called when a run is evicted.
func (c *Compactor) Forget(runID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cache, runID)
}
