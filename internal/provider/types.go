// Package provider implements the uniform chat(messages, options) surface
// over configured LLM vendors. Callers never speak vendor HTTP
// directly; they go through Router.Chat.
package provider

import (
	"strings"
	"unicode/utf8"
)

// Family selects which concrete SDK backs a provider id.
type Family string

const (
	FamilyOpenAI    Family = "openai"    // OpenAI-compatible, incl. custom base URL
	FamilyAnthropic Family = "anthropic" // Anthropic Messages API
)

// Message is the vendor-agnostic chat message shape. Non-text
// parts (snippets, tool outputs) are serialized to text before this
// boundary by the caller.
type Message struct {
	Role    string `json:"role"` // system|user|assistant
	Content string `json:"content"`
}

// ResponseFormat controls whether the vendor is asked for a JSON object.
type ResponseFormat string

const (
	FormatText       ResponseFormat = "text"
	FormatJSONObject ResponseFormat = "json_object"
)

// Options enumerates the narrow set of provider controls the engine needs.
type Options struct {
	Temperature          float64
	MaxTokens            int
	ResponseFormat       ResponseFormat
	Stop                 []string
	SystemPromptOverride string
}

// TokenSource records whether usage came from the vendor or was estimated.
type TokenSource string

const (
	SourceProvider  TokenSource = "provider"
	SourceEstimated TokenSource = "estimated"
)

// Usage carries token accounting for one chat call.
type Usage struct {
	Input  int         `json:"input"`
	Output int         `json:"output"`
	Total  int         `json:"total"`
	Source TokenSource `json:"source"`
}

// ChatResult is the adapter's return value: the assistant text, usage, the
// exact compiled prompt (for UI transparency), and call latency.
type ChatResult struct {
	Content        string    `json:"content"`
	Usage          Usage     `json:"usage"`
	PromptMessages []Message `json:"prompt_messages"`
	ElapsedMs      int64     `json:"elapsed_ms"`
	Provider       string    `json:"provider"`
	Model          string    `json:"model"`
}

// ErrorKind is the provider_* subset of the error taxonomy.
type ErrorKind string

const (
	ErrAuth        ErrorKind = "provider_auth"
	ErrRateLimited ErrorKind = "provider_rate_limit"
	ErrTimeout     ErrorKind = "provider_timeout"
	ErrBadResponse ErrorKind = "provider_bad_response"
	ErrTransport   ErrorKind = "provider_transport"
)

// Error is the structured provider failure.
type Error struct {
	Kind      ErrorKind
	Retryable bool
	Message   string
	Cause     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Cause != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Cause.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

// EstimateTokens applies the fallback estimator: ceil(utf8_bytes/4).
func EstimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	_ = n
	bytes := len(text)
	if bytes == 0 {
		return 0
	}
	return (bytes + 3) / 4
}

// EstimateMessagesTokens sums EstimateTokens over a message slice's content.
func EstimateMessagesTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

// Config describes one configured provider entry.
type Config struct {
	ID      string
	Name    string
	Family  Family
	Model   string
	APIKey  string
	BaseURL string
}

func normalizeRole(role string) string {
	role = strings.ToLower(strings.TrimSpace(role))
	switch role {
	case "system", "user", "assistant":
		return role
	default:
		return "user"
	}
}
