package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicDefaultMaxOutputTokens = 4096

// anthropicClient talks to the Anthropic Messages API through
// anthropic-sdk-go. System messages are hoisted into params.System, since
// the Messages API has no "system" role in the turn list.
type anthropicClient struct{}

func newAnthropicClient() *anthropicClient { return &anthropicClient{} }

func (c *anthropicClient) chat(ctx context.Context, cfg Config, messages []Message, opts Options) (string, Usage, error) {
	clientOpts := []aoption.RequestOption{aoption.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientOpts = append(clientOpts, aoption.WithBaseURL(cfg.BaseURL))
	}
	ac := anthropic.NewClient(clientOpts...)

	var system string
	turns := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if system != "" {
				system += "\n"
			}
			system += m.Content
			continue
		}
		if m.Role == "assistant" {
			turns = append(turns, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			turns = append(turns, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(anthropicDefaultMaxOutputTokens)
	if opts.MaxTokens > 0 {
		maxTokens = int64(opts.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(cfg.Model),
		MaxTokens: maxTokens,
		Messages:  turns,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	msg, err := ac.Messages.New(ctx, params)
	if err != nil {
		return "", Usage{}, classifyAnthropicErr(err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if tb, ok := block.AsAny().(anthropic.TextBlock); ok {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(tb.Text))
		}
	}

	usage := Usage{
		Input:  int(msg.Usage.InputTokens),
		Output: int(msg.Usage.OutputTokens),
		Total:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		Source: SourceProvider,
	}
	return sb.String(), usage, nil
}

func classifyAnthropicErr(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return &Error{Kind: ErrTransport, Message: err.Error(), Retryable: true, Cause: err}
	}
	switch {
	case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
		return &Error{Kind: ErrAuth, Message: apiErr.Message, Cause: err}
	case apiErr.StatusCode == 429:
		return &Error{Kind: ErrRateLimited, Retryable: true, Message: apiErr.Message, Cause: err}
	case apiErr.StatusCode == 408:
		return &Error{Kind: ErrTimeout, Retryable: true, Message: apiErr.Message, Cause: err}
	case apiErr.StatusCode >= 500:
		return &Error{Kind: ErrTransport, Retryable: true, Message: apiErr.Message, Cause: err}
	default:
		return &Error{Kind: ErrBadResponse, Message: apiErr.Message, Cause: err}
	}
}
