package provider

import (
	"context"
	"errors"
	"strings"

	"github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oresponses "github.com/openai/openai-go/responses"
	oshared "github.com/openai/openai-go/shared"
)

// openAIClient talks to the OpenAI-compatible family (OpenAI itself, and any
// custom base URL that speaks the same Responses API) through openai-go.
// A fresh openai.Client is built on every chat call from that provider's
// base URL and key; nothing is cached between calls, since openai.Client is
// cheap to construct and providers may point at different endpoints.
type openAIClient struct{}

func newOpenAIClient() *openAIClient { return &openAIClient{} }

func (c *openAIClient) chat(ctx context.Context, cfg Config, messages []Message, opts Options) (string, Usage, error) {
	clientOpts := []ooption.RequestOption{ooption.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientOpts = append(clientOpts, ooption.WithBaseURL(cfg.BaseURL))
	}
	oc := openai.NewClient(clientOpts...)

	var instructions string
	items := make(oresponses.ResponseInputParam, 0, len(messages))
	for _, m := range messages {
		if m.Role == "system" {
			if instructions != "" {
				instructions += "\n"
			}
			instructions += m.Content
			continue
		}
		role := oresponses.EasyInputMessageRoleUser
		if m.Role == "assistant" {
			role = oresponses.EasyInputMessageRoleAssistant
		}
		items = append(items, oresponses.ResponseInputItemParamOfMessage(m.Content, role))
	}

	params := oresponses.ResponseNewParams{
		Model:             oshared.ResponsesModel(cfg.Model),
		Input:             oresponses.ResponseNewParamsInputUnion{OfInputItemList: items},
		ParallelToolCalls: openai.Bool(false),
	}
	if instructions != "" {
		params.Instructions = openai.String(instructions)
	}
	if opts.MaxTokens > 0 {
		params.MaxOutputTokens = openai.Int(int64(opts.MaxTokens))
	}
	if opts.Temperature > 0 {
		params.Temperature = openai.Float(opts.Temperature)
	}
	if opts.ResponseFormat == FormatJSONObject {
		obj := oshared.ResponseFormatJSONObjectParam{}
		params.Text = oresponses.ResponseTextConfigParam{
			Format: oresponses.ResponseFormatTextConfigUnionParam{OfJSONObject: &obj},
		}
	}

	resp, err := oc.Responses.New(ctx, params)
	if err != nil {
		return "", Usage{}, classifyOpenAIErr(err)
	}

	text := extractOpenAIResponseText(*resp)
	usage := Usage{
		Input:  int(resp.Usage.InputTokens),
		Output: int(resp.Usage.OutputTokens),
		Total:  int(resp.Usage.TotalTokens),
		Source: SourceProvider,
	}
	return text, usage, nil
}

func extractOpenAIResponseText(resp oresponses.Response) string {
	var sb strings.Builder
	for _, item := range resp.Output {
		if strings.TrimSpace(item.Type) != "message" {
			continue
		}
		msg := item.AsMessage()
		for _, part := range msg.Content {
			if strings.TrimSpace(part.Type) != "output_text" {
				continue
			}
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.TrimSpace(part.Text))
		}
	}
	return sb.String()
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.Error
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
