package provider

import (
	"context"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"agentcore/internal/core"
)

// openaiClient streams chat completions through the official openai-go
// SDK, grounded on the teacher's openai_test.go fixture (client built via
// option.WithAPIKey/option.WithBaseURL, streamed with
// client.Chat.Completions.NewStreaming, guarded against providers that
// return an empty choices array on a 200 instead of erroring — the
// "empty choices" bounds check below is lifted directly from that test's
// documented regression).
type openaiClient struct {
	opts   ClientOptions
	client openai.Client
}

func newOpenAIClient(opts ClientOptions) core.ModelClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if apiVersion := opts.param("apiVersion"); apiVersion != "" {
		reqOpts = append(reqOpts, option.WithQuery("api-version", apiVersion))
	}
	return &openaiClient{opts: opts, client: openai.NewClient(reqOpts...)}
}

func (c *openaiClient) buildMessages(req core.CompletionRequest) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Input)+1)
	if req.Instructions != "" {
		msgs = append(msgs, openai.SystemMessage(req.Instructions))
	}
	for _, item := range req.Input {
		switch item.Kind {
		case core.ItemMessage:
			if item.Message == nil {
				continue
			}
			var text string
			for _, part := range item.Message.Content {
				text += part.Text
			}
			if item.Message.Role == core.RoleAssistant {
				msgs = append(msgs, openai.AssistantMessage(text))
			} else {
				msgs = append(msgs, openai.UserMessage(text))
			}
		case core.ItemFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			msgs = append(msgs, openai.ToolMessage(item.FunctionCallOutput.Content, item.FunctionCallOutput.CallID))
		}
	}
	return msgs
}

func (c *openaiClient) Stream(ctx context.Context, req core.CompletionRequest) (<-chan core.StreamEvent, error) {
	out := make(chan core.StreamEvent)

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(req.Model),
		Messages: c.buildMessages(req),
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		var textBuf string
		var usage core.TokenCountMsg

		for stream.Next() {
			chunk := stream.Current()

			// A provider that doesn't strictly implement the OpenAI API can
			// return 200 with an empty choices array instead of 404; guard
			// against indexing it directly.
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta
			if delta.Content != "" {
				textBuf += delta.Content
				out <- core.StreamEvent{Kind: core.StreamContentDelta, Delta: delta.Content}
			}
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = chunk.Usage.PromptTokens
				usage.OutputTokens = chunk.Usage.CompletionTokens
			}
		}
		if err := stream.Err(); err != nil {
			slog.Error("core/provider: openai stream error", "error", err)
			out <- core.StreamEvent{Kind: core.StreamError, Err: err}
			return
		}

		if textBuf != "" {
			out <- core.StreamEvent{Kind: core.StreamItem, Item: &core.ResponseItem{
				Kind: core.ItemMessage,
				Message: &core.MessageItem{
					Role:    core.RoleAssistant,
					Content: []core.ContentPart{{Kind: core.ContentOutputText, Text: textBuf}},
				},
			}}
		}
		out <- core.StreamEvent{Kind: core.StreamTokenCount, Tokens: &usage}
		out <- core.StreamEvent{Kind: core.StreamComplete}
	}()

	return out, nil
}
