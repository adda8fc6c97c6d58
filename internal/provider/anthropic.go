package provider

import (
	"context"
	"log/slog"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"agentcore/internal/core"
)

// anthropicClient streams completions through anthropic-sdk-go's Messages
// streaming API, grounded on the shape anthropic_test.go in the teacher
// pack exercises (client construction via option.WithAPIKey, streaming
// message responses consumed as an iterator of events).
type anthropicClient struct {
	opts   ClientOptions
	client anthropic.Client
}

func newAnthropicClient(opts ClientOptions) core.ModelClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	return &anthropicClient{opts: opts, client: anthropic.NewClient(reqOpts...)}
}

func newAzureClient(opts ClientOptions) core.ModelClient {
	// Azure's OpenAI-compatible endpoint speaks the same wire protocol as
	// openai-go with an api-version query param, mirrored from gentica's
	// azure.go (azure.WithEndpoint/azure.WithAPIKey wrapping an
	// openaiClient). apiVersion defaults the same way the teacher does.
	apiVersion := opts.param("apiVersion")
	if apiVersion == "" {
		apiVersion = "2025-01-01-preview"
	}
	if opts.ExtraParams == nil {
		opts.ExtraParams = map[string]string{}
	}
	opts.ExtraParams["apiVersion"] = apiVersion
	return newOpenAIClient(opts)
}

func (c *anthropicClient) buildMessages(req core.CompletionRequest) []anthropic.MessageParam {
	msgs := make([]anthropic.MessageParam, 0, len(req.Input))
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
				msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(text)))
			} else {
				msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		case core.ItemFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(item.FunctionCallOutput.Content)))
		}
	}
	return msgs
}

func (c *anthropicClient) Stream(ctx context.Context, req core.CompletionRequest) (<-chan core.StreamEvent, error) {
	out := make(chan core.StreamEvent)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: 4096,
		System:    []anthropic.TextBlockParam{{Text: req.Instructions}},
		Messages:  c.buildMessages(req),
	}

	stream := c.client.Messages.NewStreaming(ctx, params)

	go func() {
		defer close(out)
		message := anthropic.Message{}
		var textBuf string

		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				slog.Error("core/provider: anthropic accumulate failed", "error", err)
				out <- core.StreamEvent{Kind: core.StreamError, Err: err}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if delta.Delta.Text != "" {
					textBuf += delta.Delta.Text
					out <- core.StreamEvent{Kind: core.StreamContentDelta, Delta: delta.Delta.Text}
				}
				if delta.Delta.Thinking != "" {
					out <- core.StreamEvent{Kind: core.StreamReasoningDelta, Delta: delta.Delta.Thinking}
				}
			}
		}
		if err := stream.Err(); err != nil {
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

		out <- core.StreamEvent{Kind: core.StreamTokenCount, Tokens: &core.TokenCountMsg{
			InputTokens:  message.Usage.InputTokens,
			OutputTokens: message.Usage.OutputTokens,
		}}
		out <- core.StreamEvent{Kind: core.StreamComplete}
	}()

	return out, nil
}
