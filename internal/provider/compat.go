package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"

	openaicompat "github.com/sashabaranov/go-openai"

	"agentcore/internal/core"
)

// compatClient targets OpenAI-compatible gateways (local proxies, LiteLLM,
// self-hosted vLLM front-ends) that don't implement the official SDK's
// strict request validation. Kept alongside the official openai-go
// adapter per DESIGN.md's justification: gentica's own config.ProviderConfig
// carries a bare BaseURL field for exactly this case, and sashabaranov/go-openai
// is the teacher's second OpenAI dependency for it.
type compatClient struct {
	opts   ClientOptions
	client *openaicompat.Client
}

func newCompatClient(opts ClientOptions) core.ModelClient {
	cfg := openaicompat.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	return &compatClient{opts: opts, client: openaicompat.NewClientWithConfig(cfg)}
}

func (c *compatClient) buildMessages(req core.CompletionRequest) []openaicompat.ChatCompletionMessage {
	msgs := make([]openaicompat.ChatCompletionMessage, 0, len(req.Input)+1)
	if req.Instructions != "" {
		msgs = append(msgs, openaicompat.ChatCompletionMessage{Role: openaicompat.ChatMessageRoleSystem, Content: req.Instructions})
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
			role := openaicompat.ChatMessageRoleUser
			if item.Message.Role == core.RoleAssistant {
				role = openaicompat.ChatMessageRoleAssistant
			}
			msgs = append(msgs, openaicompat.ChatCompletionMessage{Role: role, Content: text})
		case core.ItemFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			msgs = append(msgs, openaicompat.ChatCompletionMessage{
				Role:       openaicompat.ChatMessageRoleTool,
				Content:    item.FunctionCallOutput.Content,
				ToolCallID: item.FunctionCallOutput.CallID,
			})
		}
	}
	return msgs
}

func (c *compatClient) Stream(ctx context.Context, req core.CompletionRequest) (<-chan core.StreamEvent, error) {
	out := make(chan core.StreamEvent)

	stream, err := c.client.CreateChatCompletionStream(ctx, openaicompat.ChatCompletionRequest{
		Model:    req.Model,
		Messages: c.buildMessages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)
		defer stream.Close()
		var textBuf string

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				slog.Error("core/provider: compat stream error", "error", err)
				out <- core.StreamEvent{Kind: core.StreamError, Err: err}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			delta := resp.Choices[0].Delta.Content
			if delta != "" {
				textBuf += delta
				out <- core.StreamEvent{Kind: core.StreamContentDelta, Delta: delta}
			}
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
		out <- core.StreamEvent{Kind: core.StreamComplete}
	}()

	return out, nil
}
