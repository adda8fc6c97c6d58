package provider

import (
	"context"
	"net/http"

	"google.golang.org/genai"

	"agentcore/internal/core"
)

// geminiClient streams completions through google.golang.org/genai,
// grounded on gentica's vertexai.go (genai.ClientConfig with
// Backend: genai.BackendVertexAI, an HTTP client swapped in under
// Debug) generalized to also cover the plain Gemini API backend, since
// the spec's ConfigureSession only names a provider string, not a
// Vertex-vs-API-key distinction.
type geminiClient struct {
	opts   ClientOptions
	client *genai.Client
}

func newGeminiClient(opts ClientOptions) core.ModelClient {
	cc := &genai.ClientConfig{APIKey: opts.APIKey, Backend: genai.BackendGeminiAPI}
	if project := opts.param("project"); project != "" {
		cc.Project = project
		cc.Location = opts.param("location")
		cc.Backend = genai.BackendVertexAI
	}
	if opts.Debug {
		cc.HTTPClient = &http.Client{}
	}
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return &geminiClient{opts: opts}
	}
	return &geminiClient{opts: opts, client: client}
}

func (c *geminiClient) buildContents(req core.CompletionRequest) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Input))
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
			role := genai.RoleUser
			if item.Message.Role == core.RoleAssistant {
				role = genai.RoleModel
			}
			contents = append(contents, genai.NewContentFromText(text, role))
		case core.ItemFunctionCallOutput:
			if item.FunctionCallOutput == nil {
				continue
			}
			contents = append(contents, genai.NewContentFromText(item.FunctionCallOutput.Content, genai.RoleUser))
		}
	}
	return contents
}

func (c *geminiClient) Stream(ctx context.Context, req core.CompletionRequest) (<-chan core.StreamEvent, error) {
	out := make(chan core.StreamEvent)
	if c.client == nil {
		close(out)
		return out, nil
	}

	var genConfig *genai.GenerateContentConfig
	if req.Instructions != "" {
		genConfig = &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(req.Instructions, genai.RoleUser),
		}
	}

	stream := c.client.Models.GenerateContentStream(ctx, req.Model, c.buildContents(req), genConfig)

	go func() {
		defer close(out)
		var textBuf string

		for resp, err := range stream {
			if err != nil {
				out <- core.StreamEvent{Kind: core.StreamError, Err: err}
				return
			}
			text := resp.Text()
			if text != "" {
				textBuf += text
				out <- core.StreamEvent{Kind: core.StreamContentDelta, Delta: text}
			}
			if resp.UsageMetadata != nil {
				out <- core.StreamEvent{Kind: core.StreamTokenCount, Tokens: &core.TokenCountMsg{
					InputTokens:  int64(resp.UsageMetadata.PromptTokenCount),
					OutputTokens: int64(resp.UsageMetadata.CandidatesTokenCount),
				}}
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
