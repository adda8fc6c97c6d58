// Package provider adapts the core's ModelClient interface onto the real
// provider SDKs gentica depends on: anthropic-sdk-go, openai-go,
// google.golang.org/genai, and sashabaranov/go-openai for bare
// OpenAI-compatible gateways that don't speak the official SDK's strict
// request shape.
package provider

import (
	"agentcore/internal/core"
)

// ClientOptions configures one provider client. Grounded on gentica's
// providerClientOptions (llm/provider/azure.go, vertexai.go): baseURL,
// apiKey and a free-form extraParams map threaded through to
// provider-specific options like Azure's apiVersion or Vertex's
// project/location.
type ClientOptions struct {
	APIKey      string
	BaseURL     string
	Model       string
	ExtraParams map[string]string
	Debug       bool
}

func (o ClientOptions) param(key string) string {
	if o.ExtraParams == nil {
		return ""
	}
	return o.ExtraParams[key]
}

// New constructs the ModelClient for kind ("anthropic", "openai", "gemini",
// "openai-compat", "azure", "vertex"), mirroring the dispatch vertexai.go
// does on model id substrings but made explicit and provider-name driven
// since the core's ConfigureSession carries a Provider field directly.
func New(kind string, opts ClientOptions) core.ModelClient {
	switch kind {
	case "anthropic":
		return newAnthropicClient(opts)
	case "azure":
		return newAzureClient(opts)
	case "openai":
		return newOpenAIClient(opts)
	case "openai-compat":
		return newCompatClient(opts)
	case "gemini", "vertex":
		return newGeminiClient(opts)
	default:
		return newOpenAIClient(opts)
	}
}
