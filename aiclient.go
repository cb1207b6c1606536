package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/generative-ai-go/genai"
	openai "github.com/openai/openai-go"
	openaiopt "github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// requestTimeout is the mandatory per-request timeout for every AI call
// (§4.D), composed onto the caller's context rather than set as a bare
// http.Client timeout so the caller's own cancellation still applies.
const requestTimeout = 300 * time.Second

// ActiveBeta is a single (key, value) beta-header pair that may override a
// model's base context/output limits (§3).
type ActiveBeta struct {
	Key   string
	Value string
}

// PromptStyle selects prompt wording conventions; it never alters transport.
type PromptStyle int

const (
	ClaudeStylePrompt PromptStyle = iota
	OpenAiStylePrompt
)

// ProviderMetadata describes an AI client's provider/model/limits (§6).
type ProviderMetadata struct {
	Provider    string
	Model       string
	MaxContext  int
	MaxResponse int
	ActiveBeta  *ActiveBeta
}

// PromptStyle derives the wording family from the provider name. Matching is
// case-sensitive against the exact strings each client implementation sets;
// unrecognized providers default to ClaudeStylePrompt.
func (m ProviderMetadata) PromptStyle() PromptStyle {
	switch m.Provider {
	case "OpenAI", "Ollama", "Gemini":
		return OpenAiStylePrompt
	default:
		return ClaudeStylePrompt
	}
}

// TransportFailureError wraps a non-2xx HTTP response or network-layer
// failure from an AiClient implementation (§7 TransportFailure).
type TransportFailureError struct {
	Provider string
	Status   int
	Body     string
	Err      error
}

func (e *TransportFailureError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: transport failure: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: transport failure: HTTP %d: %s", e.Provider, e.Status, e.Body)
}

func (e *TransportFailureError) Unwrap() error { return e.Err }

// AiClient abstracts a single-request send-prompt operation over a specific
// provider/model (§4.D). Implementations are single-request; the map stage
// composes them under bounded concurrency.
type AiClient interface {
	Send(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	Metadata() ProviderMetadata
}

// anthropicClient implements AiClient for direct Anthropic and
// Anthropic-on-Bedrock deployments; the two differ only in base URL and the
// model-identifier namespace resolved through the model registry's fuzzy
// match (scenario S6).
type anthropicClient struct {
	client   anthropic.Client
	provider string
	meta     ProviderMetadata
}

// NewAnthropicClient builds an AiClient for direct Anthropic API access.
func NewAnthropicClient(apiKey, baseURL, model string, activeBeta *ActiveBeta) AiClient {
	return newAnthropicClient("Anthropic", apiKey, baseURL, model, activeBeta)
}

// NewBedrockClient builds an AiClient for Anthropic models served through
// Bedrock. Wire shape is identical to direct Anthropic; the model identifier
// is typically a Bedrock-qualified string such as
// "us.anthropic.claude-3-7-sonnet-20250219-v1:0", resolved via the registry's
// fuzzy match when computing metadata.
func NewBedrockClient(apiKey, baseURL, model string, activeBeta *ActiveBeta) AiClient {
	return newAnthropicClient("Anthropic Bedrock", apiKey, baseURL, model, activeBeta)
}

func newAnthropicClient(provider, apiKey, baseURL, model string, activeBeta *ActiveBeta) AiClient {
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(baseURL))
	}
	return &anthropicClient{
		client:   anthropic.NewClient(opts...),
		provider: provider,
		meta:     GetModelRegistry().ResolveProviderMetadata(provider, model, activeBeta),
	}
}

func (c *anthropicClient) Metadata() ProviderMetadata { return c.meta }

func (c *anthropicClient) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.meta.Model),
		MaxTokens: int64(c.meta.MaxResponse),
		System:    []anthropic.TextBlockParam{{Text: systemPrompt}},
		Messages: []anthropic.MessageParam{
			{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(userPrompt)},
			},
		},
	})
	if err != nil {
		return "", &TransportFailureError{Provider: c.provider, Err: err}
	}
	if len(resp.Content) == 0 || resp.Content[0].Type != "text" {
		return "", &TransportFailureError{Provider: c.provider, Err: errors.New("no text content returned")}
	}
	return resp.Content[0].Text, nil
}

// openaiCompatClient implements AiClient for OpenAI and OpenAI-compatible
// chat-completions endpoints.
type openaiCompatClient struct {
	client   openai.Client
	provider string
	meta     ProviderMetadata
}

// NewOpenAIClient builds an AiClient for the OpenAI chat completions API.
func NewOpenAIClient(apiKey, baseURL, model string, activeBeta *ActiveBeta) AiClient {
	opts := []openaiopt.RequestOption{openaiopt.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, openaiopt.WithBaseURL(baseURL))
	}
	return &openaiCompatClient{
		client:   openai.NewClient(opts...),
		provider: "OpenAI",
		meta:     GetModelRegistry().ResolveProviderMetadata("OpenAI", model, activeBeta),
	}
}

func (c *openaiCompatClient) Metadata() ProviderMetadata { return c.meta }

func (c *openaiCompatClient) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: c.meta.Model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: param.NewOpt(0.7),
		MaxTokens:   param.NewOpt(int64(c.meta.MaxResponse)),
	})
	if err != nil {
		return "", &TransportFailureError{Provider: c.provider, Err: err}
	}
	if len(resp.Choices) == 0 {
		return "", &TransportFailureError{Provider: c.provider, Err: errors.New("no choices returned")}
	}
	return resp.Choices[0].Message.Content, nil
}

// ollamaClient implements AiClient for a local Ollama server.
type ollamaClient struct {
	endpoint string
	meta     ProviderMetadata
	http     *http.Client
}

// NewOllamaClient builds an AiClient for a local Ollama deployment.
func NewOllamaClient(endpoint, model string) AiClient {
	return &ollamaClient{
		endpoint: endpoint,
		meta:     GetModelRegistry().ResolveProviderMetadata("Ollama", model, nil),
		http:     &http.Client{},
	}
}

func (c *ollamaClient) Metadata() ProviderMetadata { return c.meta }

func (c *ollamaClient) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	reqBody := map[string]any{
		"model":  c.meta.Model,
		"prompt": systemPrompt + "\n" + userPrompt,
		"stream": false,
	}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", &TransportFailureError{Provider: "Ollama", Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", &TransportFailureError{Provider: "Ollama", Status: resp.StatusCode, Body: string(body)}
	}

	var result struct {
		Response string `json:"response"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", &TransportFailureError{Provider: "Ollama", Err: err}
	}
	return result.Response, nil
}

// geminiAiClient implements AiClient for Google Gemini, reusing the cached
// SDK client (getGeminiClient, declared in api.go) that the root command's
// diff-comment path already maintains.
type geminiAiClient struct {
	apiKey string
	meta   ProviderMetadata
}

// NewGeminiClient builds an AiClient for the Google Gemini API.
func NewGeminiClient(apiKey, model string) AiClient {
	return &geminiAiClient{
		apiKey: apiKey,
		meta:   GetModelRegistry().ResolveProviderMetadata("Gemini", model, nil),
	}
}

func (c *geminiAiClient) Metadata() ProviderMetadata { return c.meta }

func (c *geminiAiClient) Send(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	client, err := getGeminiClient(ctx, c.apiKey)
	if err != nil {
		return "", &TransportFailureError{Provider: "Gemini", Err: err}
	}

	model := client.GenerativeModel(c.meta.Model)
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(systemPrompt)}}

	resp, err := model.GenerateContent(ctx, genai.Text(userPrompt))
	if err != nil {
		return "", &TransportFailureError{Provider: "Gemini", Err: err}
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", &TransportFailureError{Provider: "Gemini", Err: errors.New("no content returned")}
	}

	var sb bytes.Buffer
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String(), nil
}

// firstNonEmpty returns the first non-empty string among vals.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// NewEngineAiClient builds the AiClient the map-reduce engine dispatches
// through, honoring the environment-variable provider/credential switches
// §6 documents as "observed, not owned by the engine" on top of the loaded
// Config. Precedence: explicit provider-selection env vars, then
// cfg.Provider, with CLAUDE_API_KEY/ANTHROPIC_API_KEY/ANTHROPIC_AUTH_TOKEN
// and the *_MODEL overrides layered onto whichever branch is chosen.
func NewEngineAiClient(cfg *Config) (AiClient, error) {
	switch {
	case os.Getenv("CLAUDE_CODE_USE_BEDROCK") != "":
		apiKey := firstNonEmpty(os.Getenv("CLAUDE_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicAPIKey)
		if apiKey == "" {
			return nil, &ConfigMissingError{What: "CLAUDE_API_KEY or ANTHROPIC_API_KEY (required for CLAUDE_CODE_USE_BEDROCK)"}
		}
		baseURL := os.Getenv("ANTHROPIC_BEDROCK_BASE_URL")
		model := firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), cfg.AnthropicModel)
		return NewBedrockClient(apiKey, baseURL, model, nil), nil

	case os.Getenv("USE_OPENAI") != "" || (cfg.Provider == OpenAI && os.Getenv("USE_OLLAMA") == ""):
		if cfg.OpenAIAPIKey == "" {
			return nil, &ConfigMissingError{What: "OPENAI_API_KEY"}
		}
		model := firstNonEmpty(os.Getenv("OPENAI_MODEL"), cfg.OpenAIModel)
		return NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIEndpoint, model, nil), nil

	case os.Getenv("USE_OLLAMA") != "" || cfg.Provider == Ollama:
		model := firstNonEmpty(os.Getenv("OLLAMA_MODEL"), cfg.OllamaModel)
		return NewOllamaClient(cfg.OllamaEndpoint, model), nil

	case cfg.Provider == Gemini:
		if cfg.GeminiAPIKey == "" {
			return nil, &ConfigMissingError{What: "GEMINI_API_KEY"}
		}
		return NewGeminiClient(cfg.GeminiAPIKey, cfg.GeminiModel), nil

	default:
		apiKey := firstNonEmpty(os.Getenv("CLAUDE_API_KEY"), os.Getenv("ANTHROPIC_API_KEY"), cfg.AnthropicAPIKey, os.Getenv("ANTHROPIC_AUTH_TOKEN"))
		if apiKey == "" {
			return nil, &ConfigMissingError{What: "CLAUDE_API_KEY, ANTHROPIC_API_KEY, or ANTHROPIC_AUTH_TOKEN"}
		}
		model := firstNonEmpty(os.Getenv("ANTHROPIC_MODEL"), cfg.AnthropicModel)
		return NewAnthropicClient(apiKey, cfg.AnthropicEndpoint, model, nil), nil
	}
}
