package ember

import "context"

// ModelContentPart is one part of a multimodal model-facing message: either
// plain text or an inline base64 data-url image.
type ModelContentPart struct {
	Text     string `json:"text,omitempty"`
	ImageURL string `json:"image_url,omitempty"`
}

// ModelMessage is one message in the request sent to the upstream
// completion endpoint, after Message→model-request mapping (§4.5).
type ModelMessage struct {
	Role    string             `json:"role"` // "system" | "user" | "assistant" | "tool"
	Parts   []ModelContentPart `json:"parts"`
	ToolUse string             `json:"tool_use,omitempty"` // ToolUseID.String(), for role=="tool"
}

// LLMConfig is the merged per-request model configuration: per-process
// default overridden field-by-field by a per-request override (§4.5).
type LLMConfig struct {
	Model               string   `json:"model,omitempty"`
	Temperature         *float64 `json:"temperature,omitempty"`
	Stream              *bool    `json:"stream,omitempty"`
	FrequencyPenalty    *float64 `json:"frequency_penalty,omitempty"`
	PresencePenalty     *float64 `json:"presence_penalty,omitempty"`
	TopP                *float64 `json:"top_p,omitempty"`
	User                *string  `json:"user,omitempty"`
	Seed                *int64   `json:"seed,omitempty"`
	MaxCompletionTokens *int     `json:"max_completion_tokens,omitempty"`
	ParallelFunctionCall *bool   `json:"parallel_function_call,omitempty"`
	SystemPromptLang    *string  `json:"system_prompt_lang,omitempty"`
	CustomSystemPrefix  *string  `json:"custom_system_prefix,omitempty"`
}

// Merge returns a new LLMConfig with each field taken from override when
// present, else from the receiver (the per-process default).
func (c LLMConfig) Merge(override LLMConfig) LLMConfig {
	merged := c
	if override.Model != "" {
		merged.Model = override.Model
	}
	if override.Temperature != nil {
		merged.Temperature = override.Temperature
	}
	if override.Stream != nil {
		merged.Stream = override.Stream
	}
	if override.FrequencyPenalty != nil {
		merged.FrequencyPenalty = override.FrequencyPenalty
	}
	if override.PresencePenalty != nil {
		merged.PresencePenalty = override.PresencePenalty
	}
	if override.TopP != nil {
		merged.TopP = override.TopP
	}
	if override.User != nil {
		merged.User = override.User
	}
	if override.Seed != nil {
		merged.Seed = override.Seed
	}
	if override.MaxCompletionTokens != nil {
		merged.MaxCompletionTokens = override.MaxCompletionTokens
	}
	if override.ParallelFunctionCall != nil {
		merged.ParallelFunctionCall = override.ParallelFunctionCall
	}
	if override.SystemPromptLang != nil {
		merged.SystemPromptLang = override.SystemPromptLang
	}
	if override.CustomSystemPrefix != nil {
		merged.CustomSystemPrefix = override.CustomSystemPrefix
	}
	return merged
}

// ChatRequest is what the orchestrator hands the Provider for one model
// turn.
type ChatRequest struct {
	Messages []ModelMessage
	Config   LLMConfig
}

// Usage is the token-count payload carried by the stream's final frame.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	CachedTokens int `json:"cached_tokens,omitempty"`
}

// StreamChunkKind discriminates a StreamChunk: ordinary completion text
// that must be run through the in-band tool-call Parser, or a native
// "reasoning" channel the upstream model exposes directly, which the
// orchestrator passes straight through as ReasoningDelta without parsing
// (it cannot contain a tool call).
type StreamChunkKind int

const (
	StreamChunkContent StreamChunkKind = iota
	StreamChunkReasoning
)

// StreamChunk is one piece of raw output from the upstream model.
type StreamChunk struct {
	Kind StreamChunkKind
	Text string
}

// Provider is the generic LLM completion endpoint the orchestrator drives.
// ChatStream streams raw token chunks rather than structured tool-call
// events: tool calls are discovered in-band by the Parser, not natively by
// the provider. ChatStream closes ch before it returns, on success and on
// error alike.
type Provider interface {
	Name() string
	ChatStream(ctx context.Context, req ChatRequest, ch chan<- StreamChunk) (Usage, error)
}
