// Package models holds the wire schemas shared by the gateway: the client
// (OpenAI-compatible) chat completion format, the upstream provider format
// and the error envelope rendered to callers.
package models

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Valid reports whether the role is one the client format accepts.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	default:
		return false
	}
}

// FinishReason is the client vocabulary for why generation stopped.
type FinishReason string

const (
	FinishStop          FinishReason = "stop"
	FinishLength        FinishReason = "length"
	FinishContentFilter FinishReason = "content_filter"
	FinishToolCalls     FinishReason = "tool_calls"
	// FinishError marks a stream that ended abnormally (upstream failure,
	// connection loss or deadline) rather than by model decision.
	FinishError FinishReason = "error"
)

// ChatMessage is the canonical message representation. Values are copied,
// never shared between requests.
type ChatMessage struct {
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Name      string `json:"name,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

// Usage records token accounting as reported by the upstream.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ClientRequest is a chat/completions request in the client format.
// Optional sampling parameters are nil when the caller omitted them.
type ClientRequest struct {
	Model            string
	Messages         []ChatMessage
	Stream           bool
	Temperature      *float64
	TopP             *float64
	MaxTokens        *int
	N                *int
	PresencePenalty  *float64
	FrequencyPenalty *float64
	Stop             []string
	LogitBias        map[string]float64
	User             string
	Seed             *int64
}

// UpstreamRequest is the payload sent to the provider. Absent optional
// parameters are omitted so the provider's own defaults apply.
type UpstreamRequest struct {
	Model            string             `json:"model"`
	Messages         []ChatMessage      `json:"messages"`
	Stream           bool               `json:"stream"`
	Temperature      *float64           `json:"temperature,omitempty"`
	TopP             *float64           `json:"top_p,omitempty"`
	MaxTokens        *int               `json:"max_tokens,omitempty"`
	N                *int               `json:"n,omitempty"`
	PresencePenalty  *float64           `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64           `json:"frequency_penalty,omitempty"`
	Stop             []string           `json:"stop,omitempty"`
	LogitBias        map[string]float64 `json:"logit_bias,omitempty"`
	User             string             `json:"user,omitempty"`
	Seed             *int64             `json:"seed,omitempty"`
}

// UpstreamResponse is a non-streamed provider reply.
type UpstreamResponse struct {
	ID      string           `json:"id"`
	Created int64            `json:"created"`
	Model   string           `json:"model"`
	Choices []UpstreamChoice `json:"choices"`
	Usage   *Usage           `json:"usage,omitempty"`
}

// UpstreamChoice is one candidate in an UpstreamResponse.
type UpstreamChoice struct {
	Index        int             `json:"index"`
	Message      UpstreamMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// UpstreamMessage is the provider's message shape. Reasoning models report
// their thinking in either reasoning_content or reasoning.
type UpstreamMessage struct {
	Role             string `json:"role"`
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content,omitempty"`
	Reasoning        string `json:"reasoning,omitempty"`
}

// UpstreamStreamChunk is the JSON payload of one upstream data line.
type UpstreamStreamChunk struct {
	ID      string                 `json:"id"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []UpstreamStreamChoice `json:"choices"`
	Usage   *Usage                 `json:"usage,omitempty"`
}

// UpstreamStreamChoice is one choice of an upstream stream chunk.
type UpstreamStreamChoice struct {
	Index        int           `json:"index"`
	Delta        UpstreamDelta `json:"delta"`
	FinishReason *string       `json:"finish_reason"`
}

// UpstreamDelta carries the incremental fragment of an upstream chunk.
type UpstreamDelta struct {
	Role             string  `json:"role,omitempty"`
	Content          *string `json:"content,omitempty"`
	ReasoningContent *string `json:"reasoning_content,omitempty"`
	Reasoning        *string `json:"reasoning,omitempty"`
}

// ClientResponse is the non-streamed reply in the client format.
type ClientResponse struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Created int64    `json:"created"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Choice is one candidate of a ClientResponse.
type Choice struct {
	Index        int          `json:"index"`
	Message      ChatMessage  `json:"message"`
	FinishReason FinishReason `json:"finish_reason"`
}

// ClientStreamChunk is one streamed unit in the client format. ID is
// constant across every chunk of a response.
type ClientStreamChunk struct {
	ID      string         `json:"id"`
	Object  string         `json:"object"`
	Created int64          `json:"created"`
	Model   string         `json:"model"`
	Choices []StreamChoice `json:"choices"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// StreamChoice carries a delta; FinishReason is null until the last chunk.
type StreamChoice struct {
	Index        int           `json:"index"`
	Delta        Delta         `json:"delta"`
	FinishReason *FinishReason `json:"finish_reason"`
}

// Delta is the incremental content of a stream choice.
type Delta struct {
	Role      Role   `json:"role,omitempty"`
	Content   string `json:"content,omitempty"`
	Reasoning string `json:"reasoning,omitempty"`
}

const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectModel               = "model"
	ObjectList                = "list"
)

// ErrorType classifies failures rendered to clients.
type ErrorType string

const (
	ErrorInvalidRequest ErrorType = "invalid_request"
	ErrorUpstream       ErrorType = "upstream_error"
	ErrorTimeout        ErrorType = "timeout"
	ErrorRateLimited    ErrorType = "rate_limited"
	ErrorInternal       ErrorType = "internal"
)

// ErrorEnvelope is the client-format error body.
type ErrorEnvelope struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes a single error.
type ErrorDetail struct {
	Message string    `json:"message"`
	Type    ErrorType `json:"type"`
	Code    string    `json:"code,omitempty"`
}

// Model describes one model identifier available upstream.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the /models listing.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}
