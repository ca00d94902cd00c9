package models

import (
	"github.com/shopspring/decimal"

	"llm-gateway/internal/apperr"
)

type ChatRole string

const (
	ChatRoleSystem    ChatRole = "system"
	ChatRoleUser      ChatRole = "user"
	ChatRoleAssistant ChatRole = "assistant"
)

type ChatMessage struct {
	Role    ChatRole `json:"role"`
	Content string   `json:"content"`
}

// ChatCompletionRequest is the OpenAI-compatible chat input. Pointer fields
// distinguish "absent" from zero so defaults can be applied.
type ChatCompletionRequest struct {
	Model            string        `json:"model"`
	Messages         []ChatMessage `json:"messages"`
	Temperature      *float64      `json:"temperature,omitempty"`
	MaxTokens        *int          `json:"max_tokens,omitempty"`
	Stream           bool          `json:"stream,omitempty"`
	TopP             *float64      `json:"top_p,omitempty"`
	FrequencyPenalty *float64      `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64      `json:"presence_penalty,omitempty"`
	LLMAPIKeyID      string        `json:"llm_api_key_id,omitempty"`
}

func (r *ChatCompletionRequest) TemperatureOrDefault() float64 {
	return valueOr(r.Temperature, 1)
}

func (r *ChatCompletionRequest) TopPOrDefault() float64 {
	return valueOr(r.TopP, 1)
}

func (r *ChatCompletionRequest) FrequencyPenaltyOrDefault() float64 {
	return valueOr(r.FrequencyPenalty, 0)
}

func (r *ChatCompletionRequest) PresencePenaltyOrDefault() float64 {
	return valueOr(r.PresencePenalty, 0)
}

// Validate checks the request locally so malformed input never reaches a
// provider.
func (r *ChatCompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return apperr.Validation("messages array cannot be empty")
	}
	if r.Model == "" {
		return apperr.Validation("model cannot be empty")
	}
	for _, m := range r.Messages {
		switch m.Role {
		case ChatRoleSystem, ChatRoleUser, ChatRoleAssistant:
		default:
			return apperr.Validation("message role must be one of system, user, assistant")
		}
	}
	if t := r.TemperatureOrDefault(); t < 0 || t > 2 {
		return apperr.Validation("temperature must be between 0 and 2")
	}
	if p := r.TopPOrDefault(); p < 0 || p > 1 {
		return apperr.Validation("top_p must be between 0 and 1")
	}
	if p := r.FrequencyPenaltyOrDefault(); p < -2 || p > 2 {
		return apperr.Validation("frequency_penalty must be between -2 and 2")
	}
	if p := r.PresencePenaltyOrDefault(); p < -2 || p > 2 {
		return apperr.Validation("presence_penalty must be between -2 and 2")
	}
	if r.MaxTokens != nil && *r.MaxTokens <= 0 {
		return apperr.Validation("max_tokens must be positive")
	}
	if r.Stream {
		return apperr.Validation("streaming responses are not supported")
	}
	return nil
}

type ChatChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GatewayMetadata is appended to chat responses under x_llmhub
type GatewayMetadata struct {
	Provider     string          `json:"provider"`
	Cached       bool            `json:"cached"`
	Cost         decimal.Decimal `json:"cost"`
	ResponseTime int64           `json:"response_time"`
}

// ChatCompletionResult is the canonical chat output
type ChatCompletionResult struct {
	ID       string           `json:"id"`
	Object   string           `json:"object"`
	Created  int64            `json:"created"`
	Model    string           `json:"model"`
	Choices  []ChatChoice     `json:"choices"`
	Usage    ChatUsage        `json:"usage"`
	Metadata *GatewayMetadata `json:"x_llmhub,omitempty"`

	PromptCost     decimal.Decimal `json:"-"`
	CompletionCost decimal.Decimal `json:"-"`
}

// FinishReason returns the first choice's finish reason, if any
func (r *ChatCompletionResult) FinishReason() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].FinishReason
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
