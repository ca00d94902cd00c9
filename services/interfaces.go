package services

import (
	"context"

	"llm-gateway/models"
)

// Provider is an upstream LLM vendor adapter. apiKey is the decrypted
// provider secret for this call only.
type Provider interface {
	Name() models.LLMProvider
	Transcribe(ctx context.Context, apiKey string, req *models.TranscriptionRequest) (*models.TranscriptionResult, error)
	ChatCompletion(ctx context.Context, apiKey string, req *models.ChatCompletionRequest) (*models.ChatCompletionResult, error)
}

// Compile-time interface verification
var _ Provider = (*OpenAIProvider)(nil)
