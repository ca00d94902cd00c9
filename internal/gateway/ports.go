// Package gateway holds the request use cases: resolve the upstream
// credential, call the provider, and hand the usage record to the
// background dispatcher.
package gateway

import (
	"context"
	"time"

	"llm-gateway/internal/background"
	"llm-gateway/models"
)

// LLMKeyStore is the persistence port for provider credentials. Lookups
// return nil (and no error) when nothing matches.
type LLMKeyStore interface {
	GetLLMAPIKey(ctx context.Context, keyID string) (*models.LLMAPIKey, error)
	FindDefaultLLMAPIKey(ctx context.Context, projectID string, provider models.LLMProvider) (*models.LLMAPIKey, error)
	MarkLLMAPIKeyUsed(ctx context.Context, keyID string, usedAt time.Time) error
}

// UsageStore persists usage records
type UsageStore interface {
	CreateUsageLog(ctx context.Context, log *models.UsageLog) error
}

// TranscriptionStore persists transcription history
type TranscriptionStore interface {
	CreateTranscription(ctx context.Context, history *models.TranscriptionHistory) error
}

// Decrypter opens vault blobs
type Decrypter interface {
	DecryptString(blob string) (string, error)
}

// TaskSubmitter accepts deferred work without blocking
type TaskSubmitter interface {
	Submit(task background.Task) bool
}
