package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"llm-gateway/models"
)

// RepositoryInterface defines all repository operations
type RepositoryInterface interface {
	// Health and lifecycle
	Close()
	Health(ctx context.Context) error

	// Projects
	GetProject(ctx context.Context, projectID string) (*models.Project, error)
	CreateProject(ctx context.Context, p *models.Project) error
	UpdateProjectStatus(ctx context.Context, projectID string, status models.ProjectStatus) error
	DeleteProject(ctx context.Context, projectID string) error

	// Project API keys
	FindActiveProjectKeyByFingerprint(ctx context.Context, fingerprint string) (*models.ProjectAPIKey, error)
	FindActiveProjectKeysByPrefix(ctx context.Context, prefix string) ([]*models.ProjectAPIKey, error)
	TouchProjectKey(ctx context.Context, keyID string, usedAt time.Time) error
	CreateProjectKey(ctx context.Context, k *models.ProjectAPIKey) error
	DeactivateProjectKey(ctx context.Context, keyID string) error

	// Provider API keys
	GetLLMAPIKey(ctx context.Context, keyID string) (*models.LLMAPIKey, error)
	FindDefaultLLMAPIKey(ctx context.Context, projectID string, provider models.LLMProvider) (*models.LLMAPIKey, error)
	ListLLMAPIKeys(ctx context.Context, projectID string, provider models.LLMProvider) ([]*models.LLMAPIKey, error)
	CreateLLMAPIKey(ctx context.Context, k *models.LLMAPIKey) error
	MarkLLMAPIKeyUsed(ctx context.Context, keyID string, usedAt time.Time) error
	DeactivateLLMAPIKey(ctx context.Context, keyID string) error

	// Usage
	CreateUsageLog(ctx context.Context, u *models.UsageLog) error
	ListUsageLogs(ctx context.Context, projectID string, limit int) ([]*models.UsageLog, error)
	TotalCost(ctx context.Context, projectID string, since time.Time) (decimal.Decimal, error)

	// Transcriptions
	CreateTranscription(ctx context.Context, h *models.TranscriptionHistory) error
	GetTranscription(ctx context.Context, transcriptionID string) (*models.TranscriptionHistory, error)
	FindTranscriptionByHash(ctx context.Context, projectID, fileHash string) (*models.TranscriptionHistory, error)
	ListTranscriptions(ctx context.Context, projectID string, limit, offset int) ([]*models.TranscriptionHistory, error)
	CountTranscriptions(ctx context.Context, projectID string) (int64, error)
}

// Ensure Repository implements RepositoryInterface
var _ RepositoryInterface = (*Repository)(nil)
