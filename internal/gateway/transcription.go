package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"llm-gateway/internal/apperr"
	"llm-gateway/internal/background"
	"llm-gateway/models"
	"llm-gateway/observability"
)

// ContentDigest returns the SHA-256 hex digest of data. It depends on the
// bytes only, never on file name or options.
func ContentDigest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// TranscriptionService runs audio transcription requests
type TranscriptionService struct {
	providers *ProviderSet
	keys      *ProviderKeyService
	history   TranscriptionStore
	usage     UsageStore
	tasks     TaskSubmitter
}

// NewTranscriptionService wires the transcription use case
func NewTranscriptionService(providers *ProviderSet, keys *ProviderKeyService, history TranscriptionStore, usage UsageStore, tasks TaskSubmitter) *TranscriptionService {
	return &TranscriptionService{
		providers: providers,
		keys:      keys,
		history:   history,
		usage:     usage,
		tasks:     tasks,
	}
}

// Transcribe validates the upload against the project, calls the provider
// and queues the history record. The caller never waits on the write.
func (s *TranscriptionService) Transcribe(ctx context.Context, project *models.Project, req *models.TranscriptionRequest, meta models.RequestMetadata) (*models.TranscriptionResult, error) {
	if len(req.File) == 0 {
		return nil, apperr.Validation("No file provided")
	}
	if limit := project.MaxFileSizeBytes(); int64(len(req.File)) > limit {
		return nil, apperr.Validation(fmt.Sprintf("File size exceeds maximum of %d MB", limit/(1024*1024)))
	}

	fileHash := ContentDigest(req.File)
	model := req.ModelOrDefault()
	provider, err := s.providers.Select(model)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.Resolve(ctx, project, provider.Name(), req.LLMAPIKeyID)
	if err != nil {
		return nil, err
	}

	log := observability.WithContext(ctx).With(
		"project_id", project.ProjectID,
		"provider", provider.Name(),
		"model", model,
		"file_hash", fileHash)

	start := time.Now()
	result, err := provider.Transcribe(ctx, key.Secret, req)
	elapsed := time.Since(start)

	fileSize := int64(len(req.File))
	meta.FileSizeBytes = &fileSize
	meta.Temperature = req.Temperature

	if err != nil {
		log.Warn("transcription failed", "error", err, "latency_ms", elapsed.Milliseconds())
		s.recordFailure(project.ProjectID, provider.Name(), model, meta, elapsed, err)
		return nil, err
	}

	cost := decimal.Zero
	if result.Usage != nil && result.Usage.EstimatedCostUSD != nil {
		cost = *result.Usage.EstimatedCostUSD
	}

	history := models.NewTranscriptionHistory(project.ProjectID, provider.Name(), fileHash,
		fileNameOrDefault(req.FileName), fileSize, result, model, cost, elapsed)
	s.submitHistory(history)

	seconds := 0.0
	if result.Duration != nil {
		seconds = *result.Duration
	}
	observability.GetMetrics().RecordTranscriptionUsage(string(provider.Name()), model, seconds, cost.InexactFloat64())

	log.Info("transcription completed",
		"transcription_id", history.TranscriptionID,
		"duration_seconds", seconds,
		"cost_usd", cost.String(),
		"latency_ms", elapsed.Milliseconds())

	return result, nil
}

func (s *TranscriptionService) submitHistory(history *models.TranscriptionHistory) {
	s.tasks.Submit(background.Task{
		Name: "transcription_history",
		Run: func(ctx context.Context) error {
			return s.history.CreateTranscription(ctx, history)
		},
	})
}

func (s *TranscriptionService) recordFailure(projectID string, provider models.LLMProvider, model string, meta models.RequestMetadata, elapsed time.Duration, err error) {
	usage := failedUsage(projectID, models.EndpointAudioTranscribe, provider, model, meta, elapsed, err)
	submitUsage(s.tasks, s.usage, usage)
}

func fileNameOrDefault(name string) string {
	if name == "" {
		return models.DefaultAudioFileName
	}
	return name
}

// failedUsage builds the usage record for a request the provider rejected
func failedUsage(projectID string, endpoint models.APIEndpoint, provider models.LLMProvider, model string,
	meta models.RequestMetadata, elapsed time.Duration, err error) *models.UsageLog {
	appErr := apperr.As(err)
	latency := elapsed.Milliseconds()
	usage := models.NewUsageLog(projectID, endpoint, provider, model, meta,
		models.ResponseMetadata{
			StatusCode:        appErr.StatusCode(),
			LatencyMS:         latency,
			ProviderLatencyMS: &latency,
		},
		models.CostData{TotalCostUSD: decimal.Zero})
	usage.Error = appErr.PublicCode() + ": " + appErr.Message
	return usage
}

func submitUsage(tasks TaskSubmitter, store UsageStore, usage *models.UsageLog) {
	tasks.Submit(background.Task{
		Name: "usage_log",
		Run: func(ctx context.Context) error {
			return store.CreateUsageLog(ctx, usage)
		},
	})
}
