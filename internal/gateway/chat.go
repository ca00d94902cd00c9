package gateway

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"llm-gateway/models"
	"llm-gateway/observability"
)

// ChatService runs chat completion requests
type ChatService struct {
	providers *ProviderSet
	keys      *ProviderKeyService
	usage     UsageStore
	tasks     TaskSubmitter
}

// NewChatService wires the chat use case
func NewChatService(providers *ProviderSet, keys *ProviderKeyService, usage UsageStore, tasks TaskSubmitter) *ChatService {
	return &ChatService{
		providers: providers,
		keys:      keys,
		usage:     usage,
		tasks:     tasks,
	}
}

// Complete validates req, calls the provider and queues a usage record
func (s *ChatService) Complete(ctx context.Context, project *models.Project, req *models.ChatCompletionRequest, meta models.RequestMetadata) (*models.ChatCompletionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	provider, err := s.providers.Select(req.Model)
	if err != nil {
		return nil, err
	}

	key, err := s.keys.Resolve(ctx, project, provider.Name(), req.LLMAPIKeyID)
	if err != nil {
		return nil, err
	}

	meta.Temperature = req.Temperature
	meta.MaxTokens = req.MaxTokens
	meta.Stream = req.Stream

	start := time.Now()
	result, err := provider.ChatCompletion(ctx, key.Secret, req)
	elapsed := time.Since(start)

	log := observability.WithContext(ctx).With(
		"project_id", project.ProjectID,
		"provider", provider.Name(),
		"model", req.Model)

	if err != nil {
		log.Warn("chat completion failed", "error", err, "latency_ms", elapsed.Milliseconds())
		submitUsage(s.tasks, s.usage, failedUsage(project.ProjectID, models.EndpointChatCompletions,
			provider.Name(), req.Model, meta, elapsed, err))
		return nil, err
	}

	submitUsage(s.tasks, s.usage, chatUsage(project.ProjectID, provider.Name(), req.Model, meta, result, elapsed))

	total := result.PromptCost.Add(result.CompletionCost)
	observability.GetMetrics().RecordChatUsage(string(provider.Name()), req.Model,
		result.Usage.PromptTokens, result.Usage.CompletionTokens, total.InexactFloat64())

	log.Info("chat completion finished",
		"prompt_tokens", result.Usage.PromptTokens,
		"completion_tokens", result.Usage.CompletionTokens,
		"cost_usd", total.String(),
		"latency_ms", elapsed.Milliseconds())

	return result, nil
}

func chatUsage(projectID string, provider models.LLMProvider, model string, meta models.RequestMetadata,
	result *models.ChatCompletionResult, elapsed time.Duration) *models.UsageLog {
	prompt := result.Usage.PromptTokens
	completion := result.Usage.CompletionTokens
	total := result.Usage.TotalTokens
	latency := elapsed.Milliseconds()
	meta.PromptTokens = &prompt

	return models.NewUsageLog(projectID, models.EndpointChatCompletions, provider, model, meta,
		models.ResponseMetadata{
			StatusCode:        200,
			LatencyMS:         latency,
			ProviderLatencyMS: &latency,
			CompletionTokens:  &completion,
			TotalTokens:       &total,
			FinishReason:      result.FinishReason(),
		},
		models.CostData{
			PromptCostUSD:     decimal.NewNullDecimal(result.PromptCost),
			CompletionCostUSD: decimal.NewNullDecimal(result.CompletionCost),
			TotalCostUSD:      result.PromptCost.Add(result.CompletionCost),
		})
}
