package services

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
	"llm-gateway/models"
	"llm-gateway/observability"
)

// maxProviderErrorBody caps how much of an upstream error body is read
const maxProviderErrorBody = 64 * 1024

// openaiClient defines the interface for OpenAI API calls (for testing)
type openaiClient interface {
	CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// openaiClientWrapper wraps the openai.Client to implement our interface
type openaiClientWrapper struct {
	client openai.Client
}

func (w *openaiClientWrapper) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return w.client.Chat.Completions.New(ctx, params, opts...)
}

// OpenAIProvider talks to OpenAI or any endpoint speaking the same API.
// The upstream secret is supplied per call; the provider holds none.
type OpenAIProvider struct {
	client     openaiClient
	httpClient *http.Client
	baseURL    string
}

// NewOpenAIProvider creates a provider for the configured base URL
func NewOpenAIProvider(cfg *config.Config) *OpenAIProvider {
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout()}
	baseURL := strings.TrimRight(cfg.Provider.OpenAIBaseURL, "/")

	client := openai.NewClient(
		option.WithBaseURL(baseURL+"/"),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0),
	)

	return &OpenAIProvider{
		client:     &openaiClientWrapper{client: client},
		httpClient: httpClient,
		baseURL:    baseURL,
	}
}

// newOpenAIProviderWithClient creates a provider with a custom chat client (for testing)
func newOpenAIProviderWithClient(client openaiClient, httpClient *http.Client, baseURL string) *OpenAIProvider {
	return &OpenAIProvider{
		client:     client,
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// Name identifies the provider
func (p *OpenAIProvider) Name() models.LLMProvider {
	return models.ProviderOpenAI
}

// VerifyKey checks that apiKey is accepted upstream by listing models.
// It does not go through the circuit breaker.
func (p *OpenAIProvider) VerifyKey(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return apperr.Validation("API key is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/models", nil)
	if err != nil {
		return apperr.Internal("failed to create request", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxProviderErrorBody))
		return ClassifyProviderError(resp.StatusCode, raw)
	}
	return nil
}

// openAITranscription is the JSON / verbose_json transcription body
type openAITranscription struct {
	Text     string                        `json:"text"`
	Language string                        `json:"language"`
	Duration *float64                      `json:"duration"`
	Segments []models.TranscriptionSegment `json:"segments"`
	Words    []models.TranscriptionWord    `json:"words"`
}

// Transcribe sends audio to the transcription endpoint
func (p *OpenAIProvider) Transcribe(ctx context.Context, apiKey string, req *models.TranscriptionRequest) (*models.TranscriptionResult, error) {
	const operation = "transcribe"
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(BreakerOpenAI, operation)
	timer := metrics.NewTimer()

	result, err := WithCircuitBreaker(ctx, BreakerOpenAI, func() (*models.TranscriptionResult, error) {
		body, contentType, err := buildTranscriptionForm(req)
		if err != nil {
			return nil, apperr.Internal("failed to build transcription request", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/audio/transcriptions", body)
		if err != nil {
			return nil, apperr.Internal("failed to create request", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
		httpReq.Header.Set("Content-Type", contentType)

		resp, err := p.httpClient.Do(httpReq)
		if err != nil {
			return nil, transportError(err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxProviderErrorBody))
			return nil, ClassifyProviderError(resp.StatusCode, raw)
		}

		return decodeTranscription(resp.Body, req.ResponseFormat)
	})

	timer.ObserveExternalAPI(BreakerOpenAI, operation)
	if err != nil {
		metrics.RecordExternalAPIError(BreakerOpenAI, operation, categorizeAPIError(err))
		return nil, err
	}

	if result.Duration != nil {
		cost := TranscriptionCost(*result.Duration)
		result.Usage = &models.TranscriptionUsage{
			AudioDurationSeconds: *result.Duration,
			EstimatedCostUSD:     &cost,
		}
	}
	return result, nil
}

func buildTranscriptionForm(req *models.TranscriptionRequest) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	fileName := req.FileName
	if fileName == "" {
		fileName = models.DefaultAudioFileName
	}
	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(req.File); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"model", req.ModelOrDefault()},
		{"language", req.Language},
		{"prompt", req.Prompt},
		{"response_format", string(req.ResponseFormat)},
	}
	if req.Temperature != nil {
		fields = append(fields, [2]string{"temperature", strconv.FormatFloat(*req.Temperature, 'f', -1, 64)})
	}
	for _, g := range req.TimestampGranularities {
		fields = append(fields, [2]string{"timestamp_granularities[]", string(g)})
	}

	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return &buf, w.FormDataContentType(), nil
}

func decodeTranscription(body io.Reader, format models.ResponseFormat) (*models.TranscriptionResult, error) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindExternalAPI, "failed to read provider response", err)
	}

	if !format.IsStructured() {
		return &models.TranscriptionResult{Text: string(raw)}, nil
	}

	var decoded openAITranscription
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return nil, apperr.Wrap(apperr.KindExternalAPI, "failed to decode provider response", err)
	}

	return &models.TranscriptionResult{
		Text:     decoded.Text,
		Language: decoded.Language,
		Duration: decoded.Duration,
		Segments: decoded.Segments,
		Words:    decoded.Words,
	}, nil
}

// ChatCompletion sends a chat request and prices the result
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, apiKey string, req *models.ChatCompletionRequest) (*models.ChatCompletionResult, error) {
	const operation = "chat_completion"
	metrics := observability.GetMetrics()
	metrics.RecordExternalAPIRequest(BreakerOpenAI, operation)
	timer := metrics.NewTimer()

	start := time.Now()
	completion, err := WithCircuitBreaker(ctx, BreakerOpenAI, func() (*openai.ChatCompletion, error) {
		completion, err := p.client.CreateChatCompletion(ctx, buildChatParams(req), option.WithAPIKey(apiKey))
		if err != nil {
			return nil, classifySDKError(err)
		}
		return completion, nil
	})
	latency := time.Since(start)

	timer.ObserveExternalAPI(BreakerOpenAI, operation)
	if err != nil {
		metrics.RecordExternalAPIError(BreakerOpenAI, operation, categorizeAPIError(err))
		return nil, err
	}

	result := &models.ChatCompletionResult{
		ID:      completion.ID,
		Object:  string(completion.Object),
		Created: completion.Created,
		Model:   completion.Model,
		Choices: make([]models.ChatChoice, 0, len(completion.Choices)),
		Usage: models.ChatUsage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}
	if result.Model == "" {
		result.Model = req.Model
	}

	for _, c := range completion.Choices {
		result.Choices = append(result.Choices, models.ChatChoice{
			Index: int(c.Index),
			Message: models.ChatMessage{
				Role:    models.ChatRoleAssistant,
				Content: c.Message.Content,
			},
			FinishReason: c.FinishReason,
		})
	}

	result.PromptCost, result.CompletionCost = ChatCost(req.Model, result.Usage.PromptTokens, result.Usage.CompletionTokens)
	result.Metadata = &models.GatewayMetadata{
		Provider:     string(models.ProviderOpenAI),
		Cached:       false,
		Cost:         result.PromptCost.Add(result.CompletionCost),
		ResponseTime: latency.Milliseconds(),
	}

	return result, nil
}

func buildChatParams(req *models.ChatCompletionRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case models.ChatRoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case models.ChatRoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:            shared.ChatModel(req.Model),
		Messages:         messages,
		Temperature:      openai.Float(req.TemperatureOrDefault()),
		TopP:             openai.Float(req.TopPOrDefault()),
		FrequencyPenalty: openai.Float(req.FrequencyPenaltyOrDefault()),
		PresencePenalty:  openai.Float(req.PresencePenaltyOrDefault()),
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	return params
}
