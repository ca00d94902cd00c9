package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// APIEndpoint names the gateway surface a usage record belongs to
type APIEndpoint string

const (
	EndpointChatCompletions APIEndpoint = "chat_completions"
	EndpointAudioTranscribe APIEndpoint = "audio_transcribe"
	EndpointAudioTranslate  APIEndpoint = "audio_translate"
	EndpointRealtime        APIEndpoint = "realtime"
	EndpointEmbeddings      APIEndpoint = "embeddings"
)

type RequestMetadata struct {
	RequestID            string   `json:"request_id"`
	Method               string   `json:"method"`
	Path                 string   `json:"path"`
	IPAddress            string   `json:"ip_address,omitempty"`
	UserAgent            string   `json:"user_agent,omitempty"`
	PromptTokens         *int     `json:"prompt_tokens,omitempty"`
	AudioDurationSeconds *float64 `json:"audio_duration_seconds,omitempty"`
	FileSizeBytes        *int64   `json:"file_size_bytes,omitempty"`
	Temperature          *float64 `json:"temperature,omitempty"`
	MaxTokens            *int     `json:"max_tokens,omitempty"`
	Stream               bool     `json:"stream"`
}

type ResponseMetadata struct {
	StatusCode        int    `json:"status_code"`
	LatencyMS         int64  `json:"latency_ms"`
	ProviderLatencyMS *int64 `json:"provider_latency_ms,omitempty"`
	CompletionTokens  *int   `json:"completion_tokens,omitempty"`
	TotalTokens       *int   `json:"total_tokens,omitempty"`
	FinishReason      string `json:"finish_reason,omitempty"`
}

type CacheType string

const (
	CacheTypeExact    CacheType = "exact"
	CacheTypeSemantic CacheType = "semantic"
)

type CacheInfo struct {
	CacheType       CacheType `json:"cache_type"`
	CacheHit        bool      `json:"cache_hit"`
	SimilarityScore *float64  `json:"similarity_score,omitempty"`
}

// CostData holds the USD cost split of a single request
type CostData struct {
	PromptCostUSD     decimal.NullDecimal `json:"prompt_cost_usd"`
	CompletionCostUSD decimal.NullDecimal `json:"completion_cost_usd"`
	AudioCostUSD      decimal.NullDecimal `json:"audio_cost_usd"`
	TotalCostUSD      decimal.Decimal     `json:"total_cost_usd"`
	CachedSavingsUSD  decimal.NullDecimal `json:"cached_savings_usd"`
}

// UsageLog is an immutable, append-only accounting record
type UsageLog struct {
	UsageID          string           `json:"usage_id"`
	ProjectID        string           `json:"project_id"`
	Endpoint         APIEndpoint      `json:"api_endpoint"`
	Provider         LLMProvider      `json:"provider"`
	Model            string           `json:"model"`
	RequestMetadata  RequestMetadata  `json:"request_metadata"`
	ResponseMetadata ResponseMetadata `json:"response_metadata"`
	CostData         CostData         `json:"cost_data"`
	CacheInfo        *CacheInfo       `json:"cache_info,omitempty"`
	Error            string           `json:"error,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

func NewUsageLog(projectID string, endpoint APIEndpoint, provider LLMProvider, model string,
	req RequestMetadata, resp ResponseMetadata, cost CostData) *UsageLog {
	return &UsageLog{
		UsageID:          "usage_" + uuid.NewString(),
		ProjectID:        projectID,
		Endpoint:         endpoint,
		Provider:         provider,
		Model:            model,
		RequestMetadata:  req,
		ResponseMetadata: resp,
		CostData:         cost,
		CreatedAt:        time.Now().UTC(),
	}
}

// IsSuccess reports a 2xx response without a recorded error
func (u *UsageLog) IsSuccess() bool {
	return u.Error == "" && u.ResponseMetadata.StatusCode >= 200 && u.ResponseMetadata.StatusCode < 300
}

func (u *UsageLog) IsCached() bool {
	return u.CacheInfo != nil && u.CacheInfo.CacheHit
}

// ActualCost is what the customer was charged; cache hits cost nothing
func (u *UsageLog) ActualCost() decimal.Decimal {
	if u.IsCached() {
		return decimal.Zero
	}
	return u.CostData.TotalCostUSD
}

// FullCost is the cost had the request gone upstream
func (u *UsageLog) FullCost() decimal.Decimal {
	if u.CostData.CachedSavingsUSD.Valid {
		return u.CostData.TotalCostUSD.Add(u.CostData.CachedSavingsUSD.Decimal)
	}
	return u.CostData.TotalCostUSD
}
