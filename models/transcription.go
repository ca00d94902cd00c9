package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultAudioFileName      = "audio.wav"
)

type ResponseFormat string

const (
	ResponseFormatJSON        ResponseFormat = "json"
	ResponseFormatText        ResponseFormat = "text"
	ResponseFormatSRT         ResponseFormat = "srt"
	ResponseFormatVerboseJSON ResponseFormat = "verbose_json"
	ResponseFormatVTT         ResponseFormat = "vtt"
)

// ParseResponseFormat validates a caller-supplied response format
func ParseResponseFormat(s string) (ResponseFormat, error) {
	switch f := ResponseFormat(s); f {
	case ResponseFormatJSON, ResponseFormatText, ResponseFormatSRT, ResponseFormatVerboseJSON, ResponseFormatVTT:
		return f, nil
	}
	return "", fmt.Errorf("unsupported response_format %q", s)
}

// IsStructured reports whether the upstream answers with a JSON document
func (f ResponseFormat) IsStructured() bool {
	return f == "" || f == ResponseFormatJSON || f == ResponseFormatVerboseJSON
}

type TimestampGranularity string

const (
	GranularityWord    TimestampGranularity = "word"
	GranularitySegment TimestampGranularity = "segment"
)

// ParseTimestampGranularities splits a comma-separated list, dropping
// unknown entries.
func ParseTimestampGranularities(s string) []TimestampGranularity {
	var out []TimestampGranularity
	for _, part := range strings.Split(s, ",") {
		switch g := TimestampGranularity(strings.TrimSpace(part)); g {
		case GranularityWord, GranularitySegment:
			out = append(out, g)
		}
	}
	return out
}

// TranscriptionRequest is the canonical, provider-neutral transcription input
type TranscriptionRequest struct {
	File                   []byte
	FileName               string
	Model                  string
	Language               string
	Prompt                 string
	ResponseFormat         ResponseFormat
	Temperature            *float64
	TimestampGranularities []TimestampGranularity
	LLMAPIKeyID            string
}

// ModelOrDefault returns the requested model or whisper-1
func (r *TranscriptionRequest) ModelOrDefault() string {
	if r.Model == "" {
		return DefaultTranscriptionModel
	}
	return r.Model
}

type TranscriptionSegment struct {
	ID               int      `json:"id"`
	Start            float64  `json:"start"`
	End              float64  `json:"end"`
	Text             string   `json:"text"`
	Tokens           []int    `json:"tokens,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	AvgLogprob       *float64 `json:"avg_logprob,omitempty"`
	CompressionRatio *float64 `json:"compression_ratio,omitempty"`
	NoSpeechProb     *float64 `json:"no_speech_prob,omitempty"`
}

type TranscriptionWord struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type TranscriptionUsage struct {
	AudioDurationSeconds float64          `json:"audio_duration_seconds"`
	TokensUsed           *int             `json:"tokens_used,omitempty"`
	EstimatedCostUSD     *decimal.Decimal `json:"estimated_cost_usd,omitempty"`
}

// TranscriptionResult is the canonical transcription output
type TranscriptionResult struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language,omitempty"`
	Duration *float64               `json:"duration,omitempty"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
	Words    []TranscriptionWord    `json:"words,omitempty"`
	Usage    *TranscriptionUsage    `json:"usage,omitempty"`
}

// TranscriptionHistory is the immutable record of a completed transcription
type TranscriptionHistory struct {
	TranscriptionID string          `json:"transcription_id"`
	ProjectID       string          `json:"project_id"`
	Provider        LLMProvider     `json:"provider"`
	FileHash        string          `json:"file_hash"`
	FileName        string          `json:"file_name"`
	FileSizeBytes   int64           `json:"file_size_bytes"`
	DurationSeconds *float64        `json:"duration_seconds,omitempty"`
	Model           string          `json:"model"`
	Language        string          `json:"language,omitempty"`
	Text            string          `json:"text"`
	CostUSD         decimal.Decimal `json:"cost_usd"`
	ResponseTimeMS  int64           `json:"response_time_ms"`
	FromCache       bool            `json:"from_cache"`
	CreatedAt       time.Time       `json:"created_at"`
}

func NewTranscriptionHistory(projectID string, provider LLMProvider, fileHash, fileName string,
	fileSize int64, result *TranscriptionResult, model string, cost decimal.Decimal, responseTime time.Duration) *TranscriptionHistory {
	return &TranscriptionHistory{
		TranscriptionID: "trans_" + uuid.NewString(),
		ProjectID:       projectID,
		Provider:        provider,
		FileHash:        fileHash,
		FileName:        fileName,
		FileSizeBytes:   fileSize,
		DurationSeconds: result.Duration,
		Model:           model,
		Language:        result.Language,
		Text:            result.Text,
		CostUSD:         cost,
		ResponseTimeMS:  responseTime.Milliseconds(),
		CreatedAt:       time.Now().UTC(),
	}
}
