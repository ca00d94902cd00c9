package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/shopspring/decimal"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
	"llm-gateway/models"
)

// mockOpenAIClient implements openaiClient for testing
type mockOpenAIClient struct {
	completionFunc func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

func (m *mockOpenAIClient) CreateChatCompletion(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
	return m.completionFunc(ctx, params, opts...)
}

func resetBreakers() {
	SetGlobalRegistry(NewCircuitBreakerRegistry(DefaultCircuitBreakerConfig))
}

func chatRequest(model string) *models.ChatCompletionRequest {
	return &models.ChatCompletionRequest{
		Model: model,
		Messages: []models.ChatMessage{
			{Role: models.ChatRoleSystem, Content: "You are helpful"},
			{Role: models.ChatRoleUser, Content: "Say hello"},
		},
	}
}

func TestNewOpenAIProvider(t *testing.T) {
	cfg := config.NewTestConfig()
	cfg.Provider.OpenAIBaseURL = "http://localhost:9999/v1/"

	p := NewOpenAIProvider(cfg)
	if p == nil {
		t.Fatal("provider should not be nil")
	}
	if p.baseURL != "http://localhost:9999/v1" {
		t.Errorf("baseURL = %s, want trailing slash trimmed", p.baseURL)
	}
	if p.Name() != models.ProviderOpenAI {
		t.Errorf("Name() = %s, want openai", p.Name())
	}
	if p.httpClient.Timeout != cfg.ProviderTimeout() {
		t.Errorf("timeout = %v, want %v", p.httpClient.Timeout, cfg.ProviderTimeout())
	}
}

func TestChatCompletion_Success(t *testing.T) {
	resetBreakers()

	var gotParams openai.ChatCompletionNewParams
	var gotOpts int
	mockClient := &mockOpenAIClient{
		completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
			gotParams = params
			gotOpts = len(opts)
			return &openai.ChatCompletion{
				ID:      "chatcmpl-123",
				Created: 1700000000,
				Model:   "gpt-4-0613",
				Choices: []openai.ChatCompletionChoice{
					{
						Index:        0,
						Message:      openai.ChatCompletionMessage{Content: "Hello from GPT!"},
						FinishReason: "stop",
					},
				},
				Usage: openai.CompletionUsage{
					PromptTokens:     1000,
					CompletionTokens: 500,
					TotalTokens:      1500,
				},
			}, nil
		},
	}

	p := newOpenAIProviderWithClient(mockClient, http.DefaultClient, "http://unused")
	req := chatRequest("gpt-4")
	temp := 0.2
	req.Temperature = &temp

	result, err := p.ChatCompletion(context.Background(), "sk-test", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(gotParams.Model) != "gpt-4" {
		t.Errorf("model param = %s, want gpt-4", gotParams.Model)
	}
	if len(gotParams.Messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(gotParams.Messages))
	}
	if gotParams.Temperature.Value != 0.2 {
		t.Errorf("temperature param = %v, want 0.2", gotParams.Temperature.Value)
	}
	if gotOpts != 1 {
		t.Errorf("expected the API key to be passed as a request option, got %d options", gotOpts)
	}

	if result.ID != "chatcmpl-123" {
		t.Errorf("ID = %s, want chatcmpl-123", result.ID)
	}
	if len(result.Choices) != 1 || result.Choices[0].Message.Content != "Hello from GPT!" {
		t.Errorf("unexpected choices: %+v", result.Choices)
	}
	if result.FinishReason() != "stop" {
		t.Errorf("FinishReason() = %s, want stop", result.FinishReason())
	}
	if result.Usage.TotalTokens != 1500 {
		t.Errorf("TotalTokens = %d, want 1500", result.Usage.TotalTokens)
	}

	// gpt-4: 1000/1000*0.03 + 500/1000*0.06
	if !result.Metadata.Cost.Equal(decimal.RequireFromString("0.06")) {
		t.Errorf("cost = %s, want 0.06", result.Metadata.Cost)
	}
	if result.Metadata.Provider != "openai" || result.Metadata.Cached {
		t.Errorf("unexpected metadata: %+v", result.Metadata)
	}
}

func TestChatCompletion_ProviderErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		code     string
		wantKind apperr.Kind
		wantCode string
	}{
		{"invalid key", http.StatusUnauthorized, "invalid_api_key", apperr.KindAuthentication, apperr.CodeInvalidAPIKey},
		{"rate limited", http.StatusTooManyRequests, "rate_limit_exceeded", apperr.KindRateLimit, apperr.CodeRateLimitExceeded},
		{"bad request", http.StatusBadRequest, "", apperr.KindBadRequest, apperr.CodeProviderBadRequest},
		{"server error", http.StatusInternalServerError, "", apperr.KindExternalAPI, apperr.CodeProviderError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetBreakers()
			mockClient := &mockOpenAIClient{
				completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
					return nil, &openai.Error{
						StatusCode: tt.status,
						Code:       tt.code,
						Message:    "upstream says no",
						Request:    httptest.NewRequest(http.MethodPost, "/chat/completions", nil),
						Response:   &http.Response{StatusCode: tt.status},
					}
				},
			}

			p := newOpenAIProviderWithClient(mockClient, http.DefaultClient, "http://unused")
			_, err := p.ChatCompletion(context.Background(), "sk-test", chatRequest("gpt-4"))

			appErr := apperr.As(err)
			if appErr.Kind != tt.wantKind {
				t.Errorf("kind = %s, want %s", appErr.Kind, tt.wantKind)
			}
			if appErr.PublicCode() != tt.wantCode {
				t.Errorf("code = %s, want %s", appErr.PublicCode(), tt.wantCode)
			}
		})
	}
}

func TestChatCompletion_NetworkError(t *testing.T) {
	resetBreakers()
	mockClient := &mockOpenAIClient{
		completionFunc: func(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error) {
			return nil, errors.New("dial tcp: connection refused")
		},
	}

	p := newOpenAIProviderWithClient(mockClient, http.DefaultClient, "http://unused")
	_, err := p.ChatCompletion(context.Background(), "sk-test", chatRequest("gpt-4"))

	if !apperr.IsKind(err, apperr.KindExternalAPI) {
		t.Errorf("expected external API error, got %v", err)
	}
	if categorizeAPIError(err) != "connection_error" {
		t.Errorf("category = %s, want connection_error", categorizeAPIError(err))
	}
}

func TestBuildChatParams_Defaults(t *testing.T) {
	params := buildChatParams(chatRequest("gpt-3.5-turbo"))

	if params.Temperature.Value != 1 {
		t.Errorf("default temperature = %v, want 1", params.Temperature.Value)
	}
	if params.TopP.Value != 1 {
		t.Errorf("default top_p = %v, want 1", params.TopP.Value)
	}
	if params.MaxTokens.Valid() {
		t.Error("max_tokens should be omitted when not requested")
	}
}

func newTranscriptionServer(t *testing.T, handler http.HandlerFunc) (*OpenAIProvider, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)
	return newOpenAIProviderWithClient(&mockOpenAIClient{}, server.Client(), server.URL+"/v1"), &calls
}

func TestTranscribe_Success(t *testing.T) {
	resetBreakers()

	p, calls := newTranscriptionServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("path = %s, want /v1/audio/transcriptions", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-upstream" {
			t.Errorf("Authorization = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Fatalf("ParseMultipartForm() error = %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("model = %q, want whisper-1", got)
		}
		if got := r.FormValue("language"); got != "en" {
			t.Errorf("language = %q, want en", got)
		}
		if got := r.MultipartForm.Value["timestamp_granularities[]"]; len(got) != 2 {
			t.Errorf("timestamp_granularities = %v", got)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("FormFile() error = %v", err)
		}
		defer file.Close()
		data, _ := io.ReadAll(file)
		if string(data) != "RIFFfakeaudio" {
			t.Errorf("file content = %q", data)
		}
		if header.Filename != "audio.wav" {
			t.Errorf("filename = %q, want audio.wav default", header.Filename)
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"text":     "hello world",
			"language": "english",
			"duration": 60.0,
			"segments": []map[string]any{{"id": 0, "start": 0.0, "end": 1.5, "text": "hello world"}},
			"words":    []map[string]any{{"word": "hello", "start": 0.0, "end": 0.5}},
		})
	})

	req := &models.TranscriptionRequest{
		File:                   []byte("RIFFfakeaudio"),
		Language:               "en",
		ResponseFormat:         models.ResponseFormatVerboseJSON,
		TimestampGranularities: []models.TimestampGranularity{models.GranularityWord, models.GranularitySegment},
	}

	result, err := p.Transcribe(context.Background(), "sk-upstream", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *calls != 1 {
		t.Errorf("expected 1 upstream call, got %d", *calls)
	}
	if result.Text != "hello world" {
		t.Errorf("Text = %q", result.Text)
	}
	if result.Duration == nil || *result.Duration != 60 {
		t.Errorf("Duration = %v, want 60", result.Duration)
	}
	if len(result.Segments) != 1 || len(result.Words) != 1 {
		t.Errorf("expected 1 segment and 1 word, got %d and %d", len(result.Segments), len(result.Words))
	}
	if result.Usage == nil || !result.Usage.EstimatedCostUSD.Equal(decimal.RequireFromString("0.006")) {
		t.Errorf("Usage = %+v, want cost 0.006", result.Usage)
	}
}

func TestTranscribe_PlainTextFormat(t *testing.T) {
	resetBreakers()

	p, _ := newTranscriptionServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, "1\n00:00:00,000 --> 00:00:01,000\nhello\n")
	})

	result, err := p.Transcribe(context.Background(), "sk", &models.TranscriptionRequest{
		File:           []byte("audio"),
		ResponseFormat: models.ResponseFormatSRT,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Text, "00:00:00,000") {
		t.Errorf("expected raw SRT body, got %q", result.Text)
	}
	if result.Usage != nil {
		t.Error("no duration means no usage block")
	}
}

func TestTranscribe_UpstreamErrors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind apperr.Kind
	}{
		{"invalid key envelope", 401, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, apperr.KindAuthentication},
		{"rate limit envelope", 429, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`, apperr.KindRateLimit},
		{"bad audio", 400, `{"error":{"message":"Invalid file format","type":"invalid_request_error","code":null}}`, apperr.KindBadRequest},
		{"gateway html", 502, `<html>Bad Gateway</html>`, apperr.KindExternalAPI},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetBreakers()
			p, _ := newTranscriptionServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			_, err := p.Transcribe(context.Background(), "sk", &models.TranscriptionRequest{File: []byte("audio")})
			if !apperr.IsKind(err, tt.wantKind) {
				t.Errorf("error = %v, want kind %s", err, tt.wantKind)
			}
		})
	}
}

func TestTranscribe_MalformedJSON(t *testing.T) {
	resetBreakers()
	p, _ := newTranscriptionServer(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "{not json")
	})

	_, err := p.Transcribe(context.Background(), "sk", &models.TranscriptionRequest{File: []byte("audio")})
	if !apperr.IsKind(err, apperr.KindExternalAPI) {
		t.Errorf("expected external API error, got %v", err)
	}
}

func TestVerifyKey(t *testing.T) {
	tests := []struct {
		name     string
		apiKey   string
		status   int
		body     string
		wantKind apperr.Kind
	}{
		{"accepted", "sk-good", http.StatusOK, `{"object":"list","data":[]}`, ""},
		{"rejected", "sk-revoked", http.StatusUnauthorized, `{"error":{"message":"Incorrect API key","type":"invalid_request_error","code":"invalid_api_key"}}`, apperr.KindAuthentication},
		{"empty key", "", http.StatusOK, "", apperr.KindValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, calls := newTranscriptionServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodGet || r.URL.Path != "/v1/models" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if got := r.Header.Get("Authorization"); got != "Bearer "+tt.apiKey {
					t.Errorf("Authorization = %q", got)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			err := p.VerifyKey(context.Background(), tt.apiKey)
			if tt.wantKind == "" {
				if err != nil {
					t.Errorf("VerifyKey() error = %v", err)
				}
				return
			}
			if !apperr.IsKind(err, tt.wantKind) {
				t.Errorf("error = %v, want kind %s", err, tt.wantKind)
			}
			if tt.apiKey == "" && atomic.LoadInt32(calls) != 0 {
				t.Error("empty key must not reach the provider")
			}
		})
	}
}
