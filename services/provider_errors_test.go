package services

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"llm-gateway/internal/apperr"
)

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		body       string
		wantKind   apperr.Kind
		wantCode   string
		wantStatus int
	}{
		{
			name:       "401 envelope",
			status:     401,
			body:       `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`,
			wantKind:   apperr.KindAuthentication,
			wantCode:   "invalid_api_key",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "403 without body",
			status:     403,
			body:       ``,
			wantKind:   apperr.KindAuthentication,
			wantCode:   "invalid_api_key",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "insufficient quota is a rate limit",
			status:     429,
			body:       `{"error":{"message":"You exceeded your current quota","type":"insufficient_quota","code":"insufficient_quota"}}`,
			wantKind:   apperr.KindRateLimit,
			wantCode:   "rate_limit_exceeded",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "404 unknown model",
			status:     404,
			body:       `{"error":{"message":"The model does not exist","type":"invalid_request_error","code":"model_not_found"}}`,
			wantKind:   apperr.KindBadRequest,
			wantCode:   "invalid_request",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "500 envelope",
			status:     500,
			body:       `{"error":{"message":"The server had an error","type":"server_error","code":null}}`,
			wantKind:   apperr.KindExternalAPI,
			wantCode:   "provider_error",
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "numeric code",
			status:     503,
			body:       `{"error":{"message":"overloaded","type":"server_error","code":503}}`,
			wantKind:   apperr.KindExternalAPI,
			wantCode:   "provider_error",
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unknown status falls back to text",
			status:     0,
			body:       `upstream said 429 Too Many Requests`,
			wantKind:   apperr.KindRateLimit,
			wantCode:   "rate_limit_exceeded",
			wantStatus: http.StatusTooManyRequests,
		},
		{
			name:       "unknown status authentication text",
			status:     0,
			body:       `authentication failed`,
			wantKind:   apperr.KindAuthentication,
			wantCode:   "invalid_api_key",
			wantStatus: http.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyProviderError(tt.status, []byte(tt.body))
			if err.Kind != tt.wantKind {
				t.Errorf("Kind = %s, want %s", err.Kind, tt.wantKind)
			}
			if err.PublicCode() != tt.wantCode {
				t.Errorf("PublicCode() = %s, want %s", err.PublicCode(), tt.wantCode)
			}
			if err.StatusCode() != tt.wantStatus {
				t.Errorf("StatusCode() = %d, want %d", err.StatusCode(), tt.wantStatus)
			}
		})
	}
}

func TestClassifyText(t *testing.T) {
	tests := map[string]apperr.Kind{
		"HTTP 401 Unauthorized":       apperr.KindAuthentication,
		"rate_limit reached":          apperr.KindRateLimit,
		"status 400: bad audio":       apperr.KindBadRequest,
		"something else entirely":     apperr.KindExternalAPI,
		"Authentication header wrong": apperr.KindAuthentication,
	}
	for text, want := range tests {
		if got := classifyText(text).Kind; got != want {
			t.Errorf("classifyText(%q) = %s, want %s", text, got, want)
		}
	}
}

func TestTransportError(t *testing.T) {
	err := transportError(context.DeadlineExceeded)
	if err.PublicCode() != "provider_timeout" {
		t.Errorf("PublicCode() = %s, want provider_timeout", err.PublicCode())
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Error("transport error should wrap its cause")
	}
	if categorizeAPIError(err) != "timeout" {
		t.Errorf("category = %s, want timeout", categorizeAPIError(err))
	}
}

func TestCategorizeAPIError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{apperr.New(apperr.KindRateLimit, "x"), "rate_limit"},
		{apperr.New(apperr.KindAuthentication, "x"), "auth_error"},
		{apperr.BadRequest("x"), "bad_request"},
		{apperr.ServiceUnavailable("x", nil), "circuit_open"},
		{apperr.ExternalAPI("x"), "provider_error"},
		{errors.New("weird"), "unknown"},
	}
	for _, tt := range tests {
		if got := categorizeAPIError(tt.err); got != tt.want {
			t.Errorf("categorizeAPIError(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
