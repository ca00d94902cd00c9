package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"

	"llm-gateway/internal/apperr"
)

// providerErrorEnvelope is the OpenAI-style error body
type providerErrorEnvelope struct {
	Error *struct {
		Message string          `json:"message"`
		Type    string          `json:"type"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// ClassifyProviderError maps a non-2xx upstream response to a gateway error.
// The structured envelope is preferred; raw text matching is the fallback
// for bodies that do not decode.
func ClassifyProviderError(status int, body []byte) *apperr.Error {
	var env providerErrorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error != nil {
		return classify(status, rawCode(env.Error.Code), env.Error.Type, env.Error.Message)
	}

	text := strings.TrimSpace(string(body))
	if text == "" {
		text = http.StatusText(status)
	}
	if status != 0 {
		return classify(status, "", "", text)
	}
	return classifyText(text)
}

// classifySDKError maps errors returned by the OpenAI SDK
func classifySDKError(err error) *apperr.Error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return appErr
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return classify(apiErr.StatusCode, apiErr.Code, apiErr.Type, apiErr.Message)
	}

	return transportError(err)
}

func transportError(err error) *apperr.Error {
	switch {
	case errors.Is(err, context.Canceled):
		return apperr.Wrap(apperr.KindExternalAPI, "provider request cancelled", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperr.Wrap(apperr.KindExternalAPI, "provider request timed out", err).WithCode("provider_timeout")
	default:
		return apperr.Wrap(apperr.KindExternalAPI, "failed to reach provider", err)
	}
}

func classify(status int, code, typ, message string) *apperr.Error {
	if message == "" {
		message = http.StatusText(status)
	}
	msg := fmt.Sprintf("provider returned %d: %s", status, message)

	switch {
	case code == "invalid_api_key" || status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.New(apperr.KindAuthentication, msg).WithCode(apperr.CodeInvalidAPIKey)
	case status == http.StatusTooManyRequests || code == "rate_limit_exceeded" || code == "insufficient_quota" || typ == "insufficient_quota":
		return apperr.New(apperr.KindRateLimit, msg).WithCode(apperr.CodeRateLimitExceeded)
	case status == http.StatusBadRequest || status == http.StatusNotFound ||
		status == http.StatusUnprocessableEntity || status == http.StatusRequestEntityTooLarge:
		return apperr.New(apperr.KindBadRequest, msg).WithCode(apperr.CodeProviderBadRequest)
	case status == 0:
		return classifyText(message)
	default:
		return apperr.New(apperr.KindExternalAPI, msg).WithCode(apperr.CodeProviderError)
	}
}

// classifyText is the last-resort substring classifier
func classifyText(text string) *apperr.Error {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "401") || strings.Contains(lower, "authentication") || strings.Contains(lower, "invalid_api_key"):
		return apperr.New(apperr.KindAuthentication, text).WithCode(apperr.CodeInvalidAPIKey)
	case strings.Contains(lower, "429") || strings.Contains(lower, "rate_limit"):
		return apperr.New(apperr.KindRateLimit, text).WithCode(apperr.CodeRateLimitExceeded)
	case strings.Contains(lower, "400"):
		return apperr.New(apperr.KindBadRequest, text).WithCode(apperr.CodeProviderBadRequest)
	default:
		return apperr.New(apperr.KindExternalAPI, text).WithCode(apperr.CodeProviderError)
	}
}

func rawCode(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// numeric or null codes
	if string(raw) == "null" {
		return ""
	}
	return string(raw)
}

// categorizeAPIError categorizes an error for metrics purposes
func categorizeAPIError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		switch appErr.Kind {
		case apperr.KindRateLimit:
			return "rate_limit"
		case apperr.KindAuthentication:
			return "auth_error"
		case apperr.KindBadRequest, apperr.KindValidation:
			return "bad_request"
		case apperr.KindServiceUnavailable:
			return "circuit_open"
		case apperr.KindExternalAPI:
			if appErr.Err != nil {
				return "connection_error"
			}
			return "provider_error"
		}
	}
	return "unknown"
}
