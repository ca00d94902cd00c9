// Package mocks provides an HTTP mock of the OpenAI API for E2E tests.
package mocks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockServer answers chat completion and transcription calls with
// configurable responses.
type MockServer struct {
	mu     sync.RWMutex
	server *httptest.Server

	// Response configurations
	chatResponse          ChatCompletion
	transcriptionResponse Transcription
	plainTranscription    string

	// Error injection
	chatError          *UpstreamError
	transcriptionError *UpstreamError

	// Request tracking for assertions
	requestLog []RequestLog
}

// RequestLog records incoming requests for test assertions.
type RequestLog struct {
	Method        string
	Path          string
	Authorization string
	ContentType   string
	Fields        map[string]string
	FileSize      int
	Body          string
}

// NewMockServer creates a new mock server with default responses.
func NewMockServer() *MockServer {
	m := &MockServer{
		requestLog: make([]RequestLog, 0),
	}
	m.setDefaults()
	m.server = httptest.NewServer(m)
	return m
}

// URL returns the base URL to configure as OPENAI_BASE_URL.
func (m *MockServer) URL() string {
	return m.server.URL + "/v1"
}

// Close shuts down the mock server.
func (m *MockServer) Close() {
	m.server.Close()
}

// ServeHTTP routes requests to the mocked endpoints.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry := RequestLog{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
		ContentType:   r.Header.Get("Content-Type"),
	}

	switch {
	case strings.HasSuffix(r.URL.Path, "/chat/completions"):
		body, _ := io.ReadAll(r.Body)
		entry.Body = string(body)
		m.record(entry)
		m.handleChat(w, body)
	case strings.HasSuffix(r.URL.Path, "/audio/transcriptions"):
		entry.Fields, entry.FileSize = readMultipart(r)
		m.record(entry)
		m.handleTranscription(w, entry.Fields["response_format"])
	default:
		m.record(entry)
		http.Error(w, "not found", http.StatusNotFound)
	}
}

func (m *MockServer) record(entry RequestLog) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = append(m.requestLog, entry)
}

func readMultipart(r *http.Request) (map[string]string, int) {
	fields := map[string]string{}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return fields, 0
	}
	for k, v := range r.MultipartForm.Value {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}
	size := 0
	if files := r.MultipartForm.File["file"]; len(files) > 0 {
		size = int(files[0].Size)
		fields["filename"] = files[0].Filename
	}
	return fields, size
}

func (m *MockServer) handleChat(w http.ResponseWriter, body []byte) {
	m.mu.RLock()
	upstreamErr := m.chatError
	resp := m.chatResponse
	m.mu.RUnlock()

	if upstreamErr != nil {
		writeRaw(w, upstreamErr.Status, upstreamErr.Body)
		return
	}

	var req struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &req); err == nil && req.Model != "" {
		resp.Model = req.Model
	}
	resp.Created = time.Now().Unix()
	writeJSON(w, resp)
}

func (m *MockServer) handleTranscription(w http.ResponseWriter, format string) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.transcriptionError != nil {
		writeRaw(w, m.transcriptionError.Status, m.transcriptionError.Body)
		return
	}

	switch format {
	case "text", "srt", "vtt":
		w.Header().Set("Content-Type", "text/plain")
		io.WriteString(w, m.plainTranscription)
	default:
		writeJSON(w, m.transcriptionResponse)
	}
}

// GetRequestLog returns all logged requests for assertions.
func (m *MockServer) GetRequestLog() []RequestLog {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]RequestLog{}, m.requestLog...)
}

// ClearRequestLog clears the request log.
func (m *MockServer) ClearRequestLog() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestLog = make([]RequestLog, 0)
}

// SetChatResponse configures the chat completion body.
func (m *MockServer) SetChatResponse(resp ChatCompletion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatResponse = resp
}

// SetChatError makes chat completions fail with the given status and body.
func (m *MockServer) SetChatError(err *UpstreamError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatError = err
}

// SetTranscriptionResponse configures the JSON transcription body.
func (m *MockServer) SetTranscriptionResponse(resp Transcription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcriptionResponse = resp
}

// SetTranscriptionError makes transcriptions fail with the given status and body.
func (m *MockServer) SetTranscriptionError(err *UpstreamError) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transcriptionError = err
}

// Reset restores default responses and clears injected errors.
func (m *MockServer) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chatError = nil
	m.transcriptionError = nil
	m.requestLog = make([]RequestLog, 0)
	m.setDefaultsLocked()
}

func (m *MockServer) setDefaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setDefaultsLocked()
}

func (m *MockServer) setDefaultsLocked() {
	m.chatResponse = ChatCompletion{
		ID:     "chatcmpl-mock",
		Object: "chat.completion",
		Model:  "gpt-4",
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ChatMessage{Role: "assistant", Content: "Hello from the mock."},
			FinishReason: "stop",
		}},
		Usage: ChatUsage{PromptTokens: 1000, CompletionTokens: 500, TotalTokens: 1500},
	}
	m.transcriptionResponse = Transcription{
		Text:     "The quick brown fox jumps over the lazy dog.",
		Language: "english",
		Duration: 60,
		Segments: []TranscriptionSegment{
			{ID: 0, Start: 0, End: 60, Text: "The quick brown fox jumps over the lazy dog."},
		},
	}
	m.plainTranscription = "1\n00:00:00,000 --> 00:01:00,000\nThe quick brown fox jumps over the lazy dog.\n"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, body string) {
	if strings.HasPrefix(strings.TrimSpace(body), "{") {
		w.Header().Set("Content-Type", "application/json")
	} else {
		w.Header().Set("Content-Type", "text/html")
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}
