package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
	"llm-gateway/internal/auth"
	"llm-gateway/models"
	"llm-gateway/observability"
	"llm-gateway/repository"
	"llm-gateway/services"

	"github.com/go-chi/chi/v5/middleware"
)

// Version is reported by the health endpoints. Overridden at build time with
// -ldflags "-X llm-gateway/internal/api.Version=...".
var Version = "dev"

const serviceName = "llm-gateway"

// Transcriber runs an audio transcription for an authenticated project
type Transcriber interface {
	Transcribe(ctx context.Context, project *models.Project, req *models.TranscriptionRequest, meta models.RequestMetadata) (*models.TranscriptionResult, error)
}

// ChatCompleter runs a chat completion for an authenticated project
type ChatCompleter interface {
	Complete(ctx context.Context, project *models.Project, req *models.ChatCompletionRequest, meta models.RequestMetadata) (*models.ChatCompletionResult, error)
}

// HealthChecker reports database reachability
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Handler handles HTTP API requests
type Handler struct {
	cfg         *config.Config
	transcriber Transcriber
	chat        ChatCompleter
	db          HealthChecker
	dbProbe     *probeCache
	startedAt   time.Time
}

// NewHandler creates a new Handler
func NewHandler(cfg *config.Config, transcriber Transcriber, chat ChatCompleter, db HealthChecker) *Handler {
	return &Handler{
		cfg:         cfg,
		transcriber: transcriber,
		chat:        chat,
		db:          db,
		dbProbe:     newProbeCache(defaultProbeTTL),
		startedAt:   time.Now(),
	}
}

// HealthResponse is the liveness payload
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// DetailedHealthResponse adds dependency state to the liveness payload
type DetailedHealthResponse struct {
	HealthResponse
	Service         string                                   `json:"service"`
	UptimeSeconds   int64                                    `json:"uptime_seconds"`
	Environment     string                                   `json:"environment"`
	Services        map[string]string                        `json:"services"`
	CircuitBreakers map[string]services.CircuitBreakerStatus `json:"circuit_breakers"`
}

// ErrorBody is the payload of the error envelope
type ErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrorResponse is the error envelope returned by every endpoint
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// HandleHealth reports liveness only
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   Version,
	})
}

// HandleHealthDetailed reports database and circuit breaker state
func (h *Handler) HandleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	database := "not_configured"
	if h.db != nil {
		switch err := h.dbProbe.check(r.Context(), h.db.Health); {
		case err == nil:
			database = "connected"
		case errors.Is(err, repository.ErrNoDatabase):
		default:
			database = "disconnected"
			status = "degraded"
			observability.WithContext(r.Context()).Warn("database health check failed", "error", err)
		}
	}

	breakers := services.GetGlobalRegistry().Status()
	for _, cb := range breakers {
		if cb.State == "open" {
			status = "degraded"
			break
		}
	}

	h.jsonResponse(w, DetailedHealthResponse{
		HealthResponse: HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC(),
			Version:   Version,
		},
		Service:         serviceName,
		UptimeSeconds:   int64(time.Since(h.startedAt).Seconds()),
		Environment:     h.cfg.Environment,
		Services:        map[string]string{"database": database},
		CircuitBreakers: breakers,
	})
}

// writeError renders err as the error envelope. Server-side failures are
// logged with their cause; the client only sees the generic message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.As(err)
	status := appErr.StatusCode()

	log := observability.WithContext(r.Context()).With("method", r.Method, "path", r.URL.Path, "kind", appErr.Kind)
	if p := auth.ProjectFromContext(r.Context()); p != nil {
		log = log.With("project_id", p.ProjectID)
	}
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "error", err)
	} else {
		log.Debug("request rejected", "status", status, "error", err)
	}

	h.jsonStatus(w, status, ErrorResponse{Error: ErrorBody{
		Type:    appErr.PublicType(),
		Code:    appErr.PublicCode(),
		Message: appErr.PublicMessage(),
	}})
}

func (h *Handler) jsonResponse(w http.ResponseWriter, data interface{}) {
	h.jsonStatus(w, http.StatusOK, data)
}

func (h *Handler) jsonStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		observability.Warn("failed to encode response", "error", err)
	}
}

// requestMetadata captures the request facts recorded with each usage entry
func requestMetadata(r *http.Request) models.RequestMetadata {
	return models.RequestMetadata{
		RequestID: middleware.GetReqID(r.Context()),
		Method:    r.Method,
		Path:      r.URL.Path,
		IPAddress: r.RemoteAddr,
		UserAgent: r.UserAgent(),
	}
}

// projectOrReject returns the authenticated project, writing a 401 when the
// auth middleware did not run.
func (h *Handler) projectOrReject(w http.ResponseWriter, r *http.Request) *models.Project {
	project := auth.ProjectFromContext(r.Context())
	if project == nil {
		h.writeError(w, r, apperr.Authentication("invalid API key"))
	}
	return project
}

// bodyError maps a failed body read, turning MaxBytesReader overflows into 413
func bodyError(err error, what string) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return apperr.New(apperr.KindPayloadTooLarge, "request body too large")
	}
	return apperr.BadRequest("failed to read " + what + ": " + err.Error())
}
