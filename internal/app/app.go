package app

import (
	"context"
	"fmt"
	"net/http"

	"llm-gateway/config"
	"llm-gateway/internal/api"
	"llm-gateway/internal/auth"
	"llm-gateway/internal/background"
	"llm-gateway/internal/gateway"
	"llm-gateway/internal/vault"
	"llm-gateway/observability"
	"llm-gateway/repository"
	"llm-gateway/services"
)

// Store is every persistence operation the gateway needs. The pgx
// repository satisfies it; tests supply in-memory fakes.
type Store interface {
	auth.KeyStore
	auth.ProjectStore
	gateway.LLMKeyStore
	gateway.UsageStore
	gateway.TranscriptionStore
	Health(ctx context.Context) error
	Close()
}

// App holds the wired gateway
type App struct {
	cfg           *config.Config
	store         Store
	vault         *vault.Vault
	tasks         *background.Dispatcher
	authenticator *auth.Authenticator
	transcription *gateway.TranscriptionService
	chat          *gateway.ChatService
}

// New wires the gateway. With no providers given, the OpenAI adapter is
// built from cfg.
func New(cfg *config.Config, store Store, providers ...services.Provider) (*App, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}

	v, err := vault.New(vault.Config{
		PrimaryKey:   cfg.Encryption.Key,
		PrimaryKeyID: cfg.Encryption.KeyID,
		PreviousKeys: cfg.Encryption.PreviousKeys,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise credential vault: %w", err)
	}

	services.SetGlobalRegistry(services.NewCircuitBreakerRegistry(
		services.CircuitBreakerConfigFrom(cfg.CircuitBreaker)))

	if len(providers) == 0 {
		providers = []services.Provider{services.NewOpenAIProvider(cfg)}
	}

	taskCfg := background.ConfigFrom(cfg.Usage)
	taskCfg.Retryable = func(err error) bool { return !repository.IsPermanent(err) }
	tasks := background.NewDispatcher(taskCfg)
	providerSet := gateway.NewProviderSet(providers...)
	keys := gateway.NewProviderKeyService(store, v, tasks, cfg)

	return &App{
		cfg:           cfg,
		store:         store,
		vault:         v,
		tasks:         tasks,
		authenticator: auth.NewAuthenticator(store, store, v, tasks),
		transcription: gateway.NewTranscriptionService(providerSet, keys, store, store, tasks),
		chat:          gateway.NewChatService(providerSet, keys, store, tasks),
	}, nil
}

// Startup starts the background workers
func (a *App) Startup(ctx context.Context) {
	a.tasks.Start()
	observability.Info("gateway started",
		"environment", a.cfg.Environment,
		"usage_workers", a.cfg.Usage.Workers,
		"usage_queue_size", a.cfg.Usage.QueueSize,
		"vault_key_id", a.vault.KeyID())
}

// Shutdown drains queued usage writes, then closes the store. Writes still
// queued when ctx expires are lost. If the drain times out the store stays
// open so workers still running do not write to a closed pool.
func (a *App) Shutdown(ctx context.Context) error {
	pending := a.tasks.Pending()
	if err := a.tasks.Shutdown(ctx); err != nil {
		observability.Warn("background drain incomplete, leaving store open",
			"error", err,
			"pending_at_start", pending)
		return err
	}
	a.store.Close()
	return nil
}

// Router builds the HTTP surface
func (a *App) Router() http.Handler {
	h := api.NewHandler(a.cfg, a.transcription, a.chat, a.store)
	return api.NewRouter(h, a.authenticator, a.cfg)
}

// Authenticator returns the bearer-token gate
func (a *App) Authenticator() *auth.Authenticator {
	return a.authenticator
}

// Transcription returns the transcription use case
func (a *App) Transcription() *gateway.TranscriptionService {
	return a.transcription
}

// Chat returns the chat completion use case
func (a *App) Chat() *gateway.ChatService {
	return a.chat
}

// Vault returns the credential vault
func (a *App) Vault() *vault.Vault {
	return a.vault
}
