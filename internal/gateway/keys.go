package gateway

import (
	"context"
	"fmt"
	"time"

	"llm-gateway/config"
	"llm-gateway/internal/apperr"
	"llm-gateway/internal/background"
	"llm-gateway/models"
	"llm-gateway/observability"
)

// Credential sources
const (
	SourceExplicit    = "explicit"
	SourceDefault     = "default"
	SourceEnvironment = "environment"
)

// ResolvedKey is a decrypted provider secret ready for one upstream call
type ResolvedKey struct {
	KeyID  string
	Secret string
	Source string
}

// ProviderKeyService resolves which upstream secret a request uses
type ProviderKeyService struct {
	store       LLMKeyStore
	decrypter   Decrypter
	tasks       TaskSubmitter
	envFallback map[models.LLMProvider]string
	now         func() time.Time
}

// NewProviderKeyService creates the resolver. Process-level provider keys
// are only consulted when the config enables the fallback.
func NewProviderKeyService(store LLMKeyStore, decrypter Decrypter, tasks TaskSubmitter, cfg *config.Config) *ProviderKeyService {
	fallback := map[models.LLMProvider]string{}
	if cfg != nil && cfg.Provider.EnvFallback && cfg.Provider.OpenAIAPIKey != "" {
		fallback[models.ProviderOpenAI] = cfg.Provider.OpenAIAPIKey
	}
	return &ProviderKeyService{
		store:       store,
		decrypter:   decrypter,
		tasks:       tasks,
		envFallback: fallback,
		now:         time.Now,
	}
}

// Resolve picks the credential for project and provider. An explicit keyID
// wins; otherwise the project's default key for the provider is used.
func (s *ProviderKeyService) Resolve(ctx context.Context, project *models.Project, provider models.LLMProvider, keyID string) (*ResolvedKey, error) {
	if keyID != "" {
		return s.resolveExplicit(ctx, project, provider, keyID)
	}

	key, err := s.store.FindDefaultLLMAPIKey(ctx, project.ProjectID, provider)
	if err != nil {
		return nil, apperr.Internal("failed to look up provider key", err)
	}
	if key != nil {
		return s.open(key, SourceDefault)
	}

	if secret, ok := s.envFallback[provider]; ok {
		observability.WithContext(ctx).Debug("using environment provider key",
			"project_id", project.ProjectID,
			"provider", provider)
		return &ResolvedKey{Secret: secret, Source: SourceEnvironment}, nil
	}

	return nil, apperr.Config("No " + string(provider) + " API key configured for this project").
		WithCode(apperr.CodeMissingProviderKey)
}

func (s *ProviderKeyService) resolveExplicit(ctx context.Context, project *models.Project, provider models.LLMProvider, keyID string) (*ResolvedKey, error) {
	key, err := s.store.GetLLMAPIKey(ctx, keyID)
	if err != nil {
		return nil, apperr.Internal("failed to look up provider key", err)
	}
	// A key belonging to another project is reported exactly like a
	// missing one.
	if key == nil || key.ProjectID != project.ProjectID {
		return nil, apperr.NotFound("LLM API key not found")
	}
	if !key.IsActive {
		return nil, apperr.Authorization("LLM API key is inactive")
	}
	if key.Provider != provider {
		return nil, apperr.Validation(fmt.Sprintf("LLM API key %s is for provider %s, not %s", keyID, key.Provider, provider))
	}
	return s.open(key, SourceExplicit)
}

func (s *ProviderKeyService) open(key *models.LLMAPIKey, source string) (*ResolvedKey, error) {
	secret, err := s.decrypter.DecryptString(key.EncryptedKey)
	if err != nil {
		observability.Error("failed to decrypt provider key", "key_id", key.KeyID, "error", err)
		return nil, err
	}

	s.markUsed(key.KeyID)
	return &ResolvedKey{KeyID: key.KeyID, Secret: secret, Source: source}, nil
}

func (s *ProviderKeyService) markUsed(keyID string) {
	if s.tasks == nil {
		return
	}
	at := s.now()
	s.tasks.Submit(background.Task{
		Name: "llm_key_mark_used",
		Run: func(ctx context.Context) error {
			return s.store.MarkLLMAPIKeyUsed(ctx, keyID, at)
		},
	})
}
