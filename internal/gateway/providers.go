package gateway

import (
	"llm-gateway/internal/apperr"
	"llm-gateway/models"
	"llm-gateway/services"
)

// ProviderSet holds the registered upstream adapters by name
type ProviderSet struct {
	providers map[models.LLMProvider]services.Provider
}

// NewProviderSet registers providers under their own names
func NewProviderSet(providers ...services.Provider) *ProviderSet {
	set := &ProviderSet{providers: make(map[models.LLMProvider]services.Provider, len(providers))}
	for _, p := range providers {
		set.providers[p.Name()] = p
	}
	return set
}

// Get returns the adapter registered for name
func (s *ProviderSet) Get(name models.LLMProvider) (services.Provider, bool) {
	p, ok := s.providers[name]
	return p, ok
}

// Select picks the adapter for a model. Every model routes to OpenAI.
// TODO: route by model family once a second adapter is registered.
func (s *ProviderSet) Select(model string) (services.Provider, error) {
	p, ok := s.providers[models.ProviderOpenAI]
	if !ok {
		return nil, apperr.Config("no provider registered for model " + model)
	}
	return p, nil
}
