package llm

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"chatstream/internal/domain"
	"chatstream/internal/infra/config"
)

// Registry holds named LLM providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.LLMProvider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]domain.LLMProvider),
	}
}

// Register adds a provider. Returns error if name already registered.
func (r *Registry) Register(provider domain.LLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = provider
	return nil
}

// Get retrieves a provider by name.
func (r *Registry) Get(name string) (domain.LLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns all registered provider names, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BuildRegistry constructs providers from config, wraps each in a circuit
// breaker, and registers them by name.
func BuildRegistry(cfgs []config.ProviderConfig, logger *slog.Logger) (*Registry, error) {
	registry := NewRegistry()

	for _, cfg := range cfgs {
		var (
			provider domain.LLMProvider
			err      error
		)

		switch cfg.Type {
		case "openai":
			provider = NewOpenAIProvider(cfg, logger)
		case "anthropic":
			provider = NewAnthropicProvider(cfg, logger)
		case "bedrock":
			provider, err = NewBedrockProvider(cfg, logger)
		default:
			return nil, fmt.Errorf("unknown provider type %q for %q", cfg.Type, cfg.Name)
		}
		if err != nil {
			return nil, fmt.Errorf("build provider %q: %w", cfg.Name, err)
		}

		wrapped := NewCircuitBreakerProvider(provider, cfg.Breaker, logger)
		if err := registry.Register(wrapped); err != nil {
			return nil, err
		}

		logger.Info("llm provider registered",
			"name", cfg.Name,
			"type", cfg.Type,
			"model", cfg.Model,
		)
	}

	return registry, nil
}
