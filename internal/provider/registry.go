package provider

import (
	"sort"

	"github.com/datakilde/varsel/internal/config"
	"github.com/datakilde/varsel/internal/provider/domain"
	"github.com/datakilde/varsel/internal/provider/httpapi"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Registry maps provider scopes to their collaborator implementations.
// Each scope runs against its own quota and its own orchestrator pass.
type Registry struct {
	providers map[string]domain.Provider
}

func NewRegistry(providers ...domain.Provider) *Registry {
	r := &Registry{providers: make(map[string]domain.Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scope()] = p
	}
	return r
}

func (r *Registry) Get(scope string) (domain.Provider, error) {
	p, ok := r.providers[scope]
	if !ok {
		return nil, domain.ErrUnknownScope
	}
	return p, nil
}

func (r *Registry) Scopes() []string {
	scopes := make([]string, 0, len(r.providers))
	for scope := range r.providers {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

var Module = fx.Module("provider",
	fx.Provide(NewFromConfig),
)

func NewFromConfig(cfg config.Config, tuning *config.TuningHolder, log *zap.Logger) *Registry {
	batchSize := tuning.Get().ProviderBatchSize
	providers := make([]domain.Provider, 0, len(cfg.Providers))
	for scope, baseURL := range cfg.Providers {
		providers = append(providers, httpapi.New(scope, baseURL, batchSize, log))
	}
	return NewRegistry(providers...)
}
