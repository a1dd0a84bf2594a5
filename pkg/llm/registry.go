package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Registry maps provider types to their clients. It is built once at boot
// and read-only afterwards.
type Registry struct {
	providers map[models.ProviderType]Provider
}

// NewRegistry creates a Registry from already constructed providers.
func NewRegistry(ps ...Provider) *Registry {
	r := &Registry{providers: make(map[models.ProviderType]Provider, len(ps))}
	for _, p := range ps {
		r.providers[p.Type()] = p
	}
	return r
}

// FromConfig builds a provider for every configured backend.
func FromConfig(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	for _, pc := range cfg.Providers {
		switch models.ProviderType(pc.Type) {
		case models.ProviderGemini:
			g, err := NewGeminiProvider(ctx, pc, log)
			if err != nil {
				return nil, fmt.Errorf("provider %s: %w", pc.Name, err)
			}
			r.providers[models.ProviderGemini] = g
		case models.ProviderOpenAI:
			r.providers[models.ProviderOpenAI] = NewOpenAIProvider(pc, log)
		case models.ProviderAnthropic:
			r.providers[models.ProviderAnthropic] = NewAnthropicProvider(pc, log)
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", pc.Name, pc.Type)
		}
	}
	return r, nil
}

// Get returns the provider for typ.
func (r *Registry) Get(typ models.ProviderType) (Provider, error) {
	p, ok := r.providers[typ]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", typ)
	}
	return p, nil
}
