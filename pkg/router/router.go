package router

import (
	"fmt"
	"hash/fnv"
	"sort"

	"dario.cat/mergo"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// ExperimentalSuffix marks the chain served to the A/B share of users.
const ExperimentalSuffix = "_experimental"

// Router resolves chain names to ordered model lists. Chains are resolved
// once at construction and copied on every lookup.
type Router struct {
	chains   map[string][]models.ModelConfig
	features config.FeaturesConfig
}

// New resolves every configured chain, filling unset fields from the models
// document defaults and inferring providers from model names.
func New(cfg *config.Config) (*Router, error) {
	r := &Router{
		chains:   make(map[string][]models.ModelConfig, len(cfg.Models.Chains)),
		features: cfg.Models.Features,
	}

	for name, entries := range cfg.Models.Chains {
		resolved := make([]models.ModelConfig, 0, len(entries))
		for i, e := range entries {
			// pointers are not dereferenced, so an explicit zero is kept
			if err := mergo.Merge(&e, cfg.Models.Defaults, mergo.WithoutDereference); err != nil {
				return nil, fmt.Errorf("chain %s[%d]: %w", name, i, err)
			}
			if e.Provider == "" {
				e.Provider = models.InferProvider(e.Model)
			}
			if e.Provider == "" {
				return nil, fmt.Errorf("chain %s[%d]: cannot infer provider for %q", name, i, e.Model)
			}
			resolved = append(resolved, e.ModelConfig())
		}
		r.chains[name] = resolved
	}
	return r, nil
}

// Chain returns the named chain.
func (r *Router) Chain(name string) ([]models.ModelConfig, error) {
	chain, ok := r.chains[name]
	if !ok || len(chain) == 0 {
		return nil, fmt.Errorf("chain %q not configured", name)
	}
	return append([]models.ModelConfig(nil), chain...), nil
}

// ChainFor returns the chain to use for a user. With A/B testing enabled, a
// stable ab_test_percentage share of users gets "<name>_experimental".
func (r *Router) ChainFor(name, userID string) ([]models.ModelConfig, error) {
	if r.features.EnableABTesting && userID != "" {
		if _, ok := r.chains[name+ExperimentalSuffix]; ok && Bucket(userID) < r.features.ABTestPercentage {
			return r.Chain(name + ExperimentalSuffix)
		}
	}
	return r.Chain(name)
}

// Names lists configured chains in sorted order.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.chains))
	for n := range r.chains {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Bucket maps a user id onto 0..99.
func Bucket(userID string) int {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return int(h.Sum32() % 100)
}
