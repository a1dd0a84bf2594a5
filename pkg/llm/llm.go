// Package llm adapts LLM backends to a single Provider interface.
package llm

import (
	"context"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// Request is one generation call. When Cache is set, the system prompt and
// the static content are already bound to the cached content and are not
// sent again.
type Request struct {
	SystemPrompt  string
	StaticPrompt  string
	DynamicPrompt string
	Model         models.ModelConfig
	Cache         *models.CacheHandle
	Schema        *Schema
}

// UserPrompt is the user turn sent to the backend.
func (r Request) UserPrompt() string {
	if r.Cache != nil || r.StaticPrompt == "" {
		return r.DynamicPrompt
	}
	return r.StaticPrompt + "\n\n" + r.DynamicPrompt
}

// Completion is the backend-neutral result of a generation call.
type Completion struct {
	Text  string
	Model string
	Usage models.Usage
}

// Provider generates text from one backend family.
type Provider interface {
	Type() models.ProviderType
	Generate(ctx context.Context, req Request) (*Completion, error)
}
