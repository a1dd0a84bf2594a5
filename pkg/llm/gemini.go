package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/krishamaze/arin-bot-v2/pkg/config"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

// GeminiProvider calls the Gemini API and manages its context caches.
type GeminiProvider struct {
	client *genai.Client
	log    *zap.Logger
}

// NewGeminiProvider creates a Gemini client from provider config.
func NewGeminiProvider(ctx context.Context, pc config.ProviderConfig, log *zap.Logger) (*GeminiProvider, error) {
	cc := &genai.ClientConfig{
		APIKey:  pc.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if pc.URL != "" || pc.APIVersion != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: pc.URL, APIVersion: pc.APIVersion}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiProvider{client: client, log: log.Named("gemini")}, nil
}

func (g *GeminiProvider) Type() models.ProviderType { return models.ProviderGemini }

// Generate implements Provider.
func (g *GeminiProvider) Generate(ctx context.Context, req Request) (*Completion, error) {
	model := req.Model.Model
	resp, err := g.client.Models.GenerateContent(ctx, model, genai.Text(req.UserPrompt()), geminiConfig(req))
	if err != nil {
		return nil, geminiError(model, err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, &ProviderError{Provider: models.ProviderGemini, Model: model, Message: "empty response"}
	}

	usage := geminiUsage(resp.UsageMetadata)
	if usage.TotalTokens == 0 {
		usage = EstimateUsage(req.SystemPrompt+req.UserPrompt(), text)
	}
	return &Completion{Text: text, Model: model, Usage: usage}, nil
}

// Supports reports whether model can use context caching.
func (g *GeminiProvider) Supports(model string) bool {
	return strings.HasPrefix(strings.TrimPrefix(model, "models/"), "gemini-")
}

// CreateCache stores the system instruction and static content server side
// and returns the cache resource name.
func (g *GeminiProvider) CreateCache(ctx context.Context, model, systemPrompt, staticContent string, ttl time.Duration) (string, error) {
	cc, err := g.client.Caches.Create(ctx, model, &genai.CreateCachedContentConfig{
		TTL:         ttl,
		DisplayName: "wingman",
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: systemPrompt}},
		},
		Contents: []*genai.Content{{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: staticContent}},
		}},
	})
	if err != nil {
		return "", geminiError(model, err)
	}
	return cc.Name, nil
}

// CacheExists checks that a cache resource is still held by the backend.
func (g *GeminiProvider) CacheExists(ctx context.Context, model, ref string) (bool, error) {
	_, err := g.client.Caches.Get(ctx, ref, nil)
	if err == nil {
		return true, nil
	}
	if pe, ok := AsProviderError(geminiError(model, err)); ok &&
		(pe.StatusCode == http.StatusNotFound || pe.StatusCode == http.StatusForbidden) {
		return false, nil
	}
	return false, err
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	m := req.Model
	gc := &genai.GenerateContentConfig{
		Temperature:     f32(m.Temperature),
		MaxOutputTokens: int32(m.MaxOutputTokens),
	}
	if m.PresencePenalty != nil {
		gc.PresencePenalty = f32(*m.PresencePenalty)
	}
	if m.FrequencyPenalty != nil {
		gc.FrequencyPenalty = f32(*m.FrequencyPenalty)
	}
	if req.Schema != nil {
		gc.ResponseMIMEType = "application/json"
		gc.ResponseSchema = geminiSchema(req.Schema)
	}
	if req.Cache != nil {
		gc.CachedContent = req.Cache.Ref
	} else if req.SystemPrompt != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemPrompt}}}
	}
	return gc
}

func geminiSchema(s *Schema) *genai.Schema {
	if s == nil {
		return nil
	}
	out := &genai.Schema{
		Type:        geminiType(s.Type),
		Description: s.Description,
		Required:    s.Required,
		Enum:        s.Enum,
		Minimum:     s.Minimum,
		Maximum:     s.Maximum,
		Items:       geminiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = geminiSchema(v)
		}
	}
	return out
}

func geminiType(t string) genai.Type {
	switch t {
	case TypeObject:
		return genai.TypeObject
	case TypeArray:
		return genai.TypeArray
	case TypeInteger:
		return genai.TypeInteger
	case TypeNumber:
		return genai.TypeNumber
	case TypeBoolean:
		return genai.TypeBoolean
	default:
		return genai.TypeString
	}
}

func geminiUsage(md *genai.GenerateContentResponseUsageMetadata) models.Usage {
	if md == nil {
		return models.Usage{}
	}
	return models.Usage{
		PromptTokens:     int(md.PromptTokenCount),
		CompletionTokens: int(md.CandidatesTokenCount),
		TotalTokens:      int(md.TotalTokenCount),
		CachedTokens:     int(md.CachedContentTokenCount),
	}
}

func geminiError(model string, err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return NewStatusError(models.ProviderGemini, model, apiErr.Code, apiErr.Message, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return NewStatusError(models.ProviderGemini, model, apiErrPtr.Code, apiErrPtr.Message, err)
	}
	return classify(models.ProviderGemini, model, err)
}

func f32(v float64) *float32 {
	f := float32(v)
	return &f
}
