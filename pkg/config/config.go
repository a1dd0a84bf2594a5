package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all wingman configuration.
type Config struct {
	Listen       string                `yaml:"listen" toml:"listen"`
	Database     DatabaseConfig        `yaml:"database" toml:"database"`
	Log          LogConfig             `yaml:"log" toml:"log"`
	Server       ServerConfig          `yaml:"server" toml:"server"`
	Providers    []ProviderConfig      `yaml:"providers" toml:"providers"`
	Models       ModelsConfig          `yaml:"models" toml:"models"`
	ModelsFile   string                `yaml:"models_file" toml:"models_file"`
	Prompt       PromptConfig          `yaml:"prompt" toml:"prompt"`
	Cache        CacheConfig           `yaml:"cache" toml:"cache"`
	Orchestrator OrchestratorConfig    `yaml:"orchestrator" toml:"orchestrator"`
	Budget       BudgetConfig          `yaml:"budget" toml:"budget"`
	Audit        AuditConfig           `yaml:"audit" toml:"audit"`
	Pricing      []models.ModelPricing `yaml:"pricing" toml:"pricing"`
}

// DatabaseConfig selects the data store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// LogConfig controls zap output and file rotation.
type LogConfig struct {
	Level       string `yaml:"level" toml:"level"`
	Development bool   `yaml:"development" toml:"development"`
	File        string `yaml:"file" toml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" toml:"max_size_mb"`
	MaxBackups  int    `yaml:"max_backups" toml:"max_backups"`
	MaxAgeDays  int    `yaml:"max_age_days" toml:"max_age_days"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	BodyLimit       string        `yaml:"body_limit" toml:"body_limit"`
	ReadTimeout     time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// ProviderConfig defines an LLM backend.
// Type is "gemini", "openai" or "anthropic"; URL overrides the default endpoint.
type ProviderConfig struct {
	Name       string `yaml:"name" toml:"name"`
	Type       string `yaml:"type" toml:"type"`
	URL        string `yaml:"url" toml:"url"`
	APIKey     string `yaml:"api_key" toml:"api_key"`
	APIVersion string `yaml:"api_version" toml:"api_version"`
}

// ModelsConfig is the versioned models document. Chains maps a chain name
// ("wingman", "chat") to its ordered fallback list. A chain named
// "<name>_experimental" is used for the A/B share of traffic.
type ModelsConfig struct {
	Version  string                          `yaml:"version" toml:"version"`
	Updated  string                          `yaml:"updated" toml:"updated"`
	Defaults ChainEntry              `yaml:"defaults" toml:"defaults"`
	Chains   map[string][]ChainEntry `yaml:"chains" toml:"chains"`
	Features FeaturesConfig          `yaml:"features" toml:"features"`
}

// ChainEntry is a chain model as written in the models document. Nil
// sampling fields take the defaults; an explicit zero is kept.
type ChainEntry struct {
	Provider         models.ProviderType `yaml:"provider" toml:"provider"`
	Model            string              `yaml:"model" toml:"model"`
	Temperature      *float64            `yaml:"temperature" toml:"temperature"`
	MaxOutputTokens  *int                `yaml:"max_output_tokens" toml:"max_output_tokens"`
	PresencePenalty  *float64            `yaml:"presence_penalty" toml:"presence_penalty"`
	FrequencyPenalty *float64            `yaml:"frequency_penalty" toml:"frequency_penalty"`
}

// ModelConfig flattens the entry. Unset sampling fields become zero.
func (e ChainEntry) ModelConfig() models.ModelConfig {
	mc := models.ModelConfig{
		Provider:         e.Provider,
		Model:            e.Model,
		PresencePenalty:  e.PresencePenalty,
		FrequencyPenalty: e.FrequencyPenalty,
	}
	if e.Temperature != nil {
		mc.Temperature = *e.Temperature
	}
	if e.MaxOutputTokens != nil {
		mc.MaxOutputTokens = *e.MaxOutputTokens
	}
	return mc
}

// Float returns a pointer to v, for chain entries built in code.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// FeaturesConfig toggles optional behaviour.
type FeaturesConfig struct {
	EnableABTesting      bool `yaml:"enable_ab_testing" toml:"enable_ab_testing"`
	ABTestPercentage     int  `yaml:"ab_test_percentage" toml:"ab_test_percentage"`
	EnableMetricsLogging bool `yaml:"enable_metrics_logging" toml:"enable_metrics_logging"`
	EnablePromptCaching  bool `yaml:"enable_prompt_caching" toml:"enable_prompt_caching"`
}

// PromptConfig selects where system prompts come from.
// Source is "inline", "file" or "database".
type PromptConfig struct {
	Source   string            `yaml:"source" toml:"source"`
	Version  string            `yaml:"version" toml:"version"`
	File     string            `yaml:"file" toml:"file"`
	CacheTTL time.Duration     `yaml:"cache_ttl" toml:"cache_ttl"`
	Watch    bool              `yaml:"watch" toml:"watch"`
	Inline   map[string]string `yaml:"inline" toml:"inline"`
}

// CacheConfig controls the provider prompt cache. Store is "memory" or
// "sqlite"; Path is the handle database used by the sqlite store.
type CacheConfig struct {
	Enabled       bool          `yaml:"enabled" toml:"enabled"`
	TTL           time.Duration `yaml:"ttl" toml:"ttl"`
	Store         string        `yaml:"store" toml:"store"`
	Path          string        `yaml:"path" toml:"path"`
	PruneSchedule string        `yaml:"prune_schedule" toml:"prune_schedule"`
}

// OrchestratorConfig tunes retries and fallback.
type OrchestratorConfig struct {
	MaxRetriesPerModel        int           `yaml:"max_retries_per_model" toml:"max_retries_per_model"`
	BaseDelay                 time.Duration `yaml:"base_delay" toml:"base_delay"`
	CallTimeout               time.Duration `yaml:"call_timeout" toml:"call_timeout"`
	FallbackOnInvalidResponse bool          `yaml:"fallback_on_invalid_response" toml:"fallback_on_invalid_response"`
}

// BudgetConfig controls budget enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled" toml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies" toml:"policies"`
}

// AuditConfig controls the generation audit log. Include may name
// "prompts" and "responses"; without them only metadata is kept.
type AuditConfig struct {
	Enabled       bool     `yaml:"enabled" toml:"enabled"`
	RetentionDays int      `yaml:"retention_days" toml:"retention_days"`
	Include       []string `yaml:"include" toml:"include"`
	ExcludeModels []string `yaml:"exclude_models" toml:"exclude_models"`
	MaxBodySize   int      `yaml:"max_body_size" toml:"max_body_size"`
}

// Chain names used by the service.
const (
	ChainWingman = "wingman"
	ChainChat    = "chat"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "wingman.db",
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Server: ServerConfig{
			BodyLimit:       "1M",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Models: ModelsConfig{
			Version: "1",
			Defaults: ChainEntry{
				Temperature:     Float(0.9),
				MaxOutputTokens: Int(2000),
			},
			Chains: map[string][]ChainEntry{
				ChainWingman: {
					{Provider: models.ProviderGemini, Model: "gemini-2.5-flash"},
					{Provider: models.ProviderGemini, Model: "gemini-2.5-pro"},
					{Provider: models.ProviderGemini, Model: "gemini-2.0-flash"},
					{Provider: models.ProviderGemini, Model: "gemini-1.5-flash"},
				},
				ChainChat: {
					{Provider: models.ProviderGemini, Model: "gemini-2.0-flash", Temperature: Float(0.8), MaxOutputTokens: Int(300)},
					{Provider: models.ProviderGemini, Model: "gemini-1.5-flash", Temperature: Float(0.8), MaxOutputTokens: Int(300)},
				},
			},
			Features: FeaturesConfig{
				EnablePromptCaching: true,
			},
		},
		Prompt: PromptConfig{
			Source:   "inline",
			Version:  "inline",
			CacheTTL: time.Minute,
		},
		Cache: CacheConfig{
			Enabled:       true,
			TTL:           time.Hour,
			Store:         "memory",
			Path:          "wingman-cache.db",
			PruneSchedule: "@every 10m",
		},
		Orchestrator: OrchestratorConfig{
			MaxRetriesPerModel: 3,
			BaseDelay:          time.Second,
			CallTimeout:        30 * time.Second,
		},
		Audit: AuditConfig{
			RetentionDays: 30,
			MaxBodySize:   64 << 10,
		},
	}
}

// Load reads a YAML or TOML config file and expands environment variables.
// A models_file, when set, replaces the inline models document.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	if cfg.ModelsFile != "" {
		modelsPath := cfg.ModelsFile
		if !filepath.IsAbs(modelsPath) {
			modelsPath = filepath.Join(filepath.Dir(path), modelsPath)
		}
		doc := ModelsConfig{Defaults: cfg.Models.Defaults}
		if err := decodeFile(modelsPath, &doc); err != nil {
			return nil, fmt.Errorf("models file: %w", err)
		}
		cfg.Models = doc
	}

	return cfg, nil
}

func decodeFile(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(expanded, out); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(expanded), out); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	}
	return nil
}

// Provider returns the configured provider of the given type.
func (c *Config) Provider(typ models.ProviderType) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if models.ProviderType(p.Type) == typ {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

// Validate reports configuration that would make the service unusable: an
// empty chain, a chain entry whose provider is not configured, or a provider
// without credentials.
func (c *Config) Validate() error {
	var errs []error

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("database.driver %q: must be sqlite or postgres", c.Database.Driver))
	}

	switch c.Prompt.Source {
	case "inline", "database":
	case "file":
		if c.Prompt.File == "" {
			errs = append(errs, errors.New("prompt.file is required when prompt.source is file"))
		}
	default:
		errs = append(errs, fmt.Errorf("prompt.source %q: must be inline, file or database", c.Prompt.Source))
	}

	switch c.Cache.Store {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("cache.store %q: must be memory or sqlite", c.Cache.Store))
	}

	if c.Orchestrator.MaxRetriesPerModel < 1 {
		errs = append(errs, errors.New("orchestrator.max_retries_per_model must be at least 1"))
	}

	for _, inc := range c.Audit.Include {
		if inc != "prompts" && inc != "responses" {
			errs = append(errs, fmt.Errorf("audit.include %q: must be prompts or responses", inc))
		}
	}

	for _, name := range []string{ChainWingman, ChainChat} {
		if len(c.Models.Chains[name]) == 0 {
			errs = append(errs, fmt.Errorf("models.chains.%s: empty chain", name))
		}
	}

	for name, chain := range c.Models.Chains {
		for i, m := range chain {
			if m.Model == "" {
				errs = append(errs, fmt.Errorf("models.chains.%s[%d]: model is required", name, i))
			}
			typ := m.Provider
			if typ == "" {
				typ = models.InferProvider(m.Model)
			}
			if typ == "" {
				if m.Model != "" {
					errs = append(errs, fmt.Errorf("models.chains.%s[%d]: cannot infer provider for %q", name, i, m.Model))
				}
				continue
			}
			p, ok := c.Provider(typ)
			if !ok {
				errs = append(errs, fmt.Errorf("models.chains.%s[%d]: provider %q not configured", name, i, typ))
				continue
			}
			if p.APIKey == "" {
				errs = append(errs, fmt.Errorf("provider %q: missing api_key", p.Type))
			}
		}
	}

	return errors.Join(errs...)
}
